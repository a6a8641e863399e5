// Package store declares the persistence contracts for crawl run history.
// Implementations live in other packages; this package must not import
// database drivers.
package store
