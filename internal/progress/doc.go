// Package progress carries crawl run progress from the coordinator to
// pluggable sinks. Events are batched on a background goroutine so emitting
// never blocks the crawl.
package progress
