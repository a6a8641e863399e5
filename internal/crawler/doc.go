// Package crawler defines the contracts shared by the crawl pipeline: the
// identifier, page and result types, the error taxonomy, and the interfaces
// implemented by the fetcher, extractor, normalizer, record store and queue.
package crawler
