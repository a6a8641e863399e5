// Package crawler defines core types shared across subsystems.
package crawler

import (
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
)

// ProductID identifies one catalog entry at the source.
type ProductID string

// String implements fmt.Stringer.
func (id ProductID) String() string {
	return string(id)
}

// ItemState is the lifecycle state of a single identifier in a crawl run.
type ItemState string

// Per-identifier states. Saved, Skipped and Failed are terminal.
const (
	StatePending     ItemState = "pending"
	StateFetching    ItemState = "fetching"
	StateExtracting  ItemState = "extracting"
	StateNormalizing ItemState = "normalizing"
	StateSaved       ItemState = "saved"
	StateSkipped     ItemState = "skipped"
	StateFailed      ItemState = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s ItemState) Terminal() bool {
	switch s {
	case StateSaved, StateSkipped, StateFailed:
		return true
	default:
		return false
	}
}

// RawPage is the fetched content of one page. It lives for a single
// fetch-extract cycle and is never persisted.
type RawPage struct {
	ID         ProductID
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Charset returns the charset declared in the Content-Type header, lowercased,
// or "" when none was declared.
func (p RawPage) Charset() string {
	if p.Headers == nil {
		return ""
	}
	ct := p.Headers.Get("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

// ExtractionKind classifies the outcome of field extraction.
type ExtractionKind string

// Extraction outcomes. NotAProduct and NoData are both treated as skips.
const (
	KindProduct     ExtractionKind = "product"
	KindNotAProduct ExtractionKind = "not_a_product"
	KindNoData      ExtractionKind = "no_data"
)

// Extraction is the result of running the field extractor over a RawPage.
type Extraction struct {
	Kind   ExtractionKind
	Draft  *product.Draft
	Reason string
}

// Found reports whether the extraction produced a product draft.
func (e Extraction) Found() bool {
	return e.Kind == KindProduct && e.Draft != nil
}

// Result is what a worker reports back to the coordinator for one identifier.
type Result struct {
	ID       ProductID
	State    ItemState
	Record   *product.Record
	Err      error
	Attempts int
	Duration time.Duration
}
