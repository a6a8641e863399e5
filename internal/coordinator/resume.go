package coordinator

import (
	"fmt"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
)

// Plan selects the identifiers a run must process. A fresh run takes every
// identifier. A resumed run continues after the last stored record's code and
// skips identifiers already in the store; an empty store resumes from the
// start. When the last stored code is not in ids the run cannot be resumed.
func Plan(ids []crawler.ProductID, stored []product.Record, resume bool) ([]crawler.ProductID, error) {
	if !resume || len(stored) == 0 {
		return append([]crawler.ProductID(nil), ids...), nil
	}
	last := crawler.ProductID(stored[len(stored)-1].Code)
	start := -1
	for i, id := range ids {
		if id == last {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: last stored code %s", crawler.ErrResumePosition, last)
	}
	have := make(map[crawler.ProductID]struct{}, len(stored))
	for _, rec := range stored {
		have[crawler.ProductID(rec.Code)] = struct{}{}
	}
	pending := make([]crawler.ProductID, 0, len(ids)-start)
	for _, id := range ids[start:] {
		if _, ok := have[id]; ok {
			continue
		}
		pending = append(pending, id)
	}
	return pending, nil
}
