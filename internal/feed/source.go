// Package feed lists candidate product identifiers from the catalog API.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
)

// DetailsPath is the catalog endpoint returning basic product details.
const DetailsPath = "/products/v0/details-normal"

// Config controls where the feed is read from and which ids are kept.
type Config struct {
	APIBaseURL string
	// MinProductID excludes every numeric id <= this bound.
	MinProductID int64
}

// Source implements crawler.IdentifierSource over the catalog details feed.
type Source struct {
	cfg    Config
	getter crawler.PageGetter
	logger *zap.Logger
}

type detailsEntry struct {
	Basic struct {
		ProductID json.RawMessage `json:"productId"`
	} `json:"basic"`
}

// New builds a Source that issues requests through getter.
func New(cfg Config, getter crawler.PageGetter, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, getter: getter, logger: logger}
}

// FeedURL returns the address of the first feed page.
func (s *Source) FeedURL() string {
	return strings.TrimRight(s.cfg.APIBaseURL, "/") + DetailsPath + "?" + url.Values{"start": {"0"}}.Encode()
}

// ListIdentifiers fetches the first feed page and returns its product ids,
// filtered by the numeric lower bound and deduplicated with the first
// occurrence kept.
func (s *Source) ListIdentifiers(ctx context.Context) ([]crawler.ProductID, error) {
	target := s.FeedURL()
	page, err := s.getter.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetch identifier feed: %w", err)
	}

	var entries []detailsEntry
	if err := json.Unmarshal(page.Body, &entries); err != nil {
		return nil, fmt.Errorf("decode identifier feed %s: %w", target, err)
	}

	seen := make(map[crawler.ProductID]struct{}, len(entries))
	ids := make([]crawler.ProductID, 0, len(entries))
	var filtered, duplicates int
	for _, entry := range entries {
		raw := productIDText(entry.Basic.ProductID)
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= s.cfg.MinProductID {
			filtered++
			continue
		}
		id := crawler.ProductID(raw)
		if _, dup := seen[id]; dup {
			duplicates++
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	s.logger.Info("identifier feed loaded",
		zap.Int("entries", len(entries)),
		zap.Int("identifiers", len(ids)),
		zap.Int("filtered", filtered),
		zap.Int("duplicates", duplicates),
	)
	return ids, nil
}

// productIDText accepts the id as a JSON string or number.
func productIDText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return string(raw)
}
