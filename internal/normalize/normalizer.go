// Package normalize turns extractor drafts into durable product records:
// it repairs mis-decoded text, parses the package size, resolves the page
// URL and stamps provenance.
package normalize

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
)

// Normalizer implements crawler.Normalizer.
type Normalizer struct {
	baseURL *url.URL
	clock   crawler.Clock
}

// New builds a Normalizer resolving relative URLs against baseURL.
func New(baseURL string, clock crawler.Clock) (*Normalizer, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Normalizer{baseURL: base, clock: clock}, nil
}

// Normalize converts a draft into a record. Drafts flagged LegacyDecoded are
// repaired first; any field that does not survive the repair fails the whole
// draft with *crawler.EncodingError.
func (n *Normalizer) Normalize(draft product.Draft) (product.Record, error) {
	if draft.LegacyDecoded {
		repaired, err := Repair(draft)
		if err != nil {
			return product.Record{}, err
		}
		draft = repaired
	}

	size := strings.TrimSpace(draft.Data.Size)
	if size == "" {
		size = draft.SizeText
	}
	liters, err := product.ParseSize(size)
	if err != nil {
		return product.Record{}, fmt.Errorf("normalize %s: %w", draft.Code, err)
	}

	name := strings.TrimSpace(draft.Data.Name)
	if name == "" {
		name = draft.HeadingName
	}

	rec := product.Record{
		SchemaVersion:          product.SchemaVersion,
		Code:                   draft.Code,
		Name:                   name,
		Description:            draft.Data.Description,
		Summary:                draft.Taste,
		URL:                    n.resolve(draft.Data.URL, draft.PageURL),
		Image:                  string(draft.Data.Image),
		Country:                string(draft.Data.CountryOfOrigin),
		Color:                  draft.Data.Color,
		Keywords:               append([]string(nil), draft.Data.Keywords...),
		Size:                   size,
		VolumeLiters:           liters,
		ABV:                    draft.AlcoholPercent,
		SugarGramsPerLiter:     draft.SugarGramsPerLiter,
		DisplayedPricePerLiter: draft.DisplayedPricePerLiter,
		Expired:                draft.Expired,
		FetchedAt:              n.clock.Now().UTC(),
	}
	if draft.Data.Brand != nil {
		rec.Brand = draft.Data.Brand.Name
	}
	if draft.Data.Offers != nil {
		rec.Price = float64(draft.Data.Offers.Price)
		rec.Currency = draft.Data.Offers.PriceCurrency
	}
	return rec, nil
}

// resolve makes ref absolute against the base URL, falling back to the page
// address when the block carries no URL.
func (n *Normalizer) resolve(ref, pageURL string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return pageURL
	}
	u, err := url.Parse(ref)
	if err != nil {
		return pageURL
	}
	return n.baseURL.ResolveReference(u).String()
}

// Repair reverses a legacy single-byte decode: every text field is encoded
// back to ISO-8859-1 and the bytes read again as UTF-8. The input is not
// modified.
func Repair(draft product.Draft) (product.Draft, error) {
	r := repairer{}
	out := draft

	out.Code = r.text("code", draft.Code)
	out.PageURL = r.text("page_url", draft.PageURL)
	out.HeadingName = r.text("heading_name", draft.HeadingName)
	out.Taste = r.text("taste", draft.Taste)
	out.SizeText = r.text("size_text", draft.SizeText)
	out.Data = r.structured(draft.Data)
	out.LegacyDecoded = false

	if r.err != nil {
		return product.Draft{}, r.err
	}
	return out, nil
}

// repairer records the first failing field and leaves later fields alone.
type repairer struct {
	err error
}

func (r *repairer) text(field, s string) string {
	if r.err != nil || s == "" {
		return s
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		r.err = &crawler.EncodingError{Field: field, Err: err}
		return s
	}
	if !utf8.ValidString(raw) {
		r.err = &crawler.EncodingError{Field: field, Err: fmt.Errorf("bytes are not valid UTF-8")}
		return s
	}
	return raw
}

func (r *repairer) structured(data product.StructuredData) product.StructuredData {
	out := data
	out.Type = r.text("@type", data.Type)
	out.Name = r.text("name", data.Name)
	out.Description = r.text("description", data.Description)
	out.Image = product.FlexString(r.text("image", string(data.Image)))
	out.URL = r.text("url", data.URL)
	out.Size = r.text("size", data.Size)
	out.CountryOfOrigin = product.FlexString(r.text("countryOfOrigin", string(data.CountryOfOrigin)))
	out.Color = r.text("color", data.Color)
	if data.Keywords != nil {
		out.Keywords = make(product.FlexStrings, len(data.Keywords))
		for i, kw := range data.Keywords {
			out.Keywords[i] = r.text("keywords", kw)
		}
	}
	if data.Offers != nil {
		offer := *data.Offers
		offer.Type = r.text("offers.@type", offer.Type)
		offer.PriceCurrency = r.text("offers.priceCurrency", offer.PriceCurrency)
		out.Offers = &offer
	}
	if data.Brand != nil {
		brand := *data.Brand
		brand.Type = r.text("brand.@type", brand.Type)
		brand.Name = r.text("brand.name", brand.Name)
		out.Brand = &brand
	}
	return out
}
