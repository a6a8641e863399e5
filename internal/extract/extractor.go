// Package extract pulls product fields out of a fetched detail page: the
// embedded JSON-LD Product block plus a handful of HTML fragments the block
// does not carry.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/charmap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
)

// UnknownName is the name sentinel used when neither the structured block
// nor the page heading carries one.
const UnknownName = "Unknown"

var (
	alcoholPattern       = regexp.MustCompile(`<strong>Alkohol</strong> <span aria-label="(\d+(?:,\d+)?) prosent">`)
	pricePerLiterPattern = regexp.MustCompile(`<span aria-label="(\d+(?:,\d+)?) kroner og (\d+) (?:øre|Ã¸re) per liter">`)
	sugarPattern         = regexp.MustCompile(`<strong>Sukker</strong> <span aria-label="(\d+(?:,\d+)?) gram per liter">`)
	tastePattern         = regexp.MustCompile(`<span>Smak</span><span>(.*?)</span>`)
	sizePattern          = regexp.MustCompile(`<span class="amount" aria-label="(\d+) centiliter">(\d+) cl</span>`)
	headingPattern       = regexp.MustCompile(`<h1 class="product__name">(.*?)</h1>`)
)

// expiredMarkers are the discontinued markers in both correctly decoded and
// legacy-decoded form.
var expiredMarkers = []string{"Utgått", "UtgÃ¥tt"}

// Extractor implements crawler.Extractor. It is stateless and safe for
// concurrent use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract classifies the page and, for products, returns a draft. Each HTML
// fragment is matched independently; a miss leaves its sentinel in place.
func (e *Extractor) Extract(page crawler.RawPage) crawler.Extraction {
	text, legacy := decodeBody(page)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return crawler.Extraction{Kind: crawler.KindNoData, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	data, reason, ok := structuredData(doc)
	if !ok {
		return crawler.Extraction{Kind: crawler.KindNoData, Reason: reason}
	}
	if data.Brand == nil || strings.TrimSpace(data.Brand.Name) == "" {
		return crawler.Extraction{Kind: crawler.KindNotAProduct, Reason: "structured data has no brand"}
	}
	if data.Offers == nil {
		return crawler.Extraction{Kind: crawler.KindNotAProduct, Reason: "structured data has no offer"}
	}

	draft := &product.Draft{
		Code:          page.ID.String(),
		PageURL:       page.URL,
		Data:          data,
		LegacyDecoded: legacy,
	}
	applyFragments(draft, doc, text)
	return crawler.Extraction{Kind: crawler.KindProduct, Draft: draft}
}

// decodeBody returns the body as text. Bodies without a declared charset are
// read as ISO-8859-1, the HTTP default, and flagged for repair.
func decodeBody(page crawler.RawPage) (string, bool) {
	if page.Charset() != "" {
		return string(page.Body), false
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(page.Body)
	if err != nil {
		return string(page.Body), false
	}
	return string(decoded), true
}

// structuredData picks the first JSON-LD block typed Product, falling back to
// the first block on the page.
func structuredData(doc *goquery.Document) (product.StructuredData, string, bool) {
	var blocks []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, s.Text())
	})
	if len(blocks) == 0 {
		return product.StructuredData{}, "no structured data block", false
	}

	for _, block := range blocks {
		for _, candidate := range decodeBlock(block) {
			if strings.EqualFold(candidate.Type, "Product") {
				return candidate, "", true
			}
		}
	}

	first := decodeBlock(blocks[0])
	if len(first) == 0 {
		return product.StructuredData{}, "structured data block is not valid JSON", false
	}
	return first[0], "", true
}

// decodeBlock decodes a JSON-LD block holding one object or an array of
// objects. Undecodable input yields no candidates.
func decodeBlock(block string) []product.StructuredData {
	raw := bytes.TrimSpace([]byte(block))
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		out := make([]product.StructuredData, 0, len(items))
		for _, item := range items {
			var data product.StructuredData
			if err := json.Unmarshal(item, &data); err == nil {
				out = append(out, data)
			}
		}
		return out
	}
	var data product.StructuredData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return []product.StructuredData{data}
}

func applyFragments(draft *product.Draft, doc *goquery.Document, text string) {
	if m := alcoholPattern.FindStringSubmatch(text); m != nil {
		draft.AlcoholPercent = parseDecimal(m[1])
	}
	if m := pricePerLiterPattern.FindStringSubmatch(text); m != nil {
		draft.DisplayedPricePerLiter = parseDecimal(m[1]) + parseDecimal(m[2])/100
	}
	if m := sugarPattern.FindStringSubmatch(text); m != nil {
		draft.SugarGramsPerLiter = parseDecimal(m[1])
	}
	if m := tastePattern.FindStringSubmatch(text); m != nil {
		draft.Taste = m[1]
	}
	if m := sizePattern.FindStringSubmatch(text); m != nil {
		draft.SizeText = m[1] + " cl"
	}
	if m := headingPattern.FindStringSubmatch(text); m != nil {
		draft.HeadingName = m[1]
	}
	if strings.TrimSpace(draft.Data.Name) == "" && draft.HeadingName == "" {
		draft.HeadingName = UnknownName
	}
	draft.Expired = isExpired(doc, text)
}

func isExpired(doc *goquery.Document, text string) bool {
	if doc.Find(".product__expired").Length() > 0 {
		return true
	}
	for _, marker := range expiredMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// parseDecimal reads a number using a comma decimal separator. Patterns only
// capture digits, so a failure yields the zero sentinel.
func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return v
}
