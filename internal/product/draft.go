package product

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Draft is the partial record produced by the field extractor. Every HTML
// fragment field is optional and holds its sentinel when not found.
type Draft struct {
	Code    string
	PageURL string
	Data    StructuredData

	// Fragment fields matched in the page markup.
	HeadingName            string
	AlcoholPercent         float64
	DisplayedPricePerLiter float64
	SugarGramsPerLiter     float64
	Taste                  string
	SizeText               string
	Expired                bool

	// LegacyDecoded is set when the page body was decoded through the legacy
	// single-byte codepage because no charset was declared.
	LegacyDecoded bool
}

// StructuredData is the embedded machine-readable description of a product
// page (schema.org Product in JSON-LD).
type StructuredData struct {
	Type            string      `json:"@type"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Image           FlexString  `json:"image"`
	URL             string      `json:"url"`
	Keywords        FlexStrings `json:"keywords"`
	Size            string      `json:"size"`
	CountryOfOrigin FlexString  `json:"countryOfOrigin"`
	Color           string      `json:"color"`
	Offers          *Offer      `json:"offers"`
	Brand           *Brand      `json:"brand"`
}

// UnmarshalJSON decodes each field on its own. A field with an unexpected
// shape keeps its zero value; only a block that is not a JSON object fails.
func (d *StructuredData) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode structured data: %w", err)
	}
	var typ, name, description, url, size, color FlexString
	decodeField(fields, "@type", &typ)
	decodeField(fields, "name", &name)
	decodeField(fields, "description", &description)
	decodeField(fields, "url", &url)
	decodeField(fields, "size", &size)
	decodeField(fields, "color", &color)

	out := StructuredData{
		Type:        string(typ),
		Name:        string(name),
		Description: string(description),
		URL:         string(url),
		Size:        string(size),
		Color:       string(color),
	}
	decodeField(fields, "image", &out.Image)
	decodeField(fields, "keywords", &out.Keywords)
	decodeField(fields, "countryOfOrigin", &out.CountryOfOrigin)
	decodeField(fields, "offers", &out.Offers)
	decodeField(fields, "brand", &out.Brand)
	*d = out
	return nil
}

// decodeField decodes fields[key] into dst, leaving dst untouched when the key
// is missing or its value does not decode.
func decodeField[T any](fields map[string]json.RawMessage, key string, dst *T) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	*dst = v
}

// Offer is the schema.org Offer attached to a product.
type Offer struct {
	Type          string `json:"@type"`
	Price         Amount `json:"price"`
	PriceCurrency string `json:"priceCurrency"`
}

// UnmarshalJSON accepts an Offer object or a list of offers, in which case
// the first one is used. An unreadable price or currency is left empty.
func (o *Offer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var offers []json.RawMessage
		if err := json.Unmarshal(data, &offers); err != nil {
			return fmt.Errorf("decode offers: %w", err)
		}
		if len(offers) == 0 {
			return errors.New("decode offers: empty list")
		}
		return o.UnmarshalJSON(offers[0])
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	var typ, currency FlexString
	decodeField(fields, "@type", &typ)
	decodeField(fields, "priceCurrency", &currency)
	out := Offer{Type: string(typ), PriceCurrency: string(currency)}
	decodeField(fields, "price", &out.Price)
	*o = out
	return nil
}

// Brand is the schema.org Brand attached to a product.
type Brand struct {
	Type string `json:"@type"`
	Name string `json:"name"`
}

// UnmarshalJSON accepts either a Brand object or a bare brand name.
func (b *Brand) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return fmt.Errorf("decode brand name: %w", err)
		}
		*b = Brand{Type: "Brand", Name: name}
		return nil
	}
	type brandFields Brand
	var fields brandFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode brand: %w", err)
	}
	*b = Brand(fields)
	return nil
}

// Amount is a price that may be encoded as a JSON number or string, using
// either a dot or a comma as the decimal separator. Strings may group
// thousands with spaces (including no-break spaces) or with dots.
type Amount float64

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode amount: %w", err)
		}
		raw = strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, raw)
		if strings.Contains(raw, ",") {
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.Replace(raw, ",", ".", 1)
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("decode amount %q: %w", raw, err)
	}
	*a = Amount(v)
	return nil
}

// FlexString decodes a JSON string, the first element of a string array, or
// the name of an object.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*s = FlexString(v)
	case '[':
		var v []FlexString
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode string list: %w", err)
		}
		*s = ""
		if len(v) > 0 {
			*s = v[0]
		}
	case '{':
		var v struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode named object: %w", err)
		}
		*s = FlexString(v.Name)
		if v.Name == "" {
			*s = FlexString(v.URL)
		}
	default:
		return fmt.Errorf("unsupported JSON value %s", data)
	}
	return nil
}

// FlexStrings decodes a JSON string array or a comma separated string.
type FlexStrings []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '[' {
		var v []string
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode keywords: %w", err)
		}
		*s = v
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("decode keywords: %w", err)
	}
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*s = out
	return nil
}
