// Package product holds the canonical product record, its derived metrics and
// the partial draft produced by the field extractor.
package product

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SchemaVersion is the version stamped on every record written by this build.
const SchemaVersion = 2

// Record is the durable, normalized product entity persisted in the record
// store. Derived metrics are methods, never fields, so they always follow the
// raw values they are computed from.
type Record struct {
	SchemaVersion          int       `json:"schema_version"`
	Code                   string    `json:"code"`
	Name                   string    `json:"name"`
	Description            string    `json:"description"`
	Summary                string    `json:"summary"`
	URL                    string    `json:"url"`
	Image                  string    `json:"image,omitempty"`
	Brand                  string    `json:"brand"`
	Country                string    `json:"country,omitempty"`
	Color                  string    `json:"color,omitempty"`
	Keywords               []string  `json:"keywords,omitempty"`
	Price                  float64   `json:"price"`
	Currency               string    `json:"currency"`
	Size                   string    `json:"size"`
	VolumeLiters           float64   `json:"volume_liters"`
	ABV                    float64   `json:"abv"`
	SugarGramsPerLiter     float64   `json:"sugar_grams_per_liter"`
	DisplayedPricePerLiter float64   `json:"displayed_price_per_liter"`
	Expired                bool      `json:"expired"`
	FetchedAt              time.Time `json:"fetched_at"`
}

// PricePerLiter returns price divided by volume, rounded to two decimals.
// The second result is false when price or volume is missing.
func (r Record) PricePerLiter() (float64, bool) {
	if r.Price <= 0 || r.VolumeLiters <= 0 {
		return 0, false
	}
	return round(r.Price/r.VolumeLiters, 2), true
}

// AlcoholPerCurrencyUnit returns milliliters of pure alcohol bought per unit
// of currency, rounded to six decimals. The second result is false when abv,
// volume or price is missing.
func (r Record) AlcoholPerCurrencyUnit() (float64, bool) {
	if r.Price <= 0 || r.VolumeLiters <= 0 || r.ABV <= 0 {
		return 0, false
	}
	return round((r.ABV/100)*(r.VolumeLiters*1000)/r.Price, 6), true
}

type recordFields Record

// MarshalJSON writes the raw fields followed by the derived metrics. Derived
// metrics are omitted when undefined.
func (r Record) MarshalJSON() ([]byte, error) {
	out := struct {
		recordFields
		PricePerLiter          *float64 `json:"price_per_liter,omitempty"`
		AlcoholPerCurrencyUnit *float64 `json:"alcohol_per_currency_unit,omitempty"`
	}{recordFields: recordFields(r)}
	if v, ok := r.PricePerLiter(); ok {
		out.PricePerLiter = &v
	}
	if v, ok := r.AlcoholPerCurrencyUnit(); ok {
		out.AlcoholPerCurrencyUnit = &v
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.Code, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r.Keywords != nil {
		r.Keywords = append([]string(nil), r.Keywords...)
	}
	return r
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
