package product

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// legacyRecord is the version 1 schema: a flat record with Norwegian field
// names and the package size stored as centiliters.
type legacyRecord struct {
	Navn           string      `json:"navn"`
	PrisPerLiter   float64     `json:"pris_per_liter"`
	Alkoholprosent float64     `json:"alkoholprosent"`
	ProduktID      json.Number `json:"produkt_id"`
	Lenke          string      `json:"lenke"`
	Beskrivelse    string      `json:"beskrivelse"`
	SukkerInnhold  float64     `json:"sukker_innhold"`
	StoerrelseCl   float64     `json:"stoerrelse_cl"`
	Pris           float64     `json:"pris"`
}

type versionProbe struct {
	SchemaVersion *int    `json:"schema_version"`
	Navn          *string `json:"navn"`
}

// Decode reads one stored record, upgrading older schema versions to the
// current one. Derived metrics present in the input are ignored.
func Decode(data []byte) (Record, error) {
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	version := SchemaVersion
	switch {
	case probe.SchemaVersion != nil:
		version = *probe.SchemaVersion
	case probe.Navn != nil:
		version = 1
	}

	switch version {
	case 1:
		var legacy legacyRecord
		if err := json.Unmarshal(data, &legacy); err != nil {
			return Record{}, fmt.Errorf("decode v1 record: %w", err)
		}
		return upgradeV1(legacy), nil
	case SchemaVersion:
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return Record{}, fmt.Errorf("decode v%d record: %w", version, err)
		}
		rec.SchemaVersion = SchemaVersion
		if liters, err := ParseSize(rec.Size); err == nil {
			rec.VolumeLiters = liters
		}
		return rec, nil
	default:
		return Record{}, fmt.Errorf("unsupported record schema version %d", version)
	}
}

// upgradeV1 converts a version 1 record into the current schema.
func upgradeV1(legacy legacyRecord) Record {
	rec := Record{
		SchemaVersion:          SchemaVersion,
		Code:                   legacy.ProduktID.String(),
		Name:                   legacy.Navn,
		Summary:                legacy.Beskrivelse,
		URL:                    legacy.Lenke,
		Price:                  legacy.Pris,
		Currency:               "NOK",
		ABV:                    legacy.Alkoholprosent,
		SugarGramsPerLiter:     legacy.SukkerInnhold,
		DisplayedPricePerLiter: legacy.PrisPerLiter,
	}
	if legacy.StoerrelseCl > 0 {
		rec.Size = strconv.FormatFloat(legacy.StoerrelseCl, 'f', -1, 64) + " cl"
		rec.VolumeLiters = legacy.StoerrelseCl / 100
	}
	return rec
}
