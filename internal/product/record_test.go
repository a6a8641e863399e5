package product

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		SchemaVersion: SchemaVersion,
		Code:          "1234501",
		Name:          "Château Test 2019",
		Price:         299.0,
		Currency:      "NOK",
		Size:          "75 cl",
		VolumeLiters:  0.75,
		ABV:           13.5,
		Brand:         "Château Test",
		FetchedAt:     time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPricePerLiter(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	got, ok := rec.PricePerLiter()
	require.True(t, ok)
	assert.Equal(t, 398.67, got)
}

func TestAlcoholPerCurrencyUnit(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	got, ok := rec.AlcoholPerCurrencyUnit()
	require.True(t, ok)
	// 0.135 * 750 ml / 299
	assert.Equal(t, 0.338629, got)
}

func TestDerivedMetricsAbsentWithoutInputs(t *testing.T) {
	t.Parallel()

	zeroPrice := sampleRecord()
	zeroPrice.Price = 0
	_, ok := zeroPrice.PricePerLiter()
	assert.False(t, ok)
	_, ok = zeroPrice.AlcoholPerCurrencyUnit()
	assert.False(t, ok)

	noVolume := sampleRecord()
	noVolume.VolumeLiters = 0
	_, ok = noVolume.PricePerLiter()
	assert.False(t, ok)

	noABV := sampleRecord()
	noABV.ABV = 0
	_, ok = noABV.PricePerLiter()
	assert.True(t, ok)
	_, ok = noABV.AlcoholPerCurrencyUnit()
	assert.False(t, ok)
}

func TestMarshalJSONWritesDerivedMetrics(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(sampleRecord())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	assert.Equal(t, "1234501", fields["code"])
	assert.Equal(t, 398.67, fields["price_per_liter"])
	assert.Equal(t, 0.338629, fields["alcohol_per_currency_unit"])
	assert.EqualValues(t, SchemaVersion, fields["schema_version"])
}

func TestMarshalJSONOmitsUndefinedMetrics(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	rec.Price = 0
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	assert.NotContains(t, fields, "price_per_liter")
	assert.NotContains(t, fields, "alcohol_per_currency_unit")
}

func TestDecodeIgnoresStoredDerivedMetrics(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"schema_version":2,"code":"42","price":100,"size":"50 cl","volume_liters":9,"abv":40,"price_per_liter":1}`)
	rec, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.VolumeLiters)

	ppl, ok := rec.PricePerLiter()
	require.True(t, ok)
	assert.Equal(t, 200.0, ppl)
}

func TestDecodeUpgradesLegacyRecord(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
  "navn": "Gammel Akevitt",
  "pris_per_liter": 699.86,
  "alkoholprosent": 41.5,
  "produkt_id": 1001,
  "lenke": "https://www.vinmonopolet.no/p/1001",
  "beskrivelse": "Krydret",
  "sukker_innhold": 3.0,
  "stoerrelse_cl": 70.0,
  "pris": 489.9
}`)
	rec, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, "1001", rec.Code)
	assert.Equal(t, "Gammel Akevitt", rec.Name)
	assert.Equal(t, "Krydret", rec.Summary)
	assert.Equal(t, "70 cl", rec.Size)
	assert.InDelta(t, 0.7, rec.VolumeLiters, 1e-9)
	assert.Equal(t, 489.9, rec.Price)
	assert.Equal(t, 699.86, rec.DisplayedPricePerLiter)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{"schema_version":99,"code":"1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported record schema version 99")
}

func TestCloneCopiesKeywords(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	rec.Keywords = []string{"rødvin"}
	clone := rec.Clone()
	clone.Keywords[0] = "hvitvin"
	assert.Equal(t, "rødvin", rec.Keywords[0])
}
