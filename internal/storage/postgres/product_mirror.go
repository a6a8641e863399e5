package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
)

// DefaultProductTable is used when no table name is configured.
const DefaultProductTable = "products"

// ProductMirror upserts records into a Postgres table keyed by code.
type ProductMirror struct {
	pool  Pool
	table string
}

// NewProductMirror validates table and wraps pool.
func NewProductMirror(pool Pool, table string) (*ProductMirror, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultProductTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProductMirror{pool: pool, table: table}, nil
}

// Upsert writes records in one transaction. Either every record lands or
// none does.
func (m *ProductMirror) Upsert(ctx context.Context, records []product.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mirror upsert: %w", err)
	}
	query := m.upsertQuery()
	for _, rec := range records {
		args, err := upsertArgs(rec)
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("upsert product %s: %w", rec.Code, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mirror upsert: %w", err)
	}
	return nil
}

func (m *ProductMirror) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (
	code, name, brand, url, country, color, keywords,
	price, currency, size, volume_liters, abv, sugar_grams_per_liter,
	price_per_liter, alcohol_per_currency_unit, expired, fetched_at, document
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)
ON CONFLICT (code) DO UPDATE SET
	name = EXCLUDED.name,
	brand = EXCLUDED.brand,
	url = EXCLUDED.url,
	country = EXCLUDED.country,
	color = EXCLUDED.color,
	keywords = EXCLUDED.keywords,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	size = EXCLUDED.size,
	volume_liters = EXCLUDED.volume_liters,
	abv = EXCLUDED.abv,
	sugar_grams_per_liter = EXCLUDED.sugar_grams_per_liter,
	price_per_liter = EXCLUDED.price_per_liter,
	alcohol_per_currency_unit = EXCLUDED.alcohol_per_currency_unit,
	expired = EXCLUDED.expired,
	fetched_at = EXCLUDED.fetched_at,
	document = EXCLUDED.document`, m.table)
}

func upsertArgs(rec product.Record) ([]any, error) {
	document, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode mirror document %s: %w", rec.Code, err)
	}
	var ppl, apc *float64
	if v, ok := rec.PricePerLiter(); ok {
		ppl = &v
	}
	if v, ok := rec.AlcoholPerCurrencyUnit(); ok {
		apc = &v
	}
	return []any{
		rec.Code,
		rec.Name,
		rec.Brand,
		rec.URL,
		rec.Country,
		rec.Color,
		rec.Keywords,
		rec.Price,
		rec.Currency,
		rec.Size,
		rec.VolumeLiters,
		rec.ABV,
		rec.SugarGramsPerLiter,
		ppl,
		apc,
		rec.Expired,
		rec.FetchedAt,
		document,
	}, nil
}
