package model

import (
	"context"
	"database/sql"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

type (
	// PriceLatestModel persists the reconciled latest state, one row per
	// symbol.
	PriceLatestModel interface {
		Upsert(ctx context.Context, data *PriceLatest) error
		FindAll(ctx context.Context) ([]*PriceLatest, error)
	}

	PriceLatest struct {
		Symbol     string          `db:"symbol"`
		Price      float64         `db:"price"`
		Source     string          `db:"source"`
		Change24h  sql.NullFloat64 `db:"change_24h"`
		High24h    sql.NullFloat64 `db:"high_24h"`
		Low24h     sql.NullFloat64 `db:"low_24h"`
		Volume24h  sql.NullFloat64 `db:"volume_24h"`
		Confidence string          `db:"confidence"`
		TsMs       int64           `db:"ts_ms"`
		UpdatedAt  time.Time       `db:"updated_at"`
	}

	defaultPriceLatestModel struct {
		conn sqlx.SqlConn
	}
)

// NewPriceLatestModel returns a model for the price_latest table.
func NewPriceLatestModel(conn sqlx.SqlConn) PriceLatestModel {
	return &defaultPriceLatestModel{conn: conn}
}

func (m *defaultPriceLatestModel) Upsert(ctx context.Context, data *PriceLatest) error {
	stmt := `
INSERT INTO public.price_latest (symbol, price, source, change_24h, high_24h, low_24h, volume_24h, confidence, ts_ms, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
ON CONFLICT (symbol) DO UPDATE SET
    price = EXCLUDED.price,
    source = EXCLUDED.source,
    change_24h = EXCLUDED.change_24h,
    high_24h = EXCLUDED.high_24h,
    low_24h = EXCLUDED.low_24h,
    volume_24h = EXCLUDED.volume_24h,
    confidence = EXCLUDED.confidence,
    ts_ms = EXCLUDED.ts_ms,
    updated_at = NOW();`
	_, err := m.conn.ExecCtx(ctx, stmt,
		data.Symbol,
		data.Price,
		data.Source,
		data.Change24h,
		data.High24h,
		data.Low24h,
		data.Volume24h,
		data.Confidence,
		data.TsMs,
	)
	return err
}

func (m *defaultPriceLatestModel) FindAll(ctx context.Context) ([]*PriceLatest, error) {
	stmt := `
SELECT symbol, price, source, change_24h, high_24h, low_24h, volume_24h, confidence, ts_ms, updated_at
FROM public.price_latest ORDER BY symbol;`
	var rows []*PriceLatest
	if err := m.conn.QueryRowsCtx(ctx, &rows, stmt); err != nil {
		return nil, err
	}
	return rows, nil
}
