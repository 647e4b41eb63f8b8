package model

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

type (
	// PriceTicksModel appends reconciled price observations for offline
	// analysis. Rows are never updated.
	PriceTicksModel interface {
		Insert(ctx context.Context, data *PriceTick) error
		DeleteBefore(ctx context.Context, cutoffMs int64) (int64, error)
	}

	PriceTick struct {
		ID        int64     `db:"id"`
		Symbol    string    `db:"symbol"`
		Price     float64   `db:"price"`
		Source    string    `db:"source"`
		TsMs      int64     `db:"ts_ms"`
		CreatedAt time.Time `db:"created_at"`
	}

	defaultPriceTicksModel struct {
		conn sqlx.SqlConn
	}
)

// NewPriceTicksModel returns a model for the price_ticks table.
func NewPriceTicksModel(conn sqlx.SqlConn) PriceTicksModel {
	return &defaultPriceTicksModel{conn: conn}
}

func (m *defaultPriceTicksModel) Insert(ctx context.Context, data *PriceTick) error {
	stmt := `
INSERT INTO public.price_ticks (symbol, price, source, ts_ms, created_at)
VALUES ($1, $2, $3, $4, NOW());`
	_, err := m.conn.ExecCtx(ctx, stmt, data.Symbol, data.Price, data.Source, data.TsMs)
	return err
}

func (m *defaultPriceTicksModel) DeleteBefore(ctx context.Context, cutoffMs int64) (int64, error) {
	stmt := `DELETE FROM public.price_ticks WHERE ts_ms < $1;`
	result, err := m.conn.ExecCtx(ctx, stmt, cutoffMs)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
