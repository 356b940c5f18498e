package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-insurance/internal/obs"
	"github.com/noah-isme/backend-insurance/internal/surcharge"
)

const (
	upsertSurchargeSQL = `INSERT INTO surcharges (product_type_id, surcharge)
VALUES ($1, $2)
ON CONFLICT (product_type_id) DO UPDATE
SET surcharge = EXCLUDED.surcharge, updated_at = now()`

	getSurchargeSQL = `SELECT surcharge FROM surcharges WHERE product_type_id = $1`
)

// PgxQuerier is the subset of *pgxpool.Pool used by PostgresSurcharges.
type PgxQuerier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresSurcharges stores surcharge rates in the surcharges table.
type PostgresSurcharges struct {
	DB PgxQuerier
}

// NewPostgresPool opens a pgx pool with query tracing enabled.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return pool, nil
}

// UpsertRates writes the batch in one transaction.
func (s PostgresSurcharges) UpsertRates(ctx context.Context, rates []surcharge.Rate) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("surcharges.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, rate := range rates {
		batch.Queue(upsertSurchargeSQL, rate.ProductTypeID, toNumeric(rate.Surcharge))
	}
	results := tx.SendBatch(ctx, batch)
	for _, rate := range rates {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("surcharges.upsert product type %d: %w", rate.ProductTypeID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("surcharges.upsert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("surcharges.commit: %w", err)
	}
	return nil
}

// GetSurcharge reads one rate.
func (s PostgresSurcharges) GetSurcharge(ctx context.Context, productTypeID int) (decimal.Decimal, bool, error) {
	var n pgtype.Numeric
	if err := s.DB.QueryRow(ctx, getSurchargeSQL, productTypeID).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("surcharges.get: %w", err)
	}
	d, err := fromNumeric(n)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("surcharges.get product type %d: %w", productTypeID, err)
	}
	return d, true, nil
}

// Ping checks database connectivity.
func (s PostgresSurcharges) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, errors.New("surcharge is null")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return decimal.Zero, errors.New("surcharge is not a finite number")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}
