// Package postgres persists VWAP aggregates and job execution history via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradebatch/orderingest/internal/domain"
)

const (
	aggregateDeleteByDateSQL = `DELETE FROM aggregated_orders WHERE data_date = @data_date;`

	aggregateSelectByDateSQL = `
SELECT
    data_date,
    client,
    side,
    ticker,
    total_quantity,
    vwap
FROM aggregated_orders
WHERE data_date = $1
ORDER BY id;
`
)

var aggregateCopyColumns = []string{"data_date", "client", "side", "ticker", "total_quantity", "vwap", "created_at"}

// AggregateStore persists aggregated order rows keyed by business date.
type AggregateStore struct {
	pool *pgxpool.Pool
}

// NewAggregateStore constructs an AggregateStore backed by the provided pool.
func NewAggregateStore(pool *pgxpool.Pool) *AggregateStore {
	return &AggregateStore{pool: pool}
}

func (s *AggregateStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("aggregate store: nil pool")
	}
	return s.pool, nil
}

// ReplaceForDate atomically swaps the aggregate generation for a date:
// delete-by-date then bulk insert inside one transaction, so readers observe
// either the prior generation or the new one in full. Returns the inserted
// row count.
func (s *AggregateStore) ReplaceForDate(ctx context.Context, dataDate time.Time, aggregates []domain.AggregatedOrder) (int64, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return 0, err
	}

	rows := make([][]any, 0, len(aggregates))
	createdAt := time.Now().UTC()
	for _, agg := range aggregates {
		vwap, err := numericFromDecimal(agg.VWAP)
		if err != nil {
			return 0, fmt.Errorf("aggregate store: vwap for %s/%s/%s: %w", agg.Client, agg.Side, agg.Ticker, err)
		}
		rows = append(rows, []any{agg.DataDate, agg.Client, agg.Side, agg.Ticker, agg.TotalQuantity, vwap, createdAt})
	}

	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite

	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return 0, fmt.Errorf("aggregate store: begin tx: %w", err)
	}

	inserted, runErr := replaceWithin(ctx, tx, dataDate, rows)
	if runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return 0, fmt.Errorf("aggregate store: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return 0, runErr
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("aggregate store: commit tx: %w", err)
	}
	return inserted, nil
}

func replaceWithin(ctx context.Context, tx pgx.Tx, dataDate time.Time, rows [][]any) (int64, error) {
	args := pgx.NamedArgs{"data_date": dataDate}
	if _, err := tx.Exec(ctx, aggregateDeleteByDateSQL, args); err != nil {
		return 0, fmt.Errorf("aggregate store: delete by date: %w", err)
	}
	inserted, err := tx.CopyFrom(ctx, pgx.Identifier{"aggregated_orders"}, aggregateCopyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("aggregate store: copy aggregates: %w", err)
	}
	return inserted, nil
}

// ListForDate retrieves the persisted aggregates for a business date in
// insertion order.
func (s *AggregateStore) ListForDate(ctx context.Context, dataDate time.Time) ([]domain.AggregatedOrder, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, aggregateSelectByDateSQL, dataDate)
	if err != nil {
		return nil, fmt.Errorf("aggregate store: query by date: %w", err)
	}
	defer rows.Close()

	var out []domain.AggregatedOrder
	for rows.Next() {
		var agg domain.AggregatedOrder
		var vwapNumeric pgtype.Numeric
		if err := rows.Scan(&agg.DataDate, &agg.Client, &agg.Side, &agg.Ticker, &agg.TotalQuantity, &vwapNumeric); err != nil {
			return nil, fmt.Errorf("aggregate store: scan row: %w", err)
		}
		vwap, err := decimalFromNumeric(vwapNumeric)
		if err != nil {
			return nil, fmt.Errorf("aggregate store: vwap for %s/%s/%s: %w", agg.Client, agg.Side, agg.Ticker, err)
		}
		agg.VWAP = vwap
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate store: iterate rows: %w", err)
	}
	return out, nil
}
