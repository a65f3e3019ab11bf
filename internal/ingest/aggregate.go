package ingest

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebatch/orderingest/internal/domain"
)

type accumulator struct {
	client        string
	side          string
	ticker        string
	totalQuantity int64
	priceQuantity decimal.Decimal
}

// Aggregate groups valid colocated records by (client, side, ticker) and
// computes the quantity-weighted average price per group. Group order follows
// first appearance in the input. Price×quantity sums stay at full decimal
// precision; rounding to scale 8 (half-up) happens only in the final division.
//
// Valid records whose sourceSystem is not "colocated" are skipped here, not
// rejected: they are loaded and validated but never aggregated.
func Aggregate(dataDate time.Time, records []domain.OrderRecord) []domain.AggregatedOrder {
	order := make([]string, 0, len(records))
	groups := make(map[string]*accumulator, len(records))

	for _, rec := range records {
		if !strings.EqualFold(rec.SourceSystem, domain.SourceColocated) {
			continue
		}
		key := rec.Client + "|" + rec.Side + "|" + rec.Ticker
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{
				client:        rec.Client,
				side:          rec.Side,
				ticker:        rec.Ticker,
				totalQuantity: 0,
				priceQuantity: decimal.Zero,
			}
			groups[key] = acc
			order = append(order, key)
		}
		acc.totalQuantity += rec.Quantity
		acc.priceQuantity = acc.priceQuantity.Add(rec.Price.Mul(decimal.NewFromInt(rec.Quantity)))
	}

	aggregates := make([]domain.AggregatedOrder, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		if acc.totalQuantity == 0 {
			// Unreachable given quantity>0 validation, but never divide by zero.
			continue
		}
		vwap := acc.priceQuantity.DivRound(decimal.NewFromInt(acc.totalQuantity), domain.VWAPScale)
		aggregates = append(aggregates, domain.AggregatedOrder{
			DataDate:      dataDate,
			Client:        acc.client,
			Side:          acc.side,
			Ticker:        acc.ticker,
			TotalQuantity: acc.totalQuantity,
			VWAP:          vwap,
		})
	}
	return aggregates
}
