package ingest

import (
	"strings"

	"github.com/tradebatch/orderingest/internal/domain"
)

// Reject reasons, in rule order. The first failing rule wins so reject rows
// carry a deterministic reason.
const (
	reasonClientBlank  = "client is blank"
	reasonTickerBlank  = "ticker is blank"
	reasonSourceBlank  = "sourceSystem is blank"
	reasonSideMissing  = "side missing"
	reasonSideInvalid  = "side must be BUY or SELL"
	reasonPriceInvalid = "price must be > 0"
	reasonQtyInvalid   = "quantity must be > 0"
)

// ValidateOrder checks a single record against the fixed rule order and
// returns the normalized record on success, or the zero record and the first
// failing reason. It is a pure function: the input record is never mutated,
// and sourceSystem is deliberately not a rejection criterion — non-colocated
// records stay valid and are excluded later by the aggregator.
func ValidateOrder(rec domain.OrderRecord) (domain.OrderRecord, string) {
	if strings.TrimSpace(rec.Client) == "" {
		return domain.OrderRecord{}, reasonClientBlank
	}
	if strings.TrimSpace(rec.Ticker) == "" {
		return domain.OrderRecord{}, reasonTickerBlank
	}
	if strings.TrimSpace(rec.SourceSystem) == "" {
		return domain.OrderRecord{}, reasonSourceBlank
	}
	if strings.TrimSpace(rec.Side) == "" {
		return domain.OrderRecord{}, reasonSideMissing
	}
	side := strings.ToUpper(strings.TrimSpace(rec.Side))
	if side != domain.SideBuy && side != domain.SideSell {
		return domain.OrderRecord{}, reasonSideInvalid
	}
	if !rec.Price.IsPositive() {
		return domain.OrderRecord{}, reasonPriceInvalid
	}
	if rec.Quantity <= 0 {
		return domain.OrderRecord{}, reasonQtyInvalid
	}

	normalized := rec
	normalized.Side = side
	return normalized, ""
}
