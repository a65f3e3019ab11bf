// Package domain defines the value types flowing through the order ingest pipeline.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trading sides accepted after validation.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// SourceColocated marks records eligible for aggregation. Records from other
// source systems remain valid but are excluded from aggregation.
const SourceColocated = "colocated"

// DateLayout is the wire format for business dates.
const DateLayout = "2006-01-02"

// VWAPScale is the fixed decimal scale for serialized and persisted VWAP values.
const VWAPScale = 8

// OrderRecord is one raw or validated trade line from the input file.
// It is an immutable value with no identity beyond structural equality.
type OrderRecord struct {
	Client       string
	Side         string
	Ticker       string
	Price        decimal.Decimal
	Quantity     int64
	SourceSystem string
}

// AggregatedOrder is one output row keyed by (DataDate, Client, Side, Ticker).
type AggregatedOrder struct {
	DataDate      time.Time
	Client        string
	Side          string
	Ticker        string
	TotalQuantity int64
	VWAP          decimal.Decimal
}

// Reject pairs an invalid input record with its first failing validation reason.
type Reject struct {
	Record OrderRecord
	Reason string
}
