package ingest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradebatch/orderingest/internal/domain"
)

var testDate = time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

func order(client, side, ticker, price string, qty int64, source string) domain.OrderRecord {
	return domain.OrderRecord{
		Client:       client,
		Side:         side,
		Ticker:       ticker,
		Price:        decimal.RequireFromString(price),
		Quantity:     qty,
		SourceSystem: source,
	}
}

func TestAggregateWeightedAverage(t *testing.T) {
	records := []domain.OrderRecord{
		order("Acme", "BUY", "AAPL", "100.00", 100, "colocated"),
		order("Acme", "BUY", "AAPL", "200.00", 300, "colocated"),
	}
	aggregates := Aggregate(testDate, records)
	if len(aggregates) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggregates))
	}
	agg := aggregates[0]
	if agg.TotalQuantity != 400 {
		t.Fatalf("expected total quantity 400, got %d", agg.TotalQuantity)
	}
	// (100*100 + 200*300) / 400 = 175
	if got := agg.VWAP.StringFixed(domain.VWAPScale); got != "175.00000000" {
		t.Fatalf("expected vwap 175.00000000, got %s", got)
	}
	if !agg.DataDate.Equal(testDate) {
		t.Fatalf("expected data date %v, got %v", testDate, agg.DataDate)
	}
}

func TestAggregateGroupsByClientSideTicker(t *testing.T) {
	records := []domain.OrderRecord{
		order("Acme", "BUY", "AAPL", "150.50", 100, "colocated"),
		order("Acme", "SELL", "AAPL", "151.00", 50, "colocated"),
		order("Beta", "SELL", "GOOG", "101.00", 300, "colocated"),
		order("Acme", "BUY", "AAPL", "150.50", 100, "colocated"),
	}
	aggregates := Aggregate(testDate, records)
	if len(aggregates) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(aggregates))
	}
	// First-appearance order.
	first := aggregates[0]
	if first.Client != "Acme" || first.Side != "BUY" || first.Ticker != "AAPL" {
		t.Fatalf("unexpected first group: %+v", first)
	}
	if first.TotalQuantity != 200 {
		t.Fatalf("expected merged quantity 200, got %d", first.TotalQuantity)
	}
}

func TestAggregateExcludesNonColocated(t *testing.T) {
	records := []domain.OrderRecord{
		order("Acme", "BUY", "AAPL", "150.50", 100, "colocated"),
		order("Beta", "BUY", "GOOG", "100.00", 200, "remote"),
	}
	aggregates := Aggregate(testDate, records)
	if len(aggregates) != 1 {
		t.Fatalf("expected non-colocated record excluded, got %d groups", len(aggregates))
	}
	if aggregates[0].Client != "Acme" {
		t.Fatalf("expected Acme group, got %s", aggregates[0].Client)
	}
}

func TestAggregateSourceMatchIsCaseInsensitive(t *testing.T) {
	records := []domain.OrderRecord{
		order("Acme", "BUY", "AAPL", "150.50", 100, "Colocated"),
		order("Acme", "BUY", "AAPL", "150.50", 100, "COLOCATED"),
	}
	aggregates := Aggregate(testDate, records)
	if len(aggregates) != 1 || aggregates[0].TotalQuantity != 200 {
		t.Fatalf("expected case-insensitive colocated match, got %+v", aggregates)
	}
}

func TestAggregateRoundsHalfUpAtScaleEight(t *testing.T) {
	records := []domain.OrderRecord{
		order("Acme", "BUY", "AAPL", "0.33333333333", 1, "colocated"),
		order("Acme", "BUY", "AAPL", "0.33333333333", 1, "colocated"),
		order("Acme", "BUY", "AAPL", "1.00000000005", 1, "colocated"),
	}
	aggregates := Aggregate(testDate, records)
	if len(aggregates) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggregates))
	}
	// (0.33333333333*2 + 1.00000000005) / 3 = 0.55555555557 → 0.55555556
	if got := aggregates[0].VWAP.StringFixed(domain.VWAPScale); got != "0.55555556" {
		t.Fatalf("expected 0.55555556, got %s", got)
	}
}

func TestAggregateHalfUpBoundary(t *testing.T) {
	// 0.123456785 sits exactly on the half boundary at scale 8 and must
	// round up to 0.12345679.
	records := []domain.OrderRecord{
		order("Acme", "BUY", "AAPL", "0.123456785", 1, "colocated"),
	}
	aggregates := Aggregate(testDate, records)
	if got := aggregates[0].VWAP.StringFixed(domain.VWAPScale); got != "0.12345679" {
		t.Fatalf("expected 0.12345679, got %s", got)
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	aggregates := Aggregate(testDate, nil)
	if len(aggregates) != 0 {
		t.Fatalf("expected no aggregates, got %d", len(aggregates))
	}
	aggregates = Aggregate(testDate, []domain.OrderRecord{})
	if len(aggregates) != 0 {
		t.Fatalf("expected no aggregates, got %d", len(aggregates))
	}
}
