package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tradebatch/orderingest/errs"
	"github.com/tradebatch/orderingest/internal/domain"
)

// Column order of the input file. Parsing is header-driven, so the file may
// reorder columns as long as all of them are present.
var orderHeader = []string{"client", "side", "ticker", "price", "quantity", "sourceSystem"}

var (
	aggregateHeader = []string{"dataDate", "client", "side", "ticker", "totalQuantity", "vwap"}
	rejectHeader    = []string{"client", "side", "ticker", "price", "quantity", "sourceSystem", "reason"}
)

// ReadOrders reads the order CSV at path into typed records. Fields are
// trimmed and blank lines skipped. An absent file maps to CodeNotFound; a
// missing column or non-numeric price/quantity maps to CodeParse.
func ReadOrders(path string) ([]domain.OrderRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.CodeNotFound, errs.WithStage(stageLoad), errs.WithMessage(fmt.Sprintf("input file missing: %s", path)), errs.WithCause(err))
		}
		return nil, errs.New(errs.CodeInternal, errs.WithStage(stageLoad), errs.WithMessage(fmt.Sprintf("open input file: %s", path)), errs.WithCause(err))
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errs.New(errs.CodeParse, errs.WithStage(stageLoad), errs.WithMessage(fmt.Sprintf("read csv %s", path)), errs.WithCause(err))
	}
	if len(rows) == 0 {
		return nil, errs.New(errs.CodeParse, errs.WithStage(stageLoad), errs.WithMessage(fmt.Sprintf("csv %s: header row missing", path)))
	}

	index, err := headerIndex(rows[0], path)
	if err != nil {
		return nil, err
	}

	records := make([]domain.OrderRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if rowBlank(row) {
			continue
		}
		record, err := mapOrder(row, index, i+2, path)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func headerIndex(header []string, path string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, required := range orderHeader {
		if _, ok := index[required]; !ok {
			return nil, errs.New(errs.CodeParse, errs.WithStage(stageLoad), errs.WithMessage(fmt.Sprintf("csv %s: required column %q missing", path, required)))
		}
	}
	return index, nil
}

func rowBlank(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func field(row []string, index map[string]int, name string) string {
	pos, ok := index[name]
	if !ok || pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos])
}

func mapOrder(row []string, index map[string]int, line int, path string) (domain.OrderRecord, error) {
	// Empty numeric fields parse as zero so validation can reject them with a
	// data-level reason instead of failing the whole load.
	price := decimal.Zero
	if raw := field(row, index, "price"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.OrderRecord{}, errs.New(errs.CodeParse, errs.WithStage(stageLoad),
				errs.WithMessage(fmt.Sprintf("csv %s line %d: price %q is not numeric", path, line, raw)), errs.WithCause(err))
		}
		price = parsed
	}

	var quantity int64
	if raw := field(row, index, "quantity"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.OrderRecord{}, errs.New(errs.CodeParse, errs.WithStage(stageLoad),
				errs.WithMessage(fmt.Sprintf("csv %s line %d: quantity %q is not an integer", path, line, raw)), errs.WithCause(err))
		}
		quantity = parsed
	}

	return domain.OrderRecord{
		Client:       field(row, index, "client"),
		Side:         field(row, index, "side"),
		Ticker:       field(row, index, "ticker"),
		Price:        price,
		Quantity:     quantity,
		SourceSystem: field(row, index, "sourceSystem"),
	}, nil
}

// WriteAggregates writes the aggregate CSV at path, creating parent
// directories and overwriting any existing file. VWAP serializes at fixed
// scale 8 regardless of internal precision. The file is flushed and closed
// before the call returns.
func WriteAggregates(path string, aggregates []domain.AggregatedOrder) error {
	return writeCSV(path, aggregateHeader, len(aggregates), func(i int) []string {
		agg := aggregates[i]
		return []string{
			agg.DataDate.Format(domain.DateLayout),
			agg.Client,
			agg.Side,
			agg.Ticker,
			strconv.FormatInt(agg.TotalQuantity, 10),
			agg.VWAP.StringFixed(domain.VWAPScale),
		}
	})
}

// WriteRejects writes the reject CSV at path with the original (unnormalized)
// record fields and the first failing validation reason.
func WriteRejects(path string, rejects []domain.Reject) error {
	return writeCSV(path, rejectHeader, len(rejects), func(i int) []string {
		rec := rejects[i].Record
		return []string{
			rec.Client,
			rec.Side,
			rec.Ticker,
			rec.Price.String(),
			strconv.FormatInt(rec.Quantity, 10),
			rec.SourceSystem,
			rejects[i].Reason,
		}
	})
}

func writeCSV(path string, header []string, rows int, row func(int) []string) error {
	if parent := filepath.Dir(path); parent != "." && parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return errs.New(errs.CodeInternal, errs.WithMessage(fmt.Sprintf("create output directory for %s", path)), errs.WithCause(err))
		}
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.New(errs.CodeInternal, errs.WithMessage(fmt.Sprintf("create output file %s", path)), errs.WithCause(err))
	}

	writer := csv.NewWriter(file)
	writeErr := writer.Write(header)
	for i := 0; writeErr == nil && i < rows; i++ {
		writeErr = writer.Write(row(i))
	}
	if writeErr == nil {
		writer.Flush()
		writeErr = writer.Error()
	}

	closeErr := file.Close()
	if writeErr != nil {
		return errs.New(errs.CodeInternal, errs.WithMessage(fmt.Sprintf("write csv %s", path)), errs.WithCause(writeErr))
	}
	if closeErr != nil {
		return errs.New(errs.CodeInternal, errs.WithMessage(fmt.Sprintf("close csv %s", path)), errs.WithCause(closeErr))
	}
	return nil
}

