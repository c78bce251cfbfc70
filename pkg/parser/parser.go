// Package parser reads replication trace records and KPI rows from CSV,
// Parquet and Excel files.
package parser

import (
	"context"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// TraceReader decodes one replication's trace records.
type TraceReader interface {
	Read(ctx context.Context, r io.Reader) (model.TraceCollection, error)
}

// Format represents a supported input format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatParquet
	FormatXLSX
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatParquet:
		return "parquet"
	case FormatXLSX:
		return "xlsx"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format string.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV
	case "parquet", "pq":
		return FormatParquet
	case "xlsx", "excel":
		return FormatXLSX
	default:
		return FormatUnknown
	}
}

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) Format {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// NewTraceReader returns the reader for format.
func NewTraceReader(format Format) (TraceReader, error) {
	switch format {
	case FormatCSV:
		return NewCSVReader(), nil
	case FormatParquet:
		return NewParquetReader(), nil
	case FormatXLSX:
		return NewXLSXReader(), nil
	default:
		return nil, errors.New(errors.CodeInvalidConfig, "unsupported trace format").
			WithContext("format", format.String())
	}
}

// Trace column names. Aliases cover ciw's record export.
const (
	ColEntityID         = "entity_id"
	ColArrivalDate      = "arrival_date"
	ColServiceStartDate = "service_start_date"
	ColServiceEndDate   = "service_end_date"
	ColServerID         = "server_id"
	ColExitDate         = "exit_date"
)

// TraceColumns lists the trace columns in canonical order.
var TraceColumns = []string{ColEntityID, ColArrivalDate, ColServiceStartDate, ColServiceEndDate, ColServerID, ColExitDate}

var columnAliases = map[string][]string{
	ColEntityID: {"id_number", "patient", "entity"},
}

// columns maps each trace field to its index in a header; -1 when absent.
type columns struct {
	entity, arrival, start, end, server, exit int
}

func resolveColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	find := func(name string) int {
		if i, ok := idx[name]; ok {
			return i
		}
		for _, alias := range columnAliases[name] {
			if i, ok := idx[alias]; ok {
				return i
			}
		}
		return -1
	}

	c := columns{
		entity:  find(ColEntityID),
		arrival: find(ColArrivalDate),
		start:   find(ColServiceStartDate),
		end:     find(ColServiceEndDate),
		server:  find(ColServerID),
		exit:    find(ColExitDate),
	}

	required := []struct {
		name string
		at   int
	}{
		{ColEntityID, c.entity},
		{ColArrivalDate, c.arrival},
		{ColServiceStartDate, c.start},
		{ColServiceEndDate, c.end},
		{ColServerID, c.server},
	}
	for _, r := range required {
		if r.at < 0 {
			return columns{}, errors.MissingColumn(r.name, header)
		}
	}
	return c, nil
}

// decodeRow converts one row of text cells into a record. line is 1-based
// and used only for error context.
func decodeRow(cells []string, c columns, line int) (model.TraceRecord, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	var (
		rec model.TraceRecord
		err error
	)
	if rec.EntityID, err = parseInt(cell(c.entity)); err != nil {
		return rec, badCell(ColEntityID, cell(c.entity), line, err)
	}
	if rec.ArrivalDate, err = parseFloat(cell(c.arrival)); err != nil {
		return rec, badCell(ColArrivalDate, cell(c.arrival), line, err)
	}
	if rec.ServiceStartDate, err = parseFloat(cell(c.start)); err != nil {
		return rec, badCell(ColServiceStartDate, cell(c.start), line, err)
	}
	if rec.ServiceEndDate, err = parseFloat(cell(c.end)); err != nil {
		return rec, badCell(ColServiceEndDate, cell(c.end), line, err)
	}
	if rec.ServerID, err = parseInt(cell(c.server)); err != nil {
		return rec, badCell(ColServerID, cell(c.server), line, err)
	}
	if raw := cell(c.exit); raw != "" && !strings.EqualFold(raw, "nan") {
		exit, err := parseFloat(raw)
		if err != nil {
			return rec, badCell(ColExitDate, raw, line, err)
		}
		rec.ExitDate = &exit
	}
	return rec, nil
}

func badCell(column, value string, line int, cause error) error {
	return errors.Wrap(cause, errors.CodeMalformedRecord, "cannot parse trace cell").
		WithContext("column", column).
		WithContext("value", value).
		WithContext("line", line)
}

// parseFloat rejects NaN and infinities, which ParseFloat accepts.
func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrSyntax
	}
	return f, nil
}

// parseInt accepts integral floats ("3.0") as written by dataframe exports.
func parseInt(s string) (int, error) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, strconv.ErrSyntax
	}
	return int(f), nil
}
