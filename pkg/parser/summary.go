package parser

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// ReadSummaryRows reads per-replication KPI rows from CSV. The header names
// the KPIs; a leading "replication" (or "rep", or unnamed) column is taken
// as the replication index. Empty and "nan" cells read as NaN.
func ReadSummaryRows(ctx context.Context, r io.Reader) ([]model.SummaryRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to read summary header")
	}

	indexed := false
	switch strings.ToLower(strings.TrimSpace(header[0])) {
	case "replication", "rep", "":
		indexed = true
	}
	names := header
	if indexed {
		names = header[1:]
	}

	var rows []model.SummaryRow
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.ContextCanceled("read summary rows", err)
		}
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeSchemaMismatch, "invalid summary row").WithContext("line", line)
		}

		row := model.SummaryRow{Replication: len(rows), Metrics: make([]model.Metric, len(names))}
		values := cells
		if indexed {
			if rep, err := parseInt(strings.TrimSpace(cells[0])); err == nil {
				row.Replication = rep
			}
			values = cells[1:]
		}
		for i, name := range names {
			v, err := parseKPI(values[i])
			if err != nil {
				return nil, badCell(name, values[i], line, err)
			}
			row.Metrics[i] = model.Metric{Name: strings.TrimSpace(name), Value: v}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseKPI(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
