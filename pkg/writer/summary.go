package writer

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/stats"
)

// DisplayPlaces is the number of decimals shown in summary tables.
const DisplayPlaces = 2

// Sheet names used by WriteSummaryXLSX.
const (
	SummarySheet      = "Summary"
	ReplicationsSheet = "Replications"
)

// SummaryTable renders statistics as display rows: one per KPI, first cell
// the KPI label, then the rounded statistics. Undefined values are empty.
func SummaryTable(agg stats.AggregateStatistics) (header []string, rows [][]string) {
	header = append([]string{"metric"}, stats.StatColumns...)
	rows = make([][]string, 0, len(agg.Metrics))
	for _, s := range agg.Metrics {
		row := []string{kpi.Label(s.Metric)}
		for _, v := range s.Rounded(DisplayPlaces).Values() {
			row = append(row, displayFloat(v))
		}
		rows = append(rows, row)
	}
	return header, rows
}

func displayFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', DisplayPlaces, 64)
}

// WriteSummaryCSV writes the display table as CSV.
func WriteSummaryCSV(w io.Writer, agg stats.AggregateStatistics) error {
	header, rows := SummaryTable(agg)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write summary header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write summary table")
	}
	return nil
}

// WriteSummaryXLSX writes a workbook with the rounded statistics on the
// Summary sheet and the raw per-replication rows on the Replications sheet.
func WriteSummaryXLSX(w io.Writer, agg stats.AggregateStatistics, rows []model.SummaryRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to name summary sheet")
	}

	header := append([]string{"metric"}, stats.StatColumns...)
	if err := setRow(f, SummarySheet, 1, toCells(header)); err != nil {
		return err
	}
	for i, s := range agg.Metrics {
		cells := []interface{}{kpi.Label(s.Metric)}
		for _, v := range s.Rounded(DisplayPlaces).Values() {
			cells = append(cells, cellValue(v))
		}
		if err := setRow(f, SummarySheet, i+2, cells); err != nil {
			return err
		}
	}

	if len(rows) > 0 {
		if _, err := f.NewSheet(ReplicationsSheet); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to add replications sheet")
		}
		if err := setRow(f, ReplicationsSheet, 1, toCells(append([]string{"replication"}, rows[0].Names()...))); err != nil {
			return err
		}
		for i, r := range rows {
			cells := []interface{}{r.Replication}
			for _, m := range r.Metrics {
				cells = append(cells, cellValue(m.Value))
			}
			if err := setRow(f, ReplicationsSheet, i+2, cells); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write workbook")
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	ref, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "invalid cell reference")
	}
	if err := f.SetSheetRow(sheet, ref, &cells); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write row").
			WithContext("sheet", sheet).
			WithContext("row", row)
	}
	return nil
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// cellValue leaves undefined statistics blank.
func cellValue(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
