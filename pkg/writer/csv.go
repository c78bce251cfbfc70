package writer

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// WriteEventLogCSV writes entries with the event log header. The
// resource_id column is present only when some entry carries a resource.
func WriteEventLogCSV(w io.Writer, entries []model.EventLogEntry) error {
	withResource := false
	for _, e := range entries {
		if e.HasResource() {
			withResource = true
			break
		}
	}

	header := model.EventLogColumns
	if !withResource {
		header = header[:len(header)-1]
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write event log header")
	}

	row := make([]string, len(header))
	for _, e := range entries {
		row[0] = strconv.Itoa(e.Patient)
		row[1] = e.Pathway
		row[2] = string(e.EventType)
		row[3] = e.Event
		row[4] = formatFloat(e.Time)
		if withResource {
			row[5] = ""
			if e.HasResource() {
				row[5] = strconv.Itoa(*e.ResourceID)
			}
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to write event log row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to flush event log")
	}
	return nil
}

// WriteSummaryRowsCSV writes per-replication KPI rows with a leading
// replication column. NaN values are written as "nan".
func WriteSummaryRowsCSV(w io.Writer, rows []model.SummaryRow) error {
	cw := csv.NewWriter(w)
	if len(rows) == 0 {
		cw.Flush()
		return cw.Error()
	}

	header := append([]string{"replication"}, rows[0].Names()...)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write summary header")
	}
	for _, r := range rows {
		rec := make([]string, 0, len(r.Metrics)+1)
		rec = append(rec, strconv.Itoa(r.Replication))
		for _, m := range r.Metrics {
			rec = append(rec, formatFloat(m.Value))
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to write summary row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to flush summary rows")
	}
	return nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteTracesCSV writes trace records in the column layout parser.CSVReader
// reads. A missing exit date is an empty cell.
func WriteTracesCSV(w io.Writer, records model.TraceCollection) error {
	cw := csv.NewWriter(w)
	header := []string{"entity_id", "arrival_date", "service_start_date", "service_end_date", "server_id", "exit_date"}
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write trace header")
	}

	row := make([]string, len(header))
	for _, r := range records {
		row[0] = strconv.Itoa(r.EntityID)
		row[1] = formatFloat(r.ArrivalDate)
		row[2] = formatFloat(r.ServiceStartDate)
		row[3] = formatFloat(r.ServiceEndDate)
		row[4] = strconv.Itoa(r.ServerID)
		row[5] = ""
		if r.HasExit() {
			row[5] = formatFloat(*r.ExitDate)
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to write trace row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to flush traces")
	}
	return nil
}
