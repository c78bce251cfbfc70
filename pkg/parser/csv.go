package parser

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// CSVReader reads trace records from delimited text with a header row.
type CSVReader struct {
	Delimiter rune
}

// NewCSVReader creates a comma-delimited reader.
func NewCSVReader() *CSVReader {
	return &CSVReader{Delimiter: ','}
}

// Read implements TraceReader.
func (p *CSVReader) Read(ctx context.Context, r io.Reader) (model.TraceCollection, error) {
	cr := csv.NewReader(r)
	cr.Comma = p.Delimiter
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return model.TraceCollection{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to read CSV header")
	}
	// ReuseRecord shares the backing array across reads.
	header = append([]string(nil), header...)

	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	records := make(model.TraceCollection, 0, 256)
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.ContextCanceled("read csv traces", err)
		}

		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeMalformedRecord, "invalid CSV row").WithContext("line", line)
		}
		if isBlank(row) {
			continue
		}

		rec, err := decodeRow(row, cols, line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
