package parser

import (
	"context"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// XLSXReader reads trace records from the first sheet of an Excel workbook.
type XLSXReader struct {
	// Sheet overrides the sheet to read.
	Sheet string
}

// NewXLSXReader creates a reader for the first sheet.
func NewXLSXReader() *XLSXReader {
	return &XLSXReader{}
}

// Read implements TraceReader.
func (p *XLSXReader) Read(ctx context.Context, r io.Reader) (model.TraceCollection, error) {
	var (
		xl  *excelize.File
		err error
	)
	if f, ok := r.(*os.File); ok {
		xl, err = excelize.OpenFile(f.Name())
	} else {
		xl, err = excelize.OpenReader(r)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to open xlsx")
	}
	defer xl.Close()

	sheet := p.Sheet
	if sheet == "" {
		sheet = xl.GetSheetName(0)
	}
	if sheet == "" {
		return nil, errors.New(errors.CodeMalformedRecord, "no sheets found in xlsx file")
	}

	rows, err := xl.Rows(sheet)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to read rows").WithContext("sheet", sheet)
	}
	defer rows.Close()

	if !rows.Next() {
		return model.TraceCollection{}, nil
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to read header")
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	records := make(model.TraceCollection, 0, 256)
	line := 1
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, errors.ContextCanceled("read xlsx traces", err)
		}
		line++

		cells, err := rows.Columns()
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to read row").WithContext("line", line)
		}
		if isBlank(cells) {
			continue
		}

		rec, err := decodeRow(cells, cols, line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Error(); err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to iterate rows")
	}
	return records, nil
}
