package parser

import (
	"bytes"
	"context"
	"io"
	"math"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// ParquetReader reads trace records from a Parquet file. Numeric columns may
// be any integer or floating-point Arrow type.
type ParquetReader struct {
	alloc     memory.Allocator
	batchSize int64
}

// NewParquetReader creates a Parquet trace reader.
func NewParquetReader() *ParquetReader {
	return &ParquetReader{
		alloc:     memory.DefaultAllocator,
		batchSize: 8192,
	}
}

// Read implements TraceReader. Non-seekable input is buffered in memory.
func (p *ParquetReader) Read(ctx context.Context, r io.Reader) (model.TraceCollection, error) {
	src, ok := r.(parquet.ReaderAtSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to read parquet input")
		}
		src = bytes.NewReader(data)
	}

	pqReader, err := file.NewParquetReader(src)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to create parquet reader")
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{BatchSize: p.batchSize}, p.alloc)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to create arrow reader")
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.ContextCanceled("read parquet traces", ctx.Err())
		}
		return nil, errors.Wrap(err, errors.CodeMalformedRecord, "failed to read parquet table")
	}
	defer table.Release()

	schema := table.Schema()
	header := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		header[i] = f.Name
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	records := make(model.TraceCollection, 0, table.NumRows())
	tr := array.NewTableReader(table, p.batchSize)
	defer tr.Release()

	row := 0
	for tr.Next() {
		rec := tr.Record()
		n := int(rec.NumRows())
		for i := 0; i < n; i++ {
			row++
			trace, err := decodeArrowRow(rec, cols, i, row)
			if err != nil {
				return nil, err
			}
			records = append(records, trace)
		}
	}
	return records, nil
}

func decodeArrowRow(rec arrow.Record, c columns, i, row int) (model.TraceRecord, error) {
	var out model.TraceRecord

	get := func(col int, name string) (float64, error) {
		v, ok := numericAt(rec.Column(col), i)
		if !ok {
			return 0, errors.New(errors.CodeMalformedRecord, "missing or non-numeric trace value").
				WithContext("column", name).
				WithContext("row", row)
		}
		return v, nil
	}

	entity, err := get(c.entity, ColEntityID)
	if err != nil {
		return out, err
	}
	if out.ArrivalDate, err = get(c.arrival, ColArrivalDate); err != nil {
		return out, err
	}
	if out.ServiceStartDate, err = get(c.start, ColServiceStartDate); err != nil {
		return out, err
	}
	if out.ServiceEndDate, err = get(c.end, ColServiceEndDate); err != nil {
		return out, err
	}
	server, err := get(c.server, ColServerID)
	if err != nil {
		return out, err
	}
	out.EntityID = int(entity)
	out.ServerID = int(server)

	if c.exit >= 0 {
		if v, ok := numericAt(rec.Column(c.exit), i); ok {
			out.ExitDate = &v
		}
	}
	return out, nil
}

// numericAt returns the value at row i as float64. Nulls, NaN and
// non-numeric columns report false.
func numericAt(arr arrow.Array, i int) (float64, bool) {
	if arr.IsNull(i) {
		return 0, false
	}
	var v float64
	switch a := arr.(type) {
	case *array.Float64:
		v = a.Value(i)
	case *array.Float32:
		v = float64(a.Value(i))
	case *array.Int64:
		v = float64(a.Value(i))
	case *array.Int32:
		v = float64(a.Value(i))
	case *array.Int16:
		v = float64(a.Value(i))
	case *array.Int8:
		v = float64(a.Value(i))
	case *array.Uint64:
		v = float64(a.Value(i))
	case *array.Uint32:
		v = float64(a.Value(i))
	default:
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
