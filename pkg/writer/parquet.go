package writer

import (
	"context"
	"io"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// EventLogSchema is the Arrow schema of an event log table.
func EventLogSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "patient", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "pathway", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "event_type", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "event", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "time", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "resource_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
}

// ParquetWriter writes event log entries to Parquet using Apache Arrow.
type ParquetWriter struct {
	cfg    Config
	schema *arrow.Schema
	writer *pqarrow.FileWriter

	patientBuilder   *array.Int64Builder
	pathwayBuilder   *array.StringBuilder
	eventTypeBuilder *array.StringBuilder
	eventBuilder     *array.StringBuilder
	timeBuilder      *array.Float64Builder
	resourceBuilder  *array.Int64Builder

	mu               sync.Mutex
	rowCount         int
	totalRowsWritten int64
	closed           bool
}

// NewParquetWriter creates a writer over output.
func NewParquetWriter(output io.Writer, cfg Config) (*ParquetWriter, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	allocator := memory.NewGoAllocator()
	schema := EventLogSchema()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(cfg.Compression.codec()),
		parquet.WithDictionaryDefault(true),
		parquet.WithCreatedBy("callflow"),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to create parquet writer")
	}

	return &ParquetWriter{
		cfg:              cfg,
		schema:           schema,
		writer:           writer,
		patientBuilder:   array.NewInt64Builder(allocator),
		pathwayBuilder:   array.NewStringBuilder(allocator),
		eventTypeBuilder: array.NewStringBuilder(allocator),
		eventBuilder:     array.NewStringBuilder(allocator),
		timeBuilder:      array.NewFloat64Builder(allocator),
		resourceBuilder:  array.NewInt64Builder(allocator),
	}, nil
}

// WriteEntries appends entries, flushing a record batch every BatchSize rows.
func (w *ParquetWriter) WriteEntries(ctx context.Context, entries []model.EventLogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New(errors.CodeWriteFailed, "parquet writer is closed")
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return errors.ContextCanceled("write parquet event log", err)
		}
		w.appendEntry(e)
		w.rowCount++
		if w.rowCount >= w.cfg.BatchSize {
			if err := w.flushBatch(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *ParquetWriter) appendEntry(e model.EventLogEntry) {
	w.patientBuilder.Append(int64(e.Patient))
	w.pathwayBuilder.Append(e.Pathway)
	w.eventTypeBuilder.Append(string(e.EventType))
	w.eventBuilder.Append(e.Event)
	w.timeBuilder.Append(e.Time)
	if e.HasResource() {
		w.resourceBuilder.Append(int64(*e.ResourceID))
	} else {
		w.resourceBuilder.AppendNull()
	}
}

func (w *ParquetWriter) flushBatch() error {
	if w.rowCount == 0 {
		return nil
	}

	cols := []arrow.Array{
		w.patientBuilder.NewArray(),
		w.pathwayBuilder.NewArray(),
		w.eventTypeBuilder.NewArray(),
		w.eventBuilder.NewArray(),
		w.timeBuilder.NewArray(),
		w.resourceBuilder.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	batch := array.NewRecord(w.schema, cols, int64(w.rowCount))
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write record batch")
	}

	w.totalRowsWritten += int64(w.rowCount)
	w.rowCount = 0
	return nil
}

// Close flushes remaining rows and finalizes the file.
func (w *ParquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.flushBatch(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to close parquet writer")
	}

	w.patientBuilder.Release()
	w.pathwayBuilder.Release()
	w.eventTypeBuilder.Release()
	w.eventBuilder.Release()
	w.timeBuilder.Release()
	w.resourceBuilder.Release()

	w.closed = true
	return nil
}

// RowsWritten returns the total number of rows written.
func (w *ParquetWriter) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalRowsWritten
}

// WriteEventLogParquet writes a whole event log as one Parquet file.
func WriteEventLogParquet(ctx context.Context, out io.Writer, entries []model.EventLogEntry, cfg Config) error {
	pw, err := NewParquetWriter(out, cfg)
	if err != nil {
		return err
	}
	if err := pw.WriteEntries(ctx, entries); err != nil {
		pw.Close()
		return err
	}
	return pw.Close()
}
