package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/parser"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/storage"
	"github.com/callflow/callflow/pkg/writer"
)

// ArchiveEngine replays recorded replication traces. Replication i reads the
// object named by fmt.Sprintf(pattern, i) under prefix; the file extension
// selects the format. The experiment only feeds KPI normalisation.
type ArchiveEngine struct {
	store   storage.ObjectStore
	prefix  string
	pattern string
}

// NewArchiveEngine creates an engine over store.
func NewArchiveEngine(store storage.ObjectStore, prefix, pattern string) *ArchiveEngine {
	if pattern == "" {
		pattern = DefaultArchivePattern
	}
	return &ArchiveEngine{store: store, prefix: prefix, pattern: pattern}
}

// Key returns the object key of replication index.
func (e *ArchiveEngine) Key(index int) string {
	return storage.Join(e.prefix, fmt.Sprintf(e.pattern, index))
}

// Run implements replication.Engine.
func (e *ArchiveEngine) Run(ctx context.Context, task replication.Task) (replication.Output, error) {
	key := e.Key(task.Index)

	reader, err := parser.NewTraceReader(parser.DetectFormat(key))
	if err != nil {
		return replication.Output{}, errors.Wrap(err, errors.CodeEngineFailed, "archived trace has an unsupported format").
			WithContext("key", key)
	}

	rc, err := e.store.Get(ctx, key)
	if err != nil {
		return replication.Output{}, errors.Wrap(err, errors.CodeEngineFailed, "no archived traces for replication").
			WithContext("key", key).
			WithContext("replication", task.Index)
	}
	defer rc.Close()

	traces, err := reader.Read(ctx, rc)
	if err != nil {
		return replication.Output{}, errors.Wrap(err, errors.CodeEngineFailed, "failed to read archived traces").
			WithContext("key", key)
	}

	row, err := kpi.Derive(task.Index, traces, task.Experiment.KPIParams())
	if err != nil {
		return replication.Output{}, err
	}
	return replication.Output{Row: row, Traces: traces}, nil
}

// Record stores every replication's traces as CSV so an ArchiveEngine with
// the same prefix and pattern can replay the batch.
func Record(ctx context.Context, store storage.ObjectStore, prefix, pattern string, result *replication.Result) error {
	if parser.DetectFormat(pattern) != parser.FormatCSV {
		return errors.InvalidConfig("engine.archive_pattern", pattern, "recorded traces are CSV; pattern must end in .csv")
	}
	archive := NewArchiveEngine(store, prefix, pattern)
	for i, traces := range result.Traces {
		var buf bytes.Buffer
		if err := writer.WriteTracesCSV(&buf, traces); err != nil {
			return err
		}
		if err := store.Put(ctx, archive.Key(i), &buf); err != nil {
			return err
		}
	}
	return nil
}
