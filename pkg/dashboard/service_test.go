package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/eventlog"
	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/logging"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/results"
	"github.com/callflow/callflow/pkg/state"
	"github.com/callflow/callflow/pkg/stats"
	"github.com/callflow/callflow/pkg/writer"
)

// twoStageTraces returns one caller seen by an operator and then a nurse.
// The operator wait grows with the replication index.
func twoStageTraces(index int) model.TraceCollection {
	w := float64(index)
	return model.TraceCollection{
		{EntityID: 1, ArrivalDate: 0, ServiceStartDate: w, ServiceEndDate: w + 2, ServerID: 1},
		{EntityID: 1, ArrivalDate: w + 2, ServiceStartDate: w + 3, ServiceEndDate: w + 5, ServerID: 2, ExitDate: model.Float(w + 5)},
	}
}

func fakeEngine(calls *int32) replication.Engine {
	return replication.EngineFunc(func(ctx context.Context, task replication.Task) (replication.Output, error) {
		atomic.AddInt32(calls, 1)
		traces := twoStageTraces(task.Index)
		row, err := kpi.Derive(task.Index, traces, task.Experiment.KPIParams())
		if err != nil {
			return replication.Output{}, err
		}
		return replication.Output{Row: row, Traces: traces}, nil
	})
}

func newService(t *testing.T, engine replication.Engine, opts ...Option) *Service {
	t.Helper()
	b, err := eventlog.NewBuilder([]string{"operator", "nurse"})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewService(engine, b, opts...)
}

type fakeHistory struct {
	mu        sync.Mutex
	created   []string
	completed []string
	failed    []string
}

func (h *fakeHistory) CreateRun(_ context.Context, run *state.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, run.ID)
	return nil
}

func (h *fakeHistory) CompleteRun(_ context.Context, id string, _ stats.AggregateStatistics, _ time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, id)
	return nil
}

func (h *fakeHistory) FailRun(_ context.Context, id string, _ error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, id)
	return nil
}

func TestService_Run(t *testing.T) {
	var calls int32
	hist := &fakeHistory{}
	svc := newService(t, fakeEngine(&calls), WithHistory(hist))

	var progress []int
	rec, err := svc.Run(context.Background(),
		Request{Experiment: replication.DefaultExperiment(), Replications: 3},
		WithProgress(func(done, total int) { progress = append(progress, done) }),
	)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if calls != 3 {
		t.Errorf("expected 3 engine calls, got %d", calls)
	}
	if len(progress) != 3 || progress[2] != 3 {
		t.Errorf("unexpected progress %v", progress)
	}
	if rec.ID == "" || len(rec.Rows) != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}

	wait, ok := rec.Statistics.Lookup(kpi.MeanWaitingTime)
	if !ok {
		t.Fatal("missing operator wait statistics")
	}
	if wait.Mean != 1 || wait.Min != 0 || wait.Max != 2 || wait.Median != 1 {
		t.Errorf("unexpected operator wait stats %+v", wait)
	}

	// 1 + 3k + 1 entries for one entity over two nodes, from replication 0.
	if len(rec.EventLog) != 8 {
		t.Errorf("expected 8 event log entries, got %d", len(rec.EventLog))
	}
	if rec.Traces[0].ServiceStartDate != 0 {
		t.Error("event log should come from replication 0")
	}

	latest, err := svc.Latest(context.Background())
	if err != nil || latest.ID != rec.ID {
		t.Errorf("new run should be latest, got %v, %v", latest, err)
	}
	if len(hist.created) != 1 || len(hist.completed) != 1 || hist.completed[0] != rec.ID {
		t.Errorf("history not recorded: %+v", hist)
	}
}

func TestService_RunRejectsZeroReplications(t *testing.T) {
	var calls int32
	hist := &fakeHistory{}
	svc := newService(t, fakeEngine(&calls), WithHistory(hist))

	_, err := svc.Run(context.Background(), Request{Experiment: replication.DefaultExperiment(), Replications: 0})
	if !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Fatalf("expected CodeInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "Set number of replications to 1 or above") {
		t.Errorf("unexpected message %q", err)
	}
	if calls != 0 {
		t.Errorf("engine must not run, got %d calls", calls)
	}
	if len(hist.created) != 0 {
		t.Error("rejected requests are not recorded")
	}
}

func TestService_RunFailureKeepsPreviousResult(t *testing.T) {
	var calls int32
	hist := &fakeHistory{}
	good := fakeEngine(&calls)
	failing := false
	engine := replication.EngineFunc(func(ctx context.Context, task replication.Task) (replication.Output, error) {
		if failing && task.Index == 1 {
			return replication.Output{}, fmt.Errorf("simulator crashed")
		}
		return good.Run(ctx, task)
	})
	svc := newService(t, engine, WithHistory(hist))

	first, err := svc.Run(context.Background(), Request{Experiment: replication.DefaultExperiment(), Replications: 2})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	failing = true
	if _, err := svc.Run(context.Background(), Request{Experiment: replication.DefaultExperiment(), Replications: 2}); !errors.IsCode(err, errors.CodeEngineFailed) {
		t.Fatalf("expected CodeEngineFailed, got %v", err)
	}

	latest, _ := svc.Latest(context.Background())
	if latest.ID != first.ID {
		t.Error("a failed run must not replace the previous result")
	}
	if len(hist.failed) != 1 {
		t.Errorf("expected one failed run recorded, got %v", hist.failed)
	}
}

func TestService_RunWithID(t *testing.T) {
	var calls int32
	svc := newService(t, fakeEngine(&calls), WithResults(results.NewMemoryStore(4)))

	rec, err := svc.Run(context.Background(), Request{Experiment: replication.DefaultExperiment(), Replications: 1}, WithRunID("fixed"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.ID != "fixed" {
		t.Errorf("expected id fixed, got %s", rec.ID)
	}
	if _, err := svc.Get(context.Background(), "fixed"); err != nil {
		t.Errorf("Get failed: %v", err)
	}
}

func TestService_Bundle(t *testing.T) {
	var calls int32
	svc := newService(t, fakeEngine(&calls))
	exp := replication.DefaultExperiment()
	exp.Operators = 4
	rec, err := svc.Run(context.Background(), Request{Experiment: exp, Replications: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	b, err := svc.Bundle(rec)
	if err != nil {
		t.Fatalf("Bundle failed: %v", err)
	}
	if b.Scenario.Operators != 4 || b.Scenario.Nurses != 9 {
		t.Errorf("unexpected scenario %+v", b.Scenario)
	}

	var buf bytes.Buffer
	if err := writer.WriteBundle(&buf, b); err != nil {
		t.Fatalf("WriteBundle failed: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("bundle is not JSON: %v", err)
	}
	for _, key := range []string{"event_log", "event_positions", "scenario", "options"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("bundle missing %q", key)
		}
	}
}

func TestHistogram(t *testing.T) {
	var calls int32
	svc := newService(t, fakeEngine(&calls))
	rec, err := svc.Run(context.Background(), Request{Experiment: replication.DefaultExperiment(), Replications: 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	bins, err := Histogram(rec, kpi.MeanWaitingTime, 2)
	if err != nil {
		t.Fatalf("Histogram failed: %v", err)
	}
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if len(bins) != 2 || total != 4 {
		t.Errorf("unexpected bins %+v", bins)
	}

	if _, err := Histogram(rec, "05_unknown", 0); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
	if _, err := Histogram(rec, kpi.MeanWaitingTime, stats.MaxBins+1); !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected CodeInvalidConfig for too many bins, got %v", err)
	}
}

func TestUnplaced(t *testing.T) {
	entries, err := eventlog.Build(twoStageTraces(0), []string{"operator", "nurse"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := unplaced(entries, nil); len(got) != 6 {
		t.Errorf("expected every stage event unplaced, got %v", got)
	}
}
