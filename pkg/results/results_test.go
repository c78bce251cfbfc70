package results

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/stats"
)

func sampleRecord(id string) *Record {
	return &Record{
		ID:           id,
		Experiment:   replication.DefaultExperiment(),
		Replications: 1,
		Rows: []model.SummaryRow{{
			Replication: 0,
			Metrics:     []model.Metric{{Name: "03_mean_nurse_waiting_time", Value: math.NaN()}},
		}},
		Statistics: stats.AggregateStatistics{Metrics: []stats.Summary{
			{Metric: "03_mean_nurse_waiting_time", Mean: math.NaN(), Std: math.NaN()},
		}},
		EventLog: []model.EventLogEntry{
			{Patient: 1, Pathway: model.DefaultPathway, EventType: model.EventTypeResourceUse, Event: "operator_begins", Time: 2, ResourceID: model.Int(3)},
		},
		Traces:    model.TraceCollection{{EntityID: 1, ServiceStartDate: 2, ServiceEndDate: 4, ServerID: 3, ExitDate: model.Float(4)}},
		Elapsed:   1200 * time.Millisecond,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecode_KeepsNaN(t *testing.T) {
	data, err := Encode(sampleRecord("r1"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	rec, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if v := rec.Rows[0].Metrics[0].Value; !math.IsNaN(v) {
		t.Errorf("expected NaN KPI after decode, got %v", v)
	}
	if rec.Statistics.Metrics[0].HasData() {
		t.Error("no-data summary should stay no-data")
	}
	if rec.EventLog[0].ResourceID == nil || *rec.EventLog[0].ResourceID != 3 {
		t.Errorf("resource id lost: %+v", rec.EventLog[0])
	}
	if !rec.Traces[0].HasExit() {
		t.Error("exit date lost")
	}
}

func TestEncodeDecode_KeepsZeroPointers(t *testing.T) {
	rec := sampleRecord("r0")
	rec.EventLog[0].ResourceID = model.Int(0)
	rec.Traces[0].ServerID = 0
	rec.Traces[0].ExitDate = model.Float(0)
	rec.EventLog = append(rec.EventLog, model.EventLogEntry{
		Patient: 1, Pathway: model.DefaultPathway, EventType: model.EventTypeArrivalDeparture, Event: model.EventArrival,
	})

	data, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got.EventLog) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.EventLog))
	}
	if got.EventLog[0].ResourceID == nil || *got.EventLog[0].ResourceID != 0 {
		t.Errorf("resource id 0 lost: %+v", got.EventLog[0])
	}
	if got.EventLog[1].HasResource() {
		t.Errorf("arrival should stay without a resource id: %+v", got.EventLog[1])
	}
	if got.Traces[0].ExitDate == nil || *got.Traces[0].ExitDate != 0 {
		t.Errorf("exit date 0 lost: %+v", got.Traces[0])
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	if _, err := s.Latest(ctx); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("empty store should report NotFound, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, sampleRecord(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if s.Len() != 2 {
		t.Errorf("expected capacity 2 to hold, got %d", s.Len())
	}
	if _, err := s.Get(ctx, "r0"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("oldest run should be evicted, got %v", err)
	}
	latest, err := s.Latest(ctx)
	if err != nil || latest.ID != "r2" {
		t.Errorf("expected latest r2, got %v, %v", latest, err)
	}

	// Re-putting an older run makes it the latest again.
	if err := s.Put(ctx, sampleRecord("r1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if latest, _ := s.Latest(ctx); latest.ID != "r1" {
		t.Errorf("expected latest r1, got %s", latest.ID)
	}
	if s.Len() != 2 {
		t.Errorf("re-put should not grow the store, got %d", s.Len())
	}

	if err := s.Put(ctx, &Record{}); !errors.IsCode(err, errors.CodeStoreFailed) {
		t.Errorf("record without id should be rejected, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), "", RedisConfig{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}
	if _, err := Open(context.Background(), "etcd", RedisConfig{}); !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected CodeInvalidConfig, got %v", err)
	}
}

// TestRedisStore runs against a live server when CALLFLOW_TEST_REDIS names one.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CALLFLOW_TEST_REDIS")
	if addr == "" {
		t.Skip("CALLFLOW_TEST_REDIS not set")
	}
	ctx := context.Background()

	cfg := DefaultRedisConfig(addr)
	cfg.Prefix = fmt.Sprintf("callflow:test:%d:", time.Now().UnixNano())
	cfg.TTL = time.Minute
	s, err := NewRedisStore(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()

	if err := s.Put(ctx, sampleRecord("r1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	rec, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Elapsed != 1200*time.Millisecond {
		t.Errorf("unexpected elapsed %v", rec.Elapsed)
	}
	latest, err := s.Latest(ctx)
	if err != nil || latest.ID != "r1" {
		t.Errorf("expected latest r1, got %v, %v", latest, err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
}
