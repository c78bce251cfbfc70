// Package results keeps completed dashboard runs addressable by run ID.
package results

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/stats"
)

// Record is one completed run as served by the API.
type Record struct {
	ID           string
	Experiment   replication.Experiment
	Replications int

	// Rows holds one KPI row per replication, in replication order.
	Rows       []model.SummaryRow
	Statistics stats.AggregateStatistics

	// EventLog and Traces come from replication 0.
	EventLog []model.EventLogEntry
	Traces   model.TraceCollection

	Elapsed   time.Duration
	CreatedAt time.Time
}

// Store holds completed runs. Putting a run makes it the latest.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Latest(ctx context.Context) (*Record, error)
	Close() error
}

// wireRecord is the gob form of a Record. gob drops zero values even behind
// pointers, so optional fields travel with explicit presence flags.
type wireRecord struct {
	ID           string
	Experiment   replication.Experiment
	Replications int
	Rows         []model.SummaryRow
	Statistics   stats.AggregateStatistics
	EventLog     []wireEntry
	Traces       []wireTrace
	Elapsed      time.Duration
	CreatedAt    time.Time
}

type wireEntry struct {
	Patient     int
	Pathway     string
	EventType   model.EventType
	Event       string
	Time        float64
	HasResource bool
	Resource    int
}

type wireTrace struct {
	EntityID         int
	ArrivalDate      float64
	ServiceStartDate float64
	ServiceEndDate   float64
	ServerID         int
	HasExit          bool
	Exit             float64
}

func toWire(rec *Record) *wireRecord {
	w := &wireRecord{
		ID:           rec.ID,
		Experiment:   rec.Experiment,
		Replications: rec.Replications,
		Rows:         rec.Rows,
		Statistics:   rec.Statistics,
		EventLog:     make([]wireEntry, len(rec.EventLog)),
		Traces:       make([]wireTrace, len(rec.Traces)),
		Elapsed:      rec.Elapsed,
		CreatedAt:    rec.CreatedAt,
	}
	for i, e := range rec.EventLog {
		we := wireEntry{Patient: e.Patient, Pathway: e.Pathway, EventType: e.EventType, Event: e.Event, Time: e.Time}
		if e.ResourceID != nil {
			we.HasResource, we.Resource = true, *e.ResourceID
		}
		w.EventLog[i] = we
	}
	for i, t := range rec.Traces {
		wt := wireTrace{
			EntityID:         t.EntityID,
			ArrivalDate:      t.ArrivalDate,
			ServiceStartDate: t.ServiceStartDate,
			ServiceEndDate:   t.ServiceEndDate,
			ServerID:         t.ServerID,
		}
		if t.ExitDate != nil {
			wt.HasExit, wt.Exit = true, *t.ExitDate
		}
		w.Traces[i] = wt
	}
	return w
}

func fromWire(w *wireRecord) *Record {
	rec := &Record{
		ID:           w.ID,
		Experiment:   w.Experiment,
		Replications: w.Replications,
		Rows:         w.Rows,
		Statistics:   w.Statistics,
		Elapsed:      w.Elapsed,
		CreatedAt:    w.CreatedAt,
	}
	if len(w.EventLog) > 0 {
		rec.EventLog = make([]model.EventLogEntry, len(w.EventLog))
	}
	for i, we := range w.EventLog {
		e := model.EventLogEntry{Patient: we.Patient, Pathway: we.Pathway, EventType: we.EventType, Event: we.Event, Time: we.Time}
		if we.HasResource {
			e.ResourceID = model.Int(we.Resource)
		}
		rec.EventLog[i] = e
	}
	if len(w.Traces) > 0 {
		rec.Traces = make(model.TraceCollection, len(w.Traces))
	}
	for i, wt := range w.Traces {
		t := model.TraceRecord{
			EntityID:         wt.EntityID,
			ArrivalDate:      wt.ArrivalDate,
			ServiceStartDate: wt.ServiceStartDate,
			ServiceEndDate:   wt.ServiceEndDate,
			ServerID:         wt.ServerID,
		}
		if wt.HasExit {
			t.ExitDate = model.Float(wt.Exit)
		}
		rec.Traces[i] = t
	}
	return rec
}

// Encode serialises rec. gob keeps NaN KPI values intact.
func Encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toWire(rec)); err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to encode run").WithContext("run", rec.ID)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Record, error) {
	w := &wireRecord{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(w); err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to decode run")
	}
	return fromWire(w), nil
}

// Open returns the store for backend: "memory" (or empty) or "redis".
func Open(ctx context.Context, backend string, redisCfg RedisConfig) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(DefaultMemoryCapacity), nil
	case "redis":
		s, err := NewRedisStore(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.InvalidConfig("results.backend", backend, "must be memory or redis")
	}
}
