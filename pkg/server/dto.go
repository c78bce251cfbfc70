package server

import (
	"math"
	"time"

	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/results"
	"github.com/callflow/callflow/pkg/stats"
	"github.com/callflow/callflow/pkg/writer"
)

// JSON has no NaN; undefined statistics are sent as null.
func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// StatDTO is one row of the summary table.
type StatDTO struct {
	Metric string   `json:"metric"`
	Label  string   `json:"label"`
	Mean   *float64 `json:"mean"`
	Std    *float64 `json:"std"`
	Min    *float64 `json:"min"`
	Q25    *float64 `json:"25%"`
	Median *float64 `json:"50%"`
	Q75    *float64 `json:"75%"`
	Max    *float64 `json:"max"`
}

func newStatDTOs(agg stats.AggregateStatistics) []StatDTO {
	out := make([]StatDTO, 0, len(agg.Metrics))
	for _, s := range agg.Metrics {
		r := s.Rounded(writer.DisplayPlaces)
		out = append(out, StatDTO{
			Metric: s.Metric,
			Label:  kpi.Label(s.Metric),
			Mean:   num(r.Mean),
			Std:    num(r.Std),
			Min:    num(r.Min),
			Q25:    num(r.Q25),
			Median: num(r.Median),
			Q75:    num(r.Q75),
			Max:    num(r.Max),
		})
	}
	return out
}

// RowDTO is one replication's KPI values, unrounded.
type RowDTO struct {
	Replication int                 `json:"replication"`
	Values      map[string]*float64 `json:"values"`
}

func newRowDTOs(rec *results.Record) []RowDTO {
	out := make([]RowDTO, 0, len(rec.Rows))
	for _, row := range rec.Rows {
		values := make(map[string]*float64, len(row.Metrics))
		for _, m := range row.Metrics {
			values[m.Name] = num(m.Value)
		}
		out = append(out, RowDTO{Replication: row.Replication, Values: values})
	}
	return out
}

// RunDTO describes a run, finished or not.
type RunDTO struct {
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	Experiment   replication.Experiment `json:"experiment"`
	Replications int                    `json:"replications"`
	Progress     *Progress              `json:"progress,omitempty"`
	ElapsedMS    int64                  `json:"elapsed_ms,omitempty"`
	Events       int                    `json:"events,omitempty"`
	Summary      []StatDTO              `json:"summary,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

func newRunDTO(rec *results.Record) RunDTO {
	return RunDTO{
		ID:           rec.ID,
		Status:       StatusCompleted,
		Experiment:   rec.Experiment,
		Replications: rec.Replications,
		Progress:     &Progress{Done: rec.Replications, Total: rec.Replications},
		ElapsedMS:    rec.Elapsed.Milliseconds(),
		Events:       len(rec.EventLog),
		Summary:      newStatDTOs(rec.Statistics),
		CreatedAt:    rec.CreatedAt,
	}
}

// BinDTO is one histogram bucket.
type BinDTO struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// HistogramDTO is a KPI's distribution across replications.
type HistogramDTO struct {
	Metric string   `json:"metric"`
	Label  string   `json:"label"`
	Bins   []BinDTO `json:"bins"`
}

func newHistogramDTO(metric string, bins []stats.Bin) HistogramDTO {
	out := HistogramDTO{Metric: metric, Label: kpi.Label(metric), Bins: make([]BinDTO, 0, len(bins))}
	for _, b := range bins {
		out.Bins = append(out.Bins, BinDTO{Lower: b.Lower, Upper: b.Upper, Count: b.Count})
	}
	return out
}
