package tui

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/state"
	"github.com/callflow/callflow/pkg/stats"
)

func TestPrintSummaryTable(t *testing.T) {
	agg := stats.AggregateStatistics{Metrics: []stats.Summary{
		{Metric: kpi.MeanWaitingTime, Mean: 20, Std: 10, Min: 10, Q25: 15, Median: 20, Q75: 25, Max: 30},
		{Metric: kpi.MeanNurseWaitingTime, Mean: math.NaN(), Std: math.NaN(), Min: math.NaN(), Q25: math.NaN(), Median: math.NaN(), Q75: math.NaN(), Max: math.NaN()},
	}}

	var buf bytes.Buffer
	PrintSummaryTable(&buf, agg)
	out := buf.String()

	for _, want := range []string{"Time waiting for operator (mins)", "20.00", "30.00", "50%", "(no data)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummaryTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	PrintSummaryTable(&buf, stats.AggregateStatistics{})
	if !strings.Contains(buf.String(), "No data.") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestFormatRow(t *testing.T) {
	got := formatRow([]string{"a", "1.00"}, []int{3, 6})
	if got != "a      1.00" {
		t.Errorf("formatRow = %q", got)
	}
}

func TestPrintHistogram(t *testing.T) {
	bins := stats.Histogram([]float64{1, 2, 2, 3, 10}, 3)

	var buf bytes.Buffer
	PrintHistogram(&buf, kpi.NurseUtil, bins, 10)
	out := buf.String()
	if !strings.Contains(out, "NURSE UTILISATION (%)") {
		t.Errorf("missing title:\n%s", out)
	}
	if strings.Count(out, "\n") != len(bins)+2 {
		t.Errorf("expected one line per bin:\n%s", out)
	}
	if !strings.Contains(out, strings.Repeat("█", 10)) {
		t.Errorf("fullest bin should span the width:\n%s", out)
	}
}

func TestPrintHistory(t *testing.T) {
	runs := []*state.Run{
		{ID: "abc", Status: state.StatusCompleted, Experiment: replication.DefaultExperiment(), Replications: 5, DurationMS: 1500, CreatedAt: time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)},
		{ID: "def", Status: state.StatusFailed, Experiment: replication.DefaultExperiment(), Replications: 5, Error: "simulator missing"},
	}

	var buf bytes.Buffer
	PrintHistory(&buf, runs)
	out := buf.String()
	for _, want := range []string{"abc", "2026-02-01 09:30", "ops=13 nurses=9", "1.5s", "simulator missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintRunReportAndError(t *testing.T) {
	var buf bytes.Buffer
	PrintRunReport(&buf, RunReport{RunID: "r1", Experiment: replication.DefaultExperiment(), Replications: 10, Events: 2500, Elapsed: 90 * time.Second})
	PrintError(&buf, errors.New("boom"))
	out := buf.String()
	for _, want := range []string{"r1", "13 operators, 9 nurses", "40%", "1m30s", "2.5K entries", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProgressFunc(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgress(&buf, 3)
	fn := ProgressFunc(bar)
	fn(1, 3)
	fn(3, 3)
	if !bar.IsFinished() {
		t.Error("bar should finish when every replication is done")
	}
}
