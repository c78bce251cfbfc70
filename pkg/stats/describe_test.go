package stats

import (
	"math"
	"testing"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

func row(rep int, kv ...interface{}) model.SummaryRow {
	r := model.SummaryRow{Replication: rep}
	for i := 0; i < len(kv); i += 2 {
		r.Metrics = append(r.Metrics, model.Metric{Name: kv[i].(string), Value: kv[i+1].(float64)})
	}
	return r
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregate_ThreeReplications(t *testing.T) {
	rows := []model.SummaryRow{
		row(0, "wait", 10.0),
		row(1, "wait", 20.0),
		row(2, "wait", 30.0),
	}

	agg, err := Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	s, ok := agg.Lookup("wait")
	if !ok {
		t.Fatal("missing wait summary")
	}

	if s.Mean != 20 || s.Min != 10 || s.Max != 30 || s.Median != 20 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.Q25 != 15 || s.Q75 != 25 {
		t.Errorf("expected interpolated quartiles 15/25, got %v/%v", s.Q25, s.Q75)
	}
	if !approx(s.Std, 10) {
		t.Errorf("expected sample std 10, got %v", s.Std)
	}
}

func TestAggregate_SingleReplication(t *testing.T) {
	agg, err := Aggregate([]model.SummaryRow{row(0, "wait", 4.5, "util", 80.0)})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(agg.Metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(agg.Metrics))
	}

	s := agg.Metrics[0]
	if s.Metric != "wait" || s.Mean != 4.5 || s.Min != 4.5 || s.Max != 4.5 || s.Median != 4.5 {
		t.Errorf("unexpected single-row summary: %+v", s)
	}
	if s.StdDefined() {
		t.Errorf("std must be undefined for one replication, got %v", s.Std)
	}
	if !s.HasData() {
		t.Error("single finite value should count as data")
	}
}

func TestAggregate_KeepsColumnOrder(t *testing.T) {
	rows := []model.SummaryRow{
		row(0, "04_nurse_util", 1.0, "01_mean_waiting_time", 2.0),
		row(1, "04_nurse_util", 3.0, "01_mean_waiting_time", 4.0),
	}
	agg, err := Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if agg.Metrics[0].Metric != "04_nurse_util" || agg.Metrics[1].Metric != "01_mean_waiting_time" {
		t.Errorf("column order not preserved: %+v", agg.Metrics)
	}
}

func TestAggregate_EmptyIsNoData(t *testing.T) {
	agg, err := Aggregate(nil)
	if err != nil {
		t.Fatalf("empty aggregate should not fail: %v", err)
	}
	if !agg.Empty() {
		t.Error("expected empty statistics")
	}
}

func TestAggregate_SchemaMismatch(t *testing.T) {
	_, err := Aggregate([]model.SummaryRow{
		row(0, "wait", 1.0),
		row(1, "util", 1.0),
	})
	if !errors.IsCode(err, errors.CodeSchemaMismatch) {
		t.Errorf("expected CodeSchemaMismatch, got %v", err)
	}
}

func TestAggregate_SkipsNaN(t *testing.T) {
	agg, err := Aggregate([]model.SummaryRow{
		row(0, "nurse_wait", math.NaN()),
		row(1, "nurse_wait", 6.0),
		row(2, "nurse_wait", 2.0),
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	s := agg.Metrics[0]
	if s.Mean != 4 || s.Min != 2 || s.Max != 6 {
		t.Errorf("NaN should be skipped: %+v", s)
	}
}

func TestDescribe_AllNaN(t *testing.T) {
	s := Describe([]float64{math.NaN(), math.NaN()})
	if s.HasData() {
		t.Error("all-NaN column should report no data")
	}
	for i, v := range s.Values() {
		if !math.IsNaN(v) {
			t.Errorf("column %s should be NaN, got %v", StatColumns[i], v)
		}
	}
}

func TestDescribe_DoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Describe(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("input was modified: %v", values)
	}
}

func TestPercentile_Interpolation(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 1.75},
		{0.5, 2.5},
		{0.75, 3.25},
		{1, 4},
	}
	for _, tt := range tests {
		if got := Percentile(values, tt.p); !approx(got, tt.want) {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if !math.IsNaN(Percentile(nil, 0.5)) {
		t.Error("percentile of nothing should be NaN")
	}
}

func TestSummary_Rounded(t *testing.T) {
	s := Summary{Mean: 1.23456, Std: math.NaN(), Min: 1, Q25: 1.005, Median: 2.999, Q75: 3, Max: 4}
	r := s.Rounded(2)
	if r.Mean != 1.23 || r.Median != 3 {
		t.Errorf("unexpected rounding: %+v", r)
	}
	if r.StdDefined() {
		t.Error("rounding must keep NaN std undefined")
	}
}
