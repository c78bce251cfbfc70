// Package stats aggregates per-replication KPI rows into descriptive
// statistics and histograms.
package stats

import (
	"math"
	"sort"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// Summary holds the descriptive statistics of one KPI across replications.
// Std is NaN when fewer than two finite values exist; every field is NaN
// when the KPI had no finite values at all.
type Summary struct {
	Metric string  `json:"metric"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q25    float64 `json:"25%"`
	Median float64 `json:"50%"`
	Q75    float64 `json:"75%"`
	Max    float64 `json:"max"`
}

// StdDefined reports whether the standard deviation could be computed.
func (s Summary) StdDefined() bool {
	return !math.IsNaN(s.Std)
}

// HasData reports whether the KPI had at least one finite value.
func (s Summary) HasData() bool {
	return !math.IsNaN(s.Mean)
}

// Values returns the statistics in display column order.
func (s Summary) Values() []float64 {
	return []float64{s.Mean, s.Std, s.Min, s.Q25, s.Median, s.Q75, s.Max}
}

// Rounded returns a copy with every statistic rounded to places decimals.
// NaN stays NaN.
func (s Summary) Rounded(places int) Summary {
	s.Mean = Round(s.Mean, places)
	s.Std = Round(s.Std, places)
	s.Min = Round(s.Min, places)
	s.Q25 = Round(s.Q25, places)
	s.Median = Round(s.Median, places)
	s.Q75 = Round(s.Q75, places)
	s.Max = Round(s.Max, places)
	return s
}

// StatColumns are the statistic column labels in display order.
var StatColumns = []string{"mean", "std", "min", "25%", "50%", "75%", "max"}

// AggregateStatistics is one Summary per KPI, in the rows' column order.
type AggregateStatistics struct {
	Metrics []Summary `json:"metrics"`
}

// Empty reports whether there is nothing to show.
func (a AggregateStatistics) Empty() bool {
	return len(a.Metrics) == 0
}

// Lookup returns the Summary of the named KPI.
func (a AggregateStatistics) Lookup(metric string) (Summary, bool) {
	for _, s := range a.Metrics {
		if s.Metric == metric {
			return s, true
		}
	}
	return Summary{}, false
}

// Aggregate computes per-KPI statistics across replication rows.
//
// Column order is taken from the first row and every row must carry the same
// KPI names in the same order. No rows yields empty statistics ("no data"),
// not an error.
func Aggregate(rows []model.SummaryRow) (AggregateStatistics, error) {
	if len(rows) == 0 {
		return AggregateStatistics{}, nil
	}

	names := rows[0].Names()
	for _, row := range rows[1:] {
		if !sameNames(names, row.Metrics) {
			return AggregateStatistics{}, errors.New(errors.CodeSchemaMismatch, "replication rows carry different KPIs").
				WithContext("replication", row.Replication).
				WithContext("expected", names).
				WithContext("got", row.Names())
		}
	}

	out := AggregateStatistics{Metrics: make([]Summary, len(names))}
	column := make([]float64, len(rows))
	for col, name := range names {
		for i, row := range rows {
			column[i] = row.Metrics[col].Value
		}
		s := Describe(column)
		s.Metric = name
		out.Metrics[col] = s
	}
	return out, nil
}

func sameNames(names []string, metrics []model.Metric) bool {
	if len(names) != len(metrics) {
		return false
	}
	for i, m := range metrics {
		if m.Name != names[i] {
			return false
		}
	}
	return true
}

// Describe computes statistics over values, ignoring NaN and infinities.
// values is not modified.
func Describe(values []float64) Summary {
	finite := Finite(values)
	n := len(finite)
	if n == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, Std: nan, Min: nan, Q25: nan, Median: nan, Q75: nan, Max: nan}
	}

	sort.Float64s(finite)

	return Summary{
		Mean:   Mean(finite),
		Std:    StdDev(finite),
		Min:    finite[0],
		Q25:    percentileSorted(finite, 0.25),
		Median: percentileSorted(finite, 0.50),
		Q75:    percentileSorted(finite, 0.75),
		Max:    finite[n-1],
	}
}

// Finite returns a copy of values without NaN or infinite entries.
func Finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Mean returns the arithmetic mean, or NaN for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1 denominator).
// It is NaN for fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	mean := Mean(values)
	varianceSum := 0.0
	for _, v := range values {
		diff := v - mean
		varianceSum += diff * diff
	}
	return math.Sqrt(varianceSum / float64(len(values)-1))
}

// Percentile returns the p-quantile (0 <= p <= 1) of values using linear
// interpolation between order statistics. NaN for no finite values.
func Percentile(values []float64, p float64) float64 {
	finite := Finite(values)
	if len(finite) == 0 {
		return math.NaN()
	}
	sort.Float64s(finite)
	return percentileSorted(finite, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	weight := pos - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Round rounds value to the given number of decimal places.
func Round(value float64, places int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
