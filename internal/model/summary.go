package model

// Metric is one named KPI value.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// SummaryRow holds the KPIs of a single replication, in column order.
type SummaryRow struct {
	Replication int      `json:"replication"`
	Metrics     []Metric `json:"metrics"`
}

// Names returns the KPI names in column order.
func (r SummaryRow) Names() []string {
	names := make([]string, len(r.Metrics))
	for i, m := range r.Metrics {
		names[i] = m.Name
	}
	return names
}

// Value returns the value of the named KPI.
func (r SummaryRow) Value(name string) (float64, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// Column extracts one KPI across rows. Rows missing the KPI are skipped.
func Column(rows []SummaryRow, name string) []float64 {
	values := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Value(name); ok {
			values = append(values, v)
		}
	}
	return values
}
