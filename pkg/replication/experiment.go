// Package replication runs independent replications of the call-centre model
// through a pluggable Engine and gathers their KPI rows and traces.
package replication

import (
	"math"

	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/kpi"
)

// DefaultResultsCollectionPeriod is the simulated time (minutes) over which
// KPIs are collected.
const DefaultResultsCollectionPeriod = 1000.0

// Experiment is the model configuration shared by every replication of a run.
type Experiment struct {
	Operators               int     `yaml:"operators" json:"operators"`
	Nurses                  int     `yaml:"nurses" json:"nurses"`
	CallbackProbability     float64 `yaml:"callback_probability" json:"callback_probability"`
	ResultsCollectionPeriod float64 `yaml:"results_collection_period" json:"results_collection_period"`
	BaseSeed                int64   `yaml:"base_seed" json:"base_seed"`
}

// DefaultExperiment returns the dashboard's initial settings.
func DefaultExperiment() Experiment {
	return Experiment{
		Operators:               13,
		Nurses:                  9,
		CallbackProbability:     0.4,
		ResultsCollectionPeriod: DefaultResultsCollectionPeriod,
	}
}

// Validate checks the experiment fields.
func (e Experiment) Validate() error {
	if e.Operators < 1 {
		return errors.InvalidConfig("operators", e.Operators, "at least one call operator is required")
	}
	if e.Nurses < 1 {
		return errors.InvalidConfig("nurses", e.Nurses, "at least one nurse is required")
	}
	if math.IsNaN(e.CallbackProbability) || e.CallbackProbability < 0 || e.CallbackProbability > 1 {
		return errors.InvalidConfig("callback_probability", e.CallbackProbability, "must be between 0 and 1")
	}
	if !(e.ResultsCollectionPeriod > 0) {
		return errors.InvalidConfig("results_collection_period", e.ResultsCollectionPeriod, "must be positive")
	}
	return nil
}

// Seed returns the seed of replication index.
func (e Experiment) Seed(index int) int64 {
	return e.BaseSeed + int64(index)
}

// KPIParams returns the normalisation parameters for KPI derivation.
func (e Experiment) KPIParams() kpi.Params {
	return kpi.Params{
		Operators: e.Operators,
		Nurses:    e.Nurses,
		Period:    e.ResultsCollectionPeriod,
	}
}

// ValidateReplications rejects replication counts below one.
func ValidateReplications(n int) error {
	if n < 1 {
		return errors.InvalidReplications(n)
	}
	return nil
}
