// Package kpi derives the per-replication KPI row of the call-centre model
// from raw trace records.
package kpi

import (
	"math"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/eventlog"
)

// KPI names, in column order.
const (
	MeanWaitingTime      = "01_mean_waiting_time"
	OperatorUtil         = "02_operator_util"
	MeanNurseWaitingTime = "03_mean_nurse_waiting_time"
	NurseUtil            = "04_nurse_util"
)

// Names lists every KPI in column order.
var Names = []string{MeanWaitingTime, OperatorUtil, MeanNurseWaitingTime, NurseUtil}

var labels = map[string]string{
	MeanWaitingTime:      "Time waiting for operator (mins)",
	OperatorUtil:         "Operator utilisation (%)",
	MeanNurseWaitingTime: "Time waiting for nurse (mins)",
	NurseUtil:            "Nurse utilisation (%)",
}

// Label returns the display label of a KPI, or the name itself when unknown.
func Label(name string) string {
	if l, ok := labels[name]; ok {
		return l
	}
	return name
}

// Params are the model settings the KPIs are normalised by.
type Params struct {
	Operators int
	Nurses    int
	Period    float64
}

func (p Params) validate() error {
	if p.Operators < 1 {
		return errors.InvalidConfig("operators", p.Operators, "must be at least 1")
	}
	if p.Nurses < 0 {
		return errors.InvalidConfig("nurses", p.Nurses, "must not be negative")
	}
	if !(p.Period > 0) {
		return errors.InvalidConfig("results_collection_period", p.Period, "must be positive")
	}
	return nil
}

// nodeTotals accumulates waits and service durations at one node.
type nodeTotals struct {
	visits  int
	wait    float64
	service float64
}

func (n nodeTotals) meanWait() float64 {
	if n.visits == 0 {
		return math.NaN()
	}
	return n.wait / float64(n.visits)
}

func (n nodeTotals) utilisation(period float64, capacity int) float64 {
	if capacity < 1 {
		return math.NaN()
	}
	return n.service / (period * float64(capacity)) * 100
}

// Derive computes one replication's KPI row. Node 0 is the operator stage
// and node 1 the nurse callback; a record's node is its position among its
// entity's records.
func Derive(replication int, traces model.TraceCollection, p Params) (model.SummaryRow, error) {
	if err := p.validate(); err != nil {
		return model.SummaryRow{}, err
	}

	var nodes [2]nodeTotals
	for _, g := range eventlog.GroupByEntity(traces) {
		for i, rec := range g.Records {
			if i >= len(nodes) {
				break
			}
			nodes[i].visits++
			nodes[i].wait += rec.WaitingTime()
			nodes[i].service += rec.ServiceTime()
		}
	}

	operator, nurse := nodes[0], nodes[1]
	return model.SummaryRow{
		Replication: replication,
		Metrics: []model.Metric{
			{Name: MeanWaitingTime, Value: operator.meanWait()},
			{Name: OperatorUtil, Value: operator.utilisation(p.Period, p.Operators)},
			{Name: MeanNurseWaitingTime, Value: nurse.meanWait()},
			{Name: NurseUtil, Value: nurse.utilisation(p.Period, p.Nurses)},
		},
	}, nil
}
