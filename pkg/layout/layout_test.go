package layout

import (
	"reflect"
	"testing"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/eventlog"
)

func TestDefault_ValidForDashboardScenario(t *testing.T) {
	if err := Validate(Default(), Scenario{Operators: 13, Nurses: 9}); err != nil {
		t.Fatalf("default layout rejected: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		positions []Position
	}{
		{"duplicate event", []Position{{Event: "arrival"}, {Event: "arrival"}}},
		{"unknown pool", []Position{{Event: "operator_begins", Resource: "n_clerks"}}},
		{"empty event", []Position{{Label: "Arrival"}}},
		{"empty pool", []Position{{Event: "nurse_begins", Resource: PoolNurses}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.positions, Scenario{Operators: 2})
			if !errors.IsCode(err, errors.CodeInvalidConfig) {
				t.Errorf("expected CodeInvalidConfig, got %v", err)
			}
		})
	}
}

func TestScenario_Capacity(t *testing.T) {
	s := Scenario{Operators: 13, Nurses: 9}
	if c, ok := s.Capacity(PoolOperators); !ok || c != 13 {
		t.Errorf("operators: got %d, %v", c, ok)
	}
	if c, ok := s.Capacity(PoolNurses); !ok || c != 9 {
		t.Errorf("nurses: got %d, %v", c, ok)
	}
	if _, ok := s.Capacity("n_clerks"); ok {
		t.Error("unknown pool should not resolve")
	}
}

func TestMissing(t *testing.T) {
	records := []model.TraceRecord{
		{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 2, ServerID: 1, ExitDate: model.Float(2)},
	}
	entries, err := eventlog.Build(records, []string{"operator", "nurse"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// The renderer only needs the default's stages; *_ends are untracked.
	got := Missing(entries, Default())
	want := []string{"operator_ends"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Missing = %v, want %v", got, want)
	}

	if got := Missing(entries, nil); len(got) != 5 {
		t.Errorf("with no layout every event is missing, got %v", got)
	}
}
