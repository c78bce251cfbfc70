package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/config"
	"github.com/callflow/callflow/pkg/dashboard"
	"github.com/callflow/callflow/pkg/eventlog"
	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/logging"
	"github.com/callflow/callflow/pkg/replication"
)

func TestExperimentResolution(t *testing.T) {
	cfg = config.Default()
	t.Cleanup(func() { experimentFile = "" })

	path := filepath.Join(t.TempDir(), "experiment.yaml")
	if err := os.WriteFile(path, []byte("operators: 20\nreplications: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	experimentFile = path

	if err := runCmd.Flags().Set("nurses", "4"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		runCmd.Flags().Set("nurses", "0")
		runCmd.Flags().Lookup("nurses").Changed = false
	})

	exp, err := experiment(runCmd)
	if err != nil {
		t.Fatalf("experiment failed: %v", err)
	}
	if exp.Operators != 20 || exp.Replications != 5 {
		t.Errorf("file values not applied: %+v", exp)
	}
	if exp.Nurses != 4 {
		t.Errorf("expected flag to override nurses, got %d", exp.Nurses)
	}
	if exp.CallbackProbability != 0.4 {
		t.Errorf("expected config callback probability, got %v", exp.CallbackProbability)
	}
}

func TestExport(t *testing.T) {
	engine := replication.EngineFunc(func(ctx context.Context, task replication.Task) (replication.Output, error) {
		traces := model.TraceCollection{
			{EntityID: 1, ArrivalDate: 0, ServiceStartDate: 1, ServiceEndDate: 3, ServerID: 1, ExitDate: model.Float(3)},
		}
		row, err := kpi.Derive(task.Index, traces, task.Experiment.KPIParams())
		return replication.Output{Row: row, Traces: traces}, err
	})
	b, err := eventlog.NewBuilder([]string{"operator", "nurse"})
	if err != nil {
		t.Fatal(err)
	}
	svc := dashboard.NewService(engine, b, dashboard.WithLogger(logging.Discard()))
	rec, err := svc.Run(context.Background(), dashboard.Request{Experiment: replication.DefaultExperiment(), Replications: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "out")
	if err := export(context.Background(), svc, rec, dir); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	for _, name := range []string{"summary.csv", "summary.xlsx", "replications.csv", "eventlog.csv", "eventlog.parquet", "bundle.json"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("missing %s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}
