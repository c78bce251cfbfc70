package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/callflow/callflow/pkg/config"
	"github.com/callflow/callflow/pkg/dashboard"
	"github.com/callflow/callflow/pkg/results"
	"github.com/callflow/callflow/pkg/tui"
	"github.com/callflow/callflow/pkg/writer"
)

// Run flags
var (
	experimentFile  string
	replications    int
	operators       int
	nurses          int
	callbackProb    float64
	baseSeed        int64
	outputDir       string
	compressionFlag string
	histogramMetric string
	histogramBins   int
	quiet           bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the replications of an experiment",
	Long: `Run independent replications of the model, print the KPI summary and
export the results.

Experiment values come from the configuration, then --experiment, then flags.
With --output the run writes:
  summary.csv           aggregate statistics (rounded to 2 dp)
  summary.xlsx          statistics and per-replication KPIs
  replications.csv      per-replication KPIs
  eventlog.csv          animation event log of replication 0
  eventlog.parquet      the same log as Parquet
  bundle.json           event log, layout and renderer options

Examples:
  callflow run
  callflow run --replications 20 --operators 14
  callflow run --experiment scenario.yaml --output out/
  callflow run --histogram 01_mean_waiting_time`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&experimentFile, "experiment", "e", "", "Experiment YAML file")
	runCmd.Flags().IntVarP(&replications, "replications", "n", 0, "Number of replications")
	runCmd.Flags().IntVar(&operators, "operators", 0, "Number of call operators")
	runCmd.Flags().IntVar(&nurses, "nurses", 0, "Number of nurses")
	runCmd.Flags().Float64Var(&callbackProb, "callback", 0, "Probability a caller needs a nurse callback")
	runCmd.Flags().Int64Var(&baseSeed, "seed", 0, "Seed of replication 0")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to export results to")
	runCmd.Flags().StringVar(&compressionFlag, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd)")
	runCmd.Flags().StringVar(&histogramMetric, "histogram", "", "Print the distribution of this KPI")
	runCmd.Flags().IntVar(&histogramBins, "bins", 0, "Histogram bins (default: Sturges)")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the progress bar")

	rootCmd.AddCommand(runCmd)
}

// experiment resolves the experiment of a run from config, file and flags.
func experiment(cmd *cobra.Command) (config.ExperimentConfig, error) {
	exp := cfg.Experiment
	if experimentFile != "" {
		var err error
		if exp, err = config.LoadExperiment(experimentFile, exp); err != nil {
			return exp, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("replications") {
		exp.Replications = replications
	}
	if flags.Changed("operators") {
		exp.Operators = operators
	}
	if flags.Changed("nurses") {
		exp.Nurses = nurses
	}
	if flags.Changed("callback") {
		exp.CallbackProbability = callbackProb
	}
	if flags.Changed("seed") {
		exp.BaseSeed = baseSeed
	}
	return exp, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	exp, err := experiment(cmd)
	if err != nil {
		return err
	}
	req := dashboard.Request{Experiment: exp.Experiment, Replications: exp.Replications}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if !quiet {
		tui.PrintHeader(out, version)
	}

	var opts []dashboard.RunOption
	if !quiet {
		bar := tui.NewProgress(cmd.ErrOrStderr(), req.Replications)
		opts = append(opts, dashboard.WithProgress(tui.ProgressFunc(bar)))
	}

	rec, err := a.svc.Run(ctx, req, opts...)
	if err != nil {
		return err
	}

	tui.PrintRunReport(out, tui.RunReport{
		RunID:        rec.ID,
		Experiment:   rec.Experiment,
		Replications: rec.Replications,
		Events:       len(rec.EventLog),
		Elapsed:      rec.Elapsed,
	})
	tui.PrintSummaryTable(out, rec.Statistics)

	if histogramMetric != "" {
		bins, err := dashboard.Histogram(rec, histogramMetric, histogramBins)
		if err != nil {
			return err
		}
		tui.PrintHistogram(out, histogramMetric, bins, 40)
	}

	if outputDir != "" {
		if err := export(ctx, a.svc, rec, outputDir); err != nil {
			return err
		}
		fmt.Fprintf(out, "  Results written to %s\n\n", outputDir)
	}
	return nil
}

// export writes every download of rec into dir.
func export(ctx context.Context, svc *dashboard.Service, rec *results.Record, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	bundle, err := svc.Bundle(rec)
	if err != nil {
		return err
	}
	parquetCfg := writer.DefaultConfig()
	parquetCfg.Compression = writer.ParseCompression(compressionFlag)

	files := []struct {
		name  string
		write func(f *os.File) error
	}{
		{"summary.csv", func(f *os.File) error { return writer.WriteSummaryCSV(f, rec.Statistics) }},
		{"summary.xlsx", func(f *os.File) error { return writer.WriteSummaryXLSX(f, rec.Statistics, rec.Rows) }},
		{"replications.csv", func(f *os.File) error { return writer.WriteSummaryRowsCSV(f, rec.Rows) }},
		{"eventlog.csv", func(f *os.File) error { return writer.WriteEventLogCSV(f, rec.EventLog) }},
		{"eventlog.parquet", func(f *os.File) error {
			return writer.WriteEventLogParquet(ctx, f, rec.EventLog, parquetCfg)
		}},
		{"bundle.json", func(f *os.File) error { return writer.WriteBundle(f, bundle) }},
	}
	for _, file := range files {
		if err := writeFile(filepath.Join(dir, file.name), file.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
