package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/callflow/callflow/pkg/config"
	"github.com/callflow/callflow/pkg/dashboard"
	"github.com/callflow/callflow/pkg/tui"
	"github.com/callflow/callflow/pkg/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <experiment.yaml>",
	Short: "Re-run an experiment whenever its file changes",
	Long: `Watch an experiment file and run it on every save.

A save while a run is in flight cancels that run and starts the new one. An
invalid file is reported and the watcher keeps going.

Examples:
  callflow watch scenario.yaml
  callflow watch --debounce 1s scenario.yaml --output out/`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Wait this long after a change before running")
	watchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to export each run to")
	watchCmd.Flags().StringVar(&compressionFlag, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd)")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	run := func(ctx context.Context, exp config.ExperimentConfig) error {
		rec, err := a.svc.Run(ctx, dashboard.Request{Experiment: exp.Experiment, Replications: exp.Replications})
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
		if outputDir != "" {
			return export(ctx, a.svc, rec, outputDir)
		}
		return nil
	}

	logger.Info("watching experiment", "path", args[0])
	runner := watch.NewExperimentRunner(cfg.Experiment, run)
	return watch.WatchExperiment(ctx, args[0], runner,
		func(err error) { tui.PrintError(cmd.ErrOrStderr(), err) },
		watch.WithDebounce(watchDebounce),
		watch.WithLogger(logger),
	)
}
