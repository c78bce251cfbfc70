package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/state"
	"github.com/callflow/callflow/pkg/tui"
)

var (
	historyLimit     int
	historyRun       string
	historyTrend     string
	historyRetention time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs",
	Long: `List runs recorded in the history database, newest first.

Examples:
  callflow history
  callflow history --limit 5
  callflow history --run 3f2b...          # statistics of one run
  callflow history --trend 02_operator_util
  callflow history --cleanup 720h`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show the statistics of one run")
	historyCmd.Flags().StringVar(&historyTrend, "trend", "", "Show how a KPI mean moved across runs")
	historyCmd.Flags().DurationVar(&historyRetention, "cleanup", 0, "Delete runs older than this")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case historyRetention > 0:
		n, err := store.Cleanup(ctx, historyRetention)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  Removed %d runs\n", n)
		return nil

	case historyRun != "":
		run, err := store.GetRun(ctx, historyRun)
		if err != nil {
			return err
		}
		agg, err := store.Summaries(ctx, run.ID)
		if err != nil {
			return err
		}
		tui.PrintHistory(out, []*state.Run{run})
		tui.PrintSummaryTable(out, agg)
		return nil

	case historyTrend != "":
		trend, err := store.Trend(ctx, historyTrend)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s over %d runs\n", kpi.Label(historyTrend), trend.Runs)
		if trend.Runs == 0 {
			return nil
		}
		fmt.Fprintf(out, "  avg %.2f  min %.2f  max %.2f\n", trend.Avg, trend.Min, trend.Max)
		return nil
	}

	runs, err := store.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	tui.PrintHistory(out, runs)
	return nil
}
