package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/callflow/callflow/pkg/engine"
	"github.com/callflow/callflow/pkg/eventlog"
	"github.com/callflow/callflow/pkg/layout"
	"github.com/callflow/callflow/pkg/parser"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/stats"
	"github.com/callflow/callflow/pkg/storage"
	"github.com/callflow/callflow/pkg/tui"
	"github.com/callflow/callflow/pkg/writer"
)

// Conversion flags
var (
	inputFile    string
	outputFile   string
	formatFlag   string
	outputFormat string
	nodeNames    []string
	pathway      string
	recordTo     string
)

var eventlogCmd = &cobra.Command{
	Use:   "eventlog",
	Short: "Convert a trace file into an animation event log",
	Long: `Convert one replication's trace records (CSV, Parquet or XLSX) into the
animation event log.

Each entity gets an arrival, then wait/begin/end events per visited node, then
a departure. Node labels default to the configured node names.

Examples:
  callflow eventlog -i rep-000.csv -o eventlog.csv
  callflow eventlog -i rep-000.parquet -o eventlog.parquet --to parquet
  callflow eventlog -i traces.xlsx --nodes operator,nurse --pathway Model`,
	RunE: runEventLog,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize per-replication KPI rows",
	Long: `Read a CSV of per-replication KPIs (one row per replication, one column per
KPI) and print or write their descriptive statistics.

Examples:
  callflow summarize -i replications.csv
  callflow summarize -i replications.csv -o summary.csv
  callflow summarize -i replications.csv -o summary.xlsx --to xlsx`,
	RunE: runSummarize,
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run replications and archive their traces",
	Long: `Run the configured engine and store every replication's traces as CSV so
the archive engine can replay the batch later. The destination is a
directory or an s3://bucket/prefix URI.

Examples:
  callflow record --to traces/ -n 30
  callflow record --to s3://sim-traces/baseline --experiment baseline.yaml`,
	RunE: runRecord,
}

func init() {
	eventlogCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Trace file (required)")
	eventlogCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	eventlogCmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Input format (csv, parquet, xlsx) - auto-detected if not specified")
	eventlogCmd.Flags().StringVar(&outputFormat, "to", "", "Output format (csv, parquet) - auto-detected if not specified")
	eventlogCmd.Flags().StringSliceVar(&nodeNames, "nodes", nil, "Node labels in visiting order")
	eventlogCmd.Flags().StringVar(&pathway, "pathway", "", "Pathway name written on every entry")
	eventlogCmd.Flags().StringVar(&compressionFlag, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd)")
	eventlogCmd.MarkFlagRequired("input")

	summarizeCmd.Flags().StringVarP(&inputFile, "input", "i", "", "KPI rows CSV (required)")
	summarizeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: print table)")
	summarizeCmd.Flags().StringVar(&outputFormat, "to", "", "Output format (csv, xlsx) - auto-detected if not specified")
	summarizeCmd.MarkFlagRequired("input")

	recordCmd.Flags().StringVar(&recordTo, "to", "", "Archive directory or s3:// URI (required)")
	recordCmd.Flags().StringVarP(&experimentFile, "experiment", "e", "", "Experiment YAML file")
	recordCmd.Flags().IntVarP(&replications, "replications", "n", 0, "Number of replications")
	recordCmd.Flags().Int64Var(&baseSeed, "seed", 0, "Seed of replication 0")
	recordCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(eventlogCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(recordCmd)
}

func runEventLog(cmd *cobra.Command, args []string) error {
	format := parser.DetectFormat(inputFile)
	if formatFlag != "" {
		format = parser.ParseFormat(formatFlag)
	}
	reader, err := parser.NewTraceReader(format)
	if err != nil {
		return err
	}

	names := cfg.Animation.NodeNames
	if len(nodeNames) > 0 {
		names = nodeNames
	}
	path := cfg.Animation.Pathway
	if pathway != "" {
		path = pathway
	}
	builder, err := eventlog.NewBuilder(names, eventlog.WithPathway(path))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	in, err := os.Open(inputFile)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	traces, err := reader.Read(ctx, in)
	if err != nil {
		return err
	}
	entries, err := builder.Build(traces)
	if err != nil {
		return err
	}
	if missing := layout.Missing(entries, cfg.Animation.Layout); len(missing) > 0 {
		logger.Debug("events without a layout position", "events", missing)
	}
	logger.Info("event log built", "records", len(traces), "entries", len(entries))

	to := outputFormat
	if to == "" {
		to = parser.DetectFormat(outputFile).String()
	}
	return withOutput(cmd, func(w io.Writer) error {
		switch to {
		case "parquet":
			parquetCfg := writer.DefaultConfig()
			parquetCfg.Compression = writer.ParseCompression(compressionFlag)
			return writer.WriteEventLogParquet(ctx, w, entries, parquetCfg)
		default:
			return writer.WriteEventLogCSV(w, entries)
		}
	})
}

func runSummarize(cmd *cobra.Command, args []string) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	rows, err := parser.ReadSummaryRows(cmd.Context(), in)
	if err != nil {
		return err
	}
	agg, err := stats.Aggregate(rows)
	if err != nil {
		return err
	}

	if outputFile == "" {
		tui.PrintSummaryTable(cmd.OutOrStdout(), agg)
		return nil
	}

	to := outputFormat
	if to == "" {
		to = parser.DetectFormat(outputFile).String()
	}
	return withOutput(cmd, func(w io.Writer) error {
		if to == "xlsx" {
			return writer.WriteSummaryXLSX(w, agg, rows)
		}
		return writer.WriteSummaryCSV(w, agg)
	})
}

func runRecord(cmd *cobra.Command, args []string) error {
	exp, err := experiment(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	eng, err := engine.New(ctx, cfg.Engine, cfg.Archive, logger)
	if err != nil {
		return err
	}
	store, prefix, err := storage.Open(ctx, recordTo, cfg.Archive)
	if err != nil {
		return err
	}

	bar := tui.NewProgress(cmd.ErrOrStderr(), exp.Replications)
	orch := replication.NewOrchestrator(eng,
		replication.WithParallelism(cfg.Engine.Parallelism),
		replication.WithLogger(logger),
		replication.WithProgress(tui.ProgressFunc(bar)),
	)
	result, err := orch.Run(ctx, exp.Experiment, exp.Replications)
	if err != nil {
		return err
	}

	if err := archive(ctx, store, prefix, result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  Archived %d replications to %s\n", result.Replications(), recordTo)
	return nil
}

func archive(ctx context.Context, store storage.ObjectStore, prefix string, result *replication.Result) error {
	pattern := cfg.Engine.ArchivePattern
	if pattern == "" {
		pattern = engine.DefaultArchivePattern
	}
	return engine.Record(ctx, store, prefix, pattern, result)
}

// withOutput runs write against --output, or stdout when it is unset.
func withOutput(cmd *cobra.Command, write func(w io.Writer) error) error {
	if outputFile == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
