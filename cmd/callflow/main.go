// CallFlow - replicated call-centre simulation results and animation logs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/callflow/callflow/pkg/config"
	"github.com/callflow/callflow/pkg/dashboard"
	"github.com/callflow/callflow/pkg/engine"
	"github.com/callflow/callflow/pkg/eventlog"
	"github.com/callflow/callflow/pkg/logging"
	"github.com/callflow/callflow/pkg/results"
	"github.com/callflow/callflow/pkg/state"
	"github.com/callflow/callflow/pkg/telemetry"
	"github.com/callflow/callflow/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	logLevel   string
	verbose    bool
	noHistory  bool
)

// Loaded by the root command before any subcommand runs.
var (
	cfg               *config.Config
	logger            *slog.Logger
	shutdownTelemetry = func(context.Context) error { return nil }
)

func main() {
	err := rootCmd.Execute()
	shutdownTelemetry(context.Background())
	if err != nil {
		tui.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "callflow",
	Short: "CallFlow - replicate call-centre simulations and build animation logs",
	Long: `CallFlow runs independent replications of the call-centre model, summarises
their KPIs and turns the traces of replication 0 into an animation event log.

Configuration is read from /etc/callflow/config.yaml, ~/.callflow/config.yaml
and ./.callflow.yaml, in that order, then from CALLFLOW_* environment variables.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file merged over the search path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "Do not record runs in the history database")
}

// setup loads configuration, logging and tracing.
func setup(cmd *cobra.Command, args []string) error {
	mgr := config.NewManager()
	if err := mgr.Load(); err != nil {
		return err
	}
	if configFile != "" {
		if err := mgr.LoadFile(configFile); err != nil {
			return err
		}
	}
	cfg = mgr.Get()

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if verbose {
		level = "debug"
	}
	logger = logging.NewLogger(level, os.Stderr)
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", "files", mgr.GetPaths())

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitOTLP(cmd.Context(), cfg.Telemetry.OTLP())
		if err != nil {
			return err
		}
		shutdownTelemetry = shutdown
	}
	return nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// app holds what the run, serve and watch commands share.
type app struct {
	svc     *dashboard.Service
	history *state.Store
	store   results.Store
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
}

// newApp wires the engine, result store and history from cfg.
func newApp(ctx context.Context) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng, err := engine.New(ctx, cfg.Engine, cfg.Archive, logger)
	if err != nil {
		return nil, err
	}
	builder, err := eventlog.NewBuilder(cfg.Animation.NodeNames, eventlog.WithPathway(cfg.Animation.Pathway))
	if err != nil {
		return nil, err
	}

	a := &app{}
	redisCfg := results.DefaultRedisConfig(cfg.Results.RedisAddress)
	redisCfg.Password = cfg.Results.RedisPassword
	redisCfg.Database = cfg.Results.RedisDB
	redisCfg.Prefix = cfg.Results.KeyPrefix
	redisCfg.TTL = cfg.Results.TTL
	a.store, err = results.Open(ctx, cfg.Results.Backend, redisCfg)
	if err != nil {
		return nil, err
	}

	opts := []dashboard.Option{
		dashboard.WithResults(a.store),
		dashboard.WithLayout(cfg.Animation.Layout),
		dashboard.WithRenderOptions(cfg.Animation.Render),
		dashboard.WithParallelism(cfg.Engine.Parallelism),
		dashboard.WithLogger(logger),
	}
	if !noHistory && cfg.Storage.Database != "" {
		a.history, err = openHistory()
		if err != nil {
			// History is an audit trail; runs go ahead without it.
			logger.Warn("run history disabled", "database", cfg.Storage.Database, "error", err)
		} else {
			opts = append(opts, dashboard.WithHistory(a.history))
		}
	}

	a.svc = dashboard.NewService(eng, builder, opts...)
	return a, nil
}

func openHistory() (*state.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Database), 0755); err != nil {
		return nil, err
	}
	return state.NewStore(cfg.Storage.Database)
}
