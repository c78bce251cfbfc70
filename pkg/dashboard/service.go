// Package dashboard runs experiments end to end: replications, aggregate
// statistics and the animation event log of the representative replication.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/eventlog"
	"github.com/callflow/callflow/pkg/layout"
	"github.com/callflow/callflow/pkg/logging"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/results"
	"github.com/callflow/callflow/pkg/state"
	"github.com/callflow/callflow/pkg/stats"
	"github.com/callflow/callflow/pkg/telemetry"
	"github.com/callflow/callflow/pkg/writer"
)

// Request is one user-submitted run.
type Request struct {
	Experiment   replication.Experiment `json:"experiment"`
	Replications int                    `json:"replications"`
}

// Validate rejects the request before any engine work. The replication
// count is checked first so its message wins.
func (r Request) Validate() error {
	if err := replication.ValidateReplications(r.Replications); err != nil {
		return err
	}
	return r.Experiment.Validate()
}

// History records runs for auditing. *state.Store implements it.
type History interface {
	CreateRun(ctx context.Context, run *state.Run) error
	CompleteRun(ctx context.Context, id string, agg stats.AggregateStatistics, elapsed time.Duration) error
	FailRun(ctx context.Context, id string, cause error) error
}

// Service runs experiments and keeps their results.
type Service struct {
	engine      replication.Engine
	builder     *eventlog.Builder
	store       results.Store
	history     History
	positions   []layout.Position
	render      layout.RenderOptions
	parallelism int
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResults sets the result store. Defaults to an in-memory store.
func WithResults(store results.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithHistory records every run in h.
func WithHistory(h History) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithLayout sets the animation layout. Defaults to layout.Default().
func WithLayout(positions []layout.Position) Option {
	return func(s *Service) {
		s.positions = positions
	}
}

// WithRenderOptions sets the renderer options placed in bundles.
func WithRenderOptions(opts layout.RenderOptions) Option {
	return func(s *Service) {
		s.render = opts
	}
}

// WithParallelism caps concurrent replications.
func WithParallelism(n int) Option {
	return func(s *Service) {
		s.parallelism = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a service over engine. builder turns replication 0's
// traces into the event log.
func NewService(engine replication.Engine, builder *eventlog.Builder, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		builder:   builder,
		positions: layout.Default(),
		render:    layout.DefaultRenderOptions(replication.DefaultResultsCollectionPeriod),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = results.NewMemoryStore(results.DefaultMemoryCapacity)
	}
	s.logger = logging.OrDefault(s.logger)
	return s
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

type runOptions struct {
	id       string
	progress replication.ProgressFunc
}

// RunOption configures a single Run call.
type RunOption func(*runOptions)

// WithRunID uses id instead of generating one. Callers that need the ID
// before the run finishes (e.g. to stream progress) pass it here.
func WithRunID(id string) RunOption {
	return func(o *runOptions) {
		o.id = id
	}
}

// WithProgress reports replication progress to fn.
func WithProgress(fn replication.ProgressFunc) RunOption {
	return func(o *runOptions) {
		o.progress = fn
	}
}

// Run validates req, runs the replications, aggregates their KPIs and
// builds the event log of replication 0. The completed run becomes the
// latest result. Nothing is stored when any step fails.
func (s *Service) Run(ctx context.Context, req Request, opts ...RunOption) (*results.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ro := runOptions{}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.id == "" {
		ro.id = NewRunID()
	}

	ctx, span := telemetry.StartSpan(ctx, "dashboard.run",
		attribute.String("run.id", ro.id),
		attribute.Int("replications", req.Replications),
	)
	rec, err := s.run(ctx, req, ro)
	telemetry.EndSpan(span, err)
	return rec, err
}

func (s *Service) run(ctx context.Context, req Request, ro runOptions) (*results.Record, error) {
	logger := s.logger.With("run", ro.id)
	created := time.Now().UTC()

	s.recordStart(ctx, logger, &state.Run{
		ID:           ro.id,
		Experiment:   req.Experiment,
		Replications: req.Replications,
		CreatedAt:    created,
	})

	rec, err := s.execute(ctx, req, ro, logger)
	if err != nil {
		s.recordFailure(ctx, logger, ro.id, err)
		return nil, err
	}
	rec.CreatedAt = created

	if err := s.store.Put(ctx, rec); err != nil {
		s.recordFailure(ctx, logger, ro.id, err)
		return nil, err
	}
	s.recordCompletion(ctx, logger, rec)

	logger.Info("run complete",
		"replications", req.Replications,
		"events", len(rec.EventLog),
		"elapsed", rec.Elapsed)
	return rec, nil
}

func (s *Service) execute(ctx context.Context, req Request, ro runOptions, logger *slog.Logger) (*results.Record, error) {
	orch := replication.NewOrchestrator(s.engine,
		replication.WithParallelism(s.parallelism),
		replication.WithLogger(logger),
		replication.WithProgress(ro.progress),
	)
	res, err := orch.Run(ctx, req.Experiment, req.Replications)
	if err != nil {
		return nil, err
	}

	agg, err := stats.Aggregate(res.Rows)
	if err != nil {
		return nil, err
	}

	entries, err := s.buildEventLog(ctx, res.Representative())
	if err != nil {
		return nil, err
	}
	if missing := unplaced(entries, s.positions); len(missing) > 0 {
		logger.Warn("events without a layout position are not animated", "events", missing)
	}

	return &results.Record{
		ID:           ro.id,
		Experiment:   req.Experiment,
		Replications: req.Replications,
		Rows:         res.Rows,
		Statistics:   agg,
		EventLog:     entries,
		Traces:       res.Representative(),
		Elapsed:      res.Elapsed,
	}, nil
}

func (s *Service) buildEventLog(ctx context.Context, traces model.TraceCollection) ([]model.EventLogEntry, error) {
	_, span := telemetry.StartSpan(ctx, "eventlog.build", attribute.Int("records", len(traces)))
	entries, err := s.builder.Build(traces)
	if err == nil {
		span.SetAttributes(attribute.Int("entries", len(entries)))
	}
	telemetry.EndSpan(span, err)
	return entries, err
}

// unplaced lists logged stage events the layout cannot draw. Resource
// release events are never positioned.
func unplaced(entries []model.EventLogEntry, positions []layout.Position) []string {
	var out []string
	for _, event := range layout.Missing(entries, positions) {
		if !strings.HasSuffix(event, model.SuffixEnds) {
			out = append(out, event)
		}
	}
	return out
}

// History failures never fail a run.
func (s *Service) recordStart(ctx context.Context, logger *slog.Logger, run *state.Run) {
	if s.history == nil {
		return
	}
	if err := s.history.CreateRun(ctx, run); err != nil {
		logger.Warn("failed to record run start", "error", err)
	}
}

func (s *Service) recordFailure(ctx context.Context, logger *slog.Logger, id string, cause error) {
	logger.Error("run failed", "error", cause)
	if s.history == nil {
		return
	}
	// The run context may be the reason for the failure.
	if err := s.history.FailRun(context.WithoutCancel(ctx), id, cause); err != nil {
		logger.Warn("failed to record run failure", "error", err)
	}
}

func (s *Service) recordCompletion(ctx context.Context, logger *slog.Logger, rec *results.Record) {
	if s.history == nil {
		return
	}
	if err := s.history.CompleteRun(ctx, rec.ID, rec.Statistics, rec.Elapsed); err != nil {
		logger.Warn("failed to record run completion", "error", err)
	}
}

// Get returns a completed run.
func (s *Service) Get(ctx context.Context, id string) (*results.Record, error) {
	return s.store.Get(ctx, id)
}

// Latest returns the most recent completed run.
func (s *Service) Latest(ctx context.Context) (*results.Record, error) {
	return s.store.Latest(ctx)
}

// Bundle assembles the animation bundle of rec.
func (s *Service) Bundle(rec *results.Record) (writer.Bundle, error) {
	scenario := layout.Scenario{
		Operators: rec.Experiment.Operators,
		Nurses:    rec.Experiment.Nurses,
	}
	return writer.NewBundle(rec.EventLog, s.positions, scenario, s.render)
}

// Histogram buckets one KPI of rec across replications. bins <= 0 picks
// the bin count automatically. More than stats.MaxBins is rejected.
func Histogram(rec *results.Record, metric string, bins int) ([]stats.Bin, error) {
	if bins > stats.MaxBins {
		return nil, errors.InvalidConfig("bins", bins, fmt.Sprintf("must be at most %d", stats.MaxBins))
	}
	if _, ok := rec.Statistics.Lookup(metric); !ok {
		return nil, errors.NotFound("metric", metric)
	}
	return stats.Histogram(model.Column(rec.Rows, metric), bins), nil
}
