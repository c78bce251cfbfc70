package replication

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/logging"
	"github.com/callflow/callflow/pkg/telemetry"
)

// Task identifies one replication handed to an Engine.
type Task struct {
	Index      int
	Seed       int64
	Experiment Experiment
}

// Output is what an Engine produces for one replication.
type Output struct {
	Row    model.SummaryRow
	Traces model.TraceCollection
}

// Engine runs a single replication. Implementations must derive all
// randomness from Task.Seed and must not share mutable state between calls.
type Engine interface {
	Run(ctx context.Context, task Task) (Output, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, task Task) (Output, error)

// Run calls f.
func (f EngineFunc) Run(ctx context.Context, task Task) (Output, error) {
	return f(ctx, task)
}

// ProgressFunc is told how many replications have finished. Calls are
// serialized.
type ProgressFunc func(done, total int)

// Result is a complete batch of replications, indexed by replication.
type Result struct {
	Experiment Experiment
	Rows       []model.SummaryRow
	Traces     []model.TraceCollection
	Elapsed    time.Duration
}

// Replications returns the batch size.
func (r *Result) Replications() int {
	return len(r.Rows)
}

// Representative returns replication 0's traces, used for animation.
func (r *Result) Representative() model.TraceCollection {
	if r == nil || len(r.Traces) == 0 {
		return nil
	}
	return r.Traces[0]
}

// Orchestrator fans replications out to an Engine and fans them back in by
// index.
type Orchestrator struct {
	engine      Engine
	parallelism int
	logger      *slog.Logger
	progress    ProgressFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithParallelism caps concurrently running replications. n <= 0 uses
// GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *Orchestrator) {
		o.parallelism = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// NewOrchestrator creates an orchestrator over engine.
func NewOrchestrator(engine Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{engine: engine}
	for _, opt := range opts {
		opt(o)
	}
	if o.parallelism <= 0 {
		o.parallelism = runtime.GOMAXPROCS(0)
	}
	o.logger = logging.OrDefault(o.logger)
	return o
}

// Run executes n independent replications of exp.
//
// n < 1 and invalid experiments are rejected before the engine is touched.
// Replication i runs with seed exp.BaseSeed+i and writes only slot i. The
// first failure (or cancellation of ctx) cancels the remaining replications
// and the whole batch is discarded.
func (o *Orchestrator) Run(ctx context.Context, exp Experiment, n int) (*Result, error) {
	if err := ValidateReplications(n); err != nil {
		return nil, err
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "replication.batch",
		attribute.Int("replications", n),
		attribute.Int("operators", exp.Operators),
		attribute.Int("nurses", exp.Nurses),
		attribute.Float64("callback_probability", exp.CallbackProbability),
	)
	result, err := o.run(ctx, exp, n)
	telemetry.EndSpan(span, err)
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, exp Experiment, n int) (*Result, error) {
	start := time.Now()
	rows := make([]model.SummaryRow, n)
	traces := make([]model.TraceCollection, n)

	var (
		mu   sync.Mutex
		done int
	)

	o.logger.Info("starting replications", "replications", n, "parallelism", o.parallelism)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)

	for i := 0; i < n; i++ {
		task := Task{Index: i, Seed: exp.Seed(i), Experiment: exp}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			out, err := o.runOne(gctx, task)
			if err != nil {
				return err
			}

			out.Row.Replication = task.Index
			rows[task.Index] = out.Row
			traces[task.Index] = out.Traces

			if o.progress != nil {
				mu.Lock()
				done++
				o.progress(done, n)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.ContextCanceled("replications", ctxErr)
		}
		return nil, err
	}

	result := &Result{
		Experiment: exp,
		Rows:       rows,
		Traces:     traces,
		Elapsed:    time.Since(start),
	}
	o.logger.Info("replications complete", "replications", n, "elapsed", result.Elapsed)
	return result, nil
}

func (o *Orchestrator) runOne(ctx context.Context, task Task) (Output, error) {
	ctx, span := telemetry.StartSpan(ctx, "replication.run",
		attribute.Int("index", task.Index),
		attribute.Int64("seed", task.Seed),
	)

	o.logger.Debug("replication started", "index", task.Index, "seed", task.Seed)
	out, err := o.engine.Run(ctx, task)
	if err != nil {
		if !errors.IsCode(err, errors.CodeEngineFailed) {
			err = errors.Wrapf(err, errors.CodeEngineFailed, "replication %d failed", task.Index).
				WithContext("seed", task.Seed)
		}
		o.logger.Warn("replication failed", "index", task.Index, "error", err)
	} else {
		o.logger.Log(ctx, logging.LevelTrace, "replication finished", "index", task.Index, "records", len(out.Traces))
	}

	telemetry.EndSpan(span, err)
	return out, err
}
