package watch

import (
	"context"
	"sync"

	"github.com/callflow/callflow/pkg/config"
)

// RunFunc executes one experiment. ctx is canceled when a newer version of
// the experiment file supersedes the run.
type RunFunc func(ctx context.Context, exp config.ExperimentConfig) error

// ExperimentRunner reloads an experiment file on change and re-runs it.
// Only the newest run is kept alive; runs never overlap.
type ExperimentRunner struct {
	base config.ExperimentConfig
	run  RunFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	runMu  sync.Mutex
}

// NewExperimentRunner creates a runner. Keys the file omits come from base.
func NewExperimentRunner(base config.ExperimentConfig, run RunFunc) *ExperimentRunner {
	return &ExperimentRunner{base: base, run: run}
}

// Trigger loads path and runs it, canceling any run in flight first. An
// invalid file is reported without touching the current run. A run that is
// superseded returns nil.
func (r *ExperimentRunner) Trigger(ctx context.Context, path string) error {
	exp, err := config.LoadExperiment(path, r.base)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	r.runMu.Lock()
	defer r.runMu.Unlock()
	if runCtx.Err() != nil {
		return nil
	}

	if err := r.run(runCtx, exp); err != nil && runCtx.Err() == nil {
		return err
	}
	return nil
}

// Stop cancels the run in flight and waits for it.
func (r *ExperimentRunner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.runMu.Lock()
	r.runMu.Unlock()
}

// WatchExperiment runs path once, then again after every change, until ctx
// is canceled. Run errors go to onError.
func WatchExperiment(ctx context.Context, path string, runner *ExperimentRunner, onError func(error), opts ...Option) error {
	w, err := NewWatcher(opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Watch(path); err != nil {
		return err
	}
	trigger := func(p string) {
		if err := runner.Trigger(ctx, p); err != nil && onError != nil {
			onError(err)
		}
	}
	w.OnChange = func(_ context.Context, p string) error {
		go trigger(p)
		return nil
	}
	w.OnError = func(_ string, err error) {
		if onError != nil {
			onError(err)
		}
	}

	go trigger(path)

	err = w.Run(ctx)
	runner.Stop()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
