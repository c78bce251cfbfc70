package engine

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/logging"
	"github.com/callflow/callflow/pkg/parser"
	"github.com/callflow/callflow/pkg/replication"
)

// ExecEngine runs an external simulator once per replication. The command
// receives the experiment as flags and must print trace records as CSV on
// stdout.
type ExecEngine struct {
	command string
	args    []string
	env     []string
	logger  *slog.Logger
	reader  *parser.CSVReader
}

// ExecOption configures an ExecEngine.
type ExecOption func(*ExecEngine)

// WithExecEnv appends environment variables (KEY=VALUE) to the inherited
// environment of each simulator process.
func WithExecEnv(env ...string) ExecOption {
	return func(e *ExecEngine) {
		e.env = append(e.env, env...)
	}
}

// WithExecLogger sets the logger.
func WithExecLogger(l *slog.Logger) ExecOption {
	return func(e *ExecEngine) {
		e.logger = l
	}
}

// NewExecEngine creates an engine invoking command with args followed by
// the experiment flags.
func NewExecEngine(command string, args []string, opts ...ExecOption) *ExecEngine {
	e := &ExecEngine{
		command: command,
		args:    args,
		reader:  parser.NewCSVReader(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDefault(e.logger)
	return e
}

// Flags renders the experiment flags for one replication.
func Flags(task replication.Task) []string {
	exp := task.Experiment
	return []string{
		"--operators", strconv.Itoa(exp.Operators),
		"--nurses", strconv.Itoa(exp.Nurses),
		"--callback", strconv.FormatFloat(exp.CallbackProbability, 'f', -1, 64),
		"--seed", strconv.FormatInt(task.Seed, 10),
		"--period", strconv.FormatFloat(exp.ResultsCollectionPeriod, 'f', -1, 64),
	}
}

// Run implements replication.Engine.
func (e *ExecEngine) Run(ctx context.Context, task replication.Task) (replication.Output, error) {
	args := append(append([]string(nil), e.args...), Flags(task)...)
	cmd := exec.CommandContext(ctx, e.command, args...)
	if len(e.env) > 0 {
		cmd.Env = append(cmd.Environ(), e.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("starting simulator", "command", e.command, "replication", task.Index, "seed", task.Seed)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return replication.Output{}, errors.ContextCanceled("simulator", ctx.Err())
		}
		return replication.Output{}, errors.Wrap(err, errors.CodeEngineFailed, "simulator exited with an error").
			WithContext("command", e.command).
			WithContext("replication", task.Index).
			WithContext("stderr", strings.TrimSpace(stderr.String()))
	}

	traces, err := e.reader.Read(ctx, &stdout)
	if err != nil {
		return replication.Output{}, errors.Wrap(err, errors.CodeEngineFailed, "simulator printed unreadable traces").
			WithContext("replication", task.Index)
	}

	row, err := kpi.Derive(task.Index, traces, task.Experiment.KPIParams())
	if err != nil {
		return replication.Output{}, err
	}
	return replication.Output{Row: row, Traces: traces}, nil
}
