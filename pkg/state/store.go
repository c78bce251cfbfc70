// Package state provides persistent run history backed by DuckDB.
package state

import (
	"context"
	"database/sql"
	stderrors "errors"
	"math"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/stats"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Store manages the run history. It is an audit trail only; results are
// never served back from it.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Run represents one dashboard run.
type Run struct {
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	Experiment   replication.Experiment `json:"experiment"`
	Replications int                    `json:"replications"`
	DurationMS   int64                  `json:"duration_ms,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// MetricTrend summarises one KPI's mean across completed runs.
type MetricTrend struct {
	Metric string  `json:"metric"`
	Runs   int64   `json:"runs"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// NewStore opens (or creates) the history database at dbPath. An empty path
// opens an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to open database").
			WithContext("path", dbPath)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			operators INTEGER NOT NULL,
			nurses INTEGER NOT NULL,
			callback_probability DOUBLE NOT NULL,
			results_collection_period DOUBLE NOT NULL,
			base_seed BIGINT NOT NULL,
			replications INTEGER NOT NULL,
			duration_ms BIGINT,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,

		// One row per KPI of a completed run. NULL marks an undefined value.
		`CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			metric TEXT NOT NULL,
			mean DOUBLE,
			std DOUBLE,
			min DOUBLE,
			q25 DOUBLE,
			median DOUBLE,
			q75 DOUBLE,
			max DOUBLE,
			PRIMARY KEY (run_id, metric)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_metric ON run_summaries(metric)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return errors.Wrap(err, errors.CodeStoreFailed, "migration failed")
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records a run that is about to start.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	exp := run.Experiment
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, operators, nurses, callback_probability,
		                  results_collection_period, base_seed, replications, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Status, exp.Operators, exp.Nurses, exp.CallbackProbability,
		exp.ResultsCollectionPeriod, exp.BaseSeed, run.Replications, run.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to record run").WithContext("run", run.ID)
	}
	return nil
}

// CompleteRun marks a run completed and stores its aggregate statistics.
func (s *Store) CompleteRun(ctx context.Context, id string, agg stats.AggregateStatistics, elapsed time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, duration_ms = ?, completed_at = ?
		WHERE id = ?
	`, StatusCompleted, elapsed.Milliseconds(), time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to complete run").WithContext("run", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("run", id)
	}

	for i, m := range agg.Metrics {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_summaries (run_id, position, metric, mean, std, min, q25, median, q75, max)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, i, m.Metric, nullable(m.Mean), nullable(m.Std), nullable(m.Min),
			nullable(m.Q25), nullable(m.Median), nullable(m.Q75), nullable(m.Max))
		if err != nil {
			return errors.Wrap(err, errors.CodeStoreFailed, "failed to record summary").
				WithContext("run", id).
				WithContext("metric", m.Metric)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to commit run")
	}
	return nil
}

// FailRun marks a run failed with cause.
func (s *Store) FailRun(ctx context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, StatusFailed, msg, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to mark run failed").WithContext("run", id)
	}
	return nil
}

const runColumns = `id, status, operators, nurses, callback_probability,
	results_collection_period, base_seed, replications, duration_ms, error,
	created_at, completed_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var (
		duration    sql.NullInt64
		errText     sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.Status, &run.Experiment.Operators, &run.Experiment.Nurses,
		&run.Experiment.CallbackProbability, &run.Experiment.ResultsCollectionPeriod,
		&run.Experiment.BaseSeed, &run.Replications, &duration, &errText,
		&run.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	run.DurationMS = duration.Int64
	run.Error = errText.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("run", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to read run").WithContext("run", id)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to list runs")
	}
	return runs, nil
}

// Summaries returns the stored statistics of a completed run, in KPI order.
func (s *Store) Summaries(ctx context.Context, runID string) (stats.AggregateStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT metric, mean, std, min, q25, median, q75, max
		FROM run_summaries
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return stats.AggregateStatistics{}, errors.Wrap(err, errors.CodeStoreFailed, "failed to read summaries")
	}
	defer rows.Close()

	var agg stats.AggregateStatistics
	for rows.Next() {
		var (
			sum  stats.Summary
			cols [7]sql.NullFloat64
		)
		if err := rows.Scan(&sum.Metric, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6]); err != nil {
			return stats.AggregateStatistics{}, errors.Wrap(err, errors.CodeStoreFailed, "failed to scan summary")
		}
		sum.Mean, sum.Std, sum.Min = value(cols[0]), value(cols[1]), value(cols[2])
		sum.Q25, sum.Median, sum.Q75, sum.Max = value(cols[3]), value(cols[4]), value(cols[5]), value(cols[6])
		agg.Metrics = append(agg.Metrics, sum)
	}
	return agg, rows.Err()
}

// Trend returns the average, min and max of a KPI's mean over completed runs.
func (s *Store) Trend(ctx context.Context, metric string) (MetricTrend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trend := MetricTrend{Metric: metric}
	var avg, lo, hi sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(mean), MIN(mean), MAX(mean), COUNT(mean)
		FROM run_summaries WHERE metric = ?
	`, metric).Scan(&avg, &lo, &hi, &trend.Runs)
	if err != nil {
		return trend, errors.Wrap(err, errors.CodeStoreFailed, "failed to compute trend").WithContext("metric", metric)
	}
	trend.Avg, trend.Min, trend.Max = value(avg), value(lo), value(hi)
	return trend, nil
}

// Cleanup removes runs (and their summaries) older than retention.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM run_summaries
		WHERE run_id IN (SELECT id FROM runs WHERE created_at < ?)
	`, cutoff); err != nil {
		return 0, errors.Wrap(err, errors.CodeStoreFailed, "failed to clean up summaries")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeStoreFailed, "failed to clean up runs")
	}
	return result.RowsAffected()
}

// Counts returns the number of runs per status.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to count runs")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to scan count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func value(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
