// Package server provides the HTTP API of the dashboard.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/callflow/callflow/pkg/dashboard"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/logging"
	"github.com/callflow/callflow/pkg/results"
	"github.com/callflow/callflow/pkg/state"
	"github.com/callflow/callflow/pkg/writer"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// maxRequestBody bounds POST /api/runs bodies.
const maxRequestBody = 1 << 20

// DefaultFailedJobTTL is how long a failed run stays queryable.
const DefaultFailedJobTTL = 10 * time.Minute

// HistoryLister lists recorded runs. *state.Store implements it.
type HistoryLister interface {
	ListRuns(ctx context.Context, limit int) ([]*state.Run, error)
}

// Progress counts finished replications.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Job tracks a run submitted through the API until it finishes.
type Job struct {
	mu        sync.Mutex
	id        string
	status    string
	req       dashboard.Request
	progress  Progress
	err       string
	startTime time.Time
}

func (j *Job) snapshot() RunDTO {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.progress
	return RunDTO{
		ID:           j.id,
		Status:       j.status,
		Experiment:   j.req.Experiment,
		Replications: j.req.Replications,
		Progress:     &p,
		Error:        j.err,
		CreatedAt:    j.startTime,
	}
}

func (j *Job) finish(status string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	if err != nil {
		j.err = err.Error()
	}
}

func (j *Job) setProgress(p Progress) {
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
}

// Server handles HTTP requests for the dashboard.
type Server struct {
	svc      *dashboard.Service
	history  HistoryLister
	defaults dashboard.Request
	jobs     sync.Map // run ID -> *Job
	broker   *SSEBroker
	mux      *http.ServeMux
	logger   *slog.Logger

	// failedTTL is how long a failed job answers GET /api/runs/{id}.
	failedTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves GET /api/history from h.
func WithHistory(h HistoryLister) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithDefaults sets the request that omitted POST fields fall back to.
func WithDefaults(req dashboard.Request) Option {
	return func(s *Server) {
		s.defaults = req
	}
}

// WithFailedJobTTL sets how long failed runs are kept before eviction.
func WithFailedJobTTL(d time.Duration) Option {
	return func(s *Server) {
		s.failedTTL = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new HTTP server over svc.
func NewServer(svc *dashboard.Service, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		svc:       svc,
		broker:    NewSSEBroker(),
		mux:       http.NewServeMux(),
		failedTTL: DefaultFailedJobTTL,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /api/runs/{id}/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/runs/{id}/replications", s.handleReplications)
	s.mux.HandleFunc("GET /api/runs/{id}/eventlog", s.handleEventLog)
	s.mux.HandleFunc("GET /api/runs/{id}/bundle", s.handleBundle)
	s.mux.HandleFunc("GET /api/runs/{id}/histogram", s.handleHistogram)
	s.mux.HandleFunc("GET /api/runs/{id}/events", s.broker.SSEHandler(s.snapshot))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS headers for development
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.mux.ServeHTTP(w, r)
}

// Close cancels runs in flight and waits for them.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonResponse(w, http.StatusOK, []*state.Run{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*state.Run{}
	}
	jsonResponse(w, http.StatusOK, runs)
}

// handleCreateRun validates synchronously, so a bad request never reaches
// the engine. ?wait=true blocks until the run completes.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	req := s.defaults
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, errors.Wrap(err, errors.CodeInvalidConfig, "invalid request body"))
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	id := dashboard.NewRunID()
	job := &Job{id: id, status: StatusRunning, req: req, startTime: time.Now().UTC(), progress: Progress{Total: req.Replications}}
	s.jobs.Store(id, job)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		rec, err := s.execute(r.Context(), job)
		if err != nil {
			writeError(w, err)
			return
		}
		jsonResponse(w, http.StatusCreated, newRunDTO(rec))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.ctx, job)
	}()
	w.Header().Set("Location", "/api/runs/"+id)
	jsonResponse(w, http.StatusAccepted, job.snapshot())
}

func (s *Server) execute(ctx context.Context, job *Job) (*results.Record, error) {
	tracker := NewProgressTracker(s.broker, job.id, job.setProgress)
	rec, err := s.svc.Run(ctx, job.req,
		dashboard.WithRunID(job.id),
		dashboard.WithProgress(tracker.Update),
	)
	if err != nil {
		job.finish(StatusFailed, err)
		s.broker.PublishError(job.id, err)
		time.AfterFunc(s.failedTTL, func() { s.jobs.Delete(job.id) })
		return nil, err
	}
	job.finish(StatusCompleted, nil)
	s.broker.PublishComplete(job.id, newRunDTO(rec))
	s.jobs.Delete(job.id)
	return rec, nil
}

// snapshot backs the SSE init event.
func (s *Server) snapshot(id string) (interface{}, bool, bool) {
	if v, ok := s.jobs.Load(id); ok {
		dto := v.(*Job).snapshot()
		return dto, dto.Status != StatusRunning, true
	}
	rec, err := s.svc.Get(s.ctx, id)
	if err != nil {
		return nil, false, false
	}
	return newRunDTO(rec), true, true
}

// record resolves {id}, where "latest" names the most recent run. It writes
// the error response itself and returns nil when the run is unavailable.
func (s *Server) record(w http.ResponseWriter, r *http.Request) *results.Record {
	id := r.PathValue("id")
	var (
		rec *results.Record
		err error
	)
	if id == "latest" {
		rec, err = s.svc.Latest(r.Context())
	} else {
		rec, err = s.svc.Get(r.Context(), id)
	}
	if err == nil {
		return rec
	}

	if v, ok := s.jobs.Load(id); ok && errors.IsCode(err, errors.CodeNotFound) {
		dto := v.(*Job).snapshot()
		jsonResponse(w, http.StatusConflict, map[string]interface{}{
			"error":  "run has not completed",
			"status": dto.Status,
			"run":    dto,
		})
		return nil
	}
	writeError(w, err)
	return nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if v, ok := s.jobs.Load(id); ok {
		jsonResponse(w, http.StatusOK, v.(*Job).snapshot())
		return
	}
	if rec := s.record(w, r); rec != nil {
		jsonResponse(w, http.StatusOK, newRunDTO(rec))
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	rec := s.record(w, r)
	if rec == nil {
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		jsonResponse(w, http.StatusOK, newStatDTOs(rec.Statistics))
	case "csv":
		attachment(w, "text/csv", rec.ID+"-summary.csv")
		if err := writer.WriteSummaryCSV(w, rec.Statistics); err != nil {
			s.logger.Warn("summary download failed", "run", rec.ID, "error", err)
		}
	case "xlsx":
		attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.ID+"-summary.xlsx")
		if err := writer.WriteSummaryXLSX(w, rec.Statistics, rec.Rows); err != nil {
			s.logger.Warn("summary download failed", "run", rec.ID, "error", err)
		}
	default:
		writeError(w, errors.InvalidConfig("format", format, "must be json, csv or xlsx"))
	}
}

func (s *Server) handleReplications(w http.ResponseWriter, r *http.Request) {
	rec := s.record(w, r)
	if rec == nil {
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		jsonResponse(w, http.StatusOK, newRowDTOs(rec))
	case "csv":
		attachment(w, "text/csv", rec.ID+"-replications.csv")
		if err := writer.WriteSummaryRowsCSV(w, rec.Rows); err != nil {
			s.logger.Warn("replications download failed", "run", rec.ID, "error", err)
		}
	default:
		writeError(w, errors.InvalidConfig("format", format, "must be json or csv"))
	}
}

func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	rec := s.record(w, r)
	if rec == nil {
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		attachment(w, "text/csv", rec.ID+"-eventlog.csv")
		if err := writer.WriteEventLogCSV(w, rec.EventLog); err != nil {
			s.logger.Warn("event log download failed", "run", rec.ID, "error", err)
		}
	case "parquet":
		attachment(w, "application/vnd.apache.parquet", rec.ID+"-eventlog.parquet")
		if err := writer.WriteEventLogParquet(r.Context(), w, rec.EventLog, writer.DefaultConfig()); err != nil {
			s.logger.Warn("event log download failed", "run", rec.ID, "error", err)
		}
	default:
		writeError(w, errors.InvalidConfig("format", format, "must be csv or parquet"))
	}
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	rec := s.record(w, r)
	if rec == nil {
		return
	}
	b, err := s.svc.Bundle(rec)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := writer.WriteBundle(w, b); err != nil {
		s.logger.Warn("bundle write failed", "run", rec.ID, "error", err)
	}
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	rec := s.record(w, r)
	if rec == nil {
		return
	}

	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		writeError(w, errors.InvalidConfig("metric", metric, "metric is required"))
		return
	}
	bins := 0
	if v := q.Get("bins"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, errors.InvalidConfig("bins", v, "must be a positive integer"))
			return
		}
		bins = n
	}

	hist, err := dashboard.Histogram(rec, metric, bins)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, newHistogramDTO(metric, hist))
}

// Helper functions

func attachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func errorBody(err error) map[string]string {
	body := map[string]string{"error": err.Error()}
	if code := errors.GetCode(err); code != "" {
		body["code"] = string(code)
	}
	var cfErr *errors.CallFlowError
	if errors.As(err, &cfErr) {
		body["message"] = cfErr.Message
	}
	return body
}

func writeError(w http.ResponseWriter, err error) {
	jsonResponse(w, statusFor(err), errorBody(err))
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidConfig:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeContextCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
