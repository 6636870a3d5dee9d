// Package api is the scheduler's HTTP surface: job submission for
// operators, the pull/heartbeat/complete/fail protocol for workers, and the
// status snapshot. All handlers are stateless request/response; workers
// keep no connection between calls.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clouddfe/cfsq/internal/domain"
	"github.com/clouddfe/cfsq/internal/lease"
	"github.com/clouddfe/cfsq/internal/metrics"
	"github.com/clouddfe/cfsq/internal/storage"
)

type Server struct {
	store       storage.Store
	leases      *lease.Manager
	hints       lease.Hints // may be nil
	maxAttempts int
	log         *zap.Logger
	now         func() time.Time
}

func NewServer(store storage.Store, leases *lease.Manager, hints lease.Hints, maxAttempts int, log *zap.Logger) *Server {
	return &Server{
		store:       store,
		leases:      leases,
		hints:       hints,
		maxAttempts: maxAttempts,
		log:         log,
		now:         time.Now,
	}
}

func (s *Server) Router() chi.Router {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.Recoverer)
	rtr.Use(s.logRequests)

	rtr.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/restart", s.handleRestart)
		r.Post("/pull", s.handlePull)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/complete", s.handleComplete)
		r.Post("/fail", s.handleFail)
		r.Get("/status", s.handleStatus)
	})
	rtr.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return rtr
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if len(req.Jobs) == 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request", "empty batch")
		return
	}

	jobs := make([]*domain.Job, 0, len(req.Jobs))
	ids := make([]string, 0, len(req.Jobs))
	for i := range req.Jobs {
		p := req.Jobs[i].Params
		p.ApplyDefaults()
		if err := p.Validate(); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		id := p.JobID()
		jobs = append(jobs, &domain.Job{
			ID:          id,
			Params:      p,
			Priority:    req.Jobs[i].Priority,
			State:       domain.Pending,
			MaxAttempts: s.maxAttempts,
		})
		ids = append(ids, id)
	}

	if err := s.store.CreateJobs(r.Context(), jobs); err != nil {
		s.writeInternal(w, err)
		return
	}
	s.announce(r, ids...)
	metrics.JobsSubmittedTotal.Add(float64(len(ids)))
	s.log.Info("batch submitted", zap.Int("jobs", len(ids)))
	s.writeJSON(w, http.StatusOK, SubmitResponse{IDs: ids})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Restart(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.announce(r, id)
	s.log.Info("job restarted", zap.String("job", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "worker_id is required")
		return
	}
	j, err := s.leases.Acquire(r.Context(), req.WorkerID)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	if j == nil {
		metrics.PullsEmptyTotal.Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	metrics.LeasesGrantedTotal.Inc()
	s.writeJSON(w, http.StatusOK, PullResponse{
		JobID:          j.ID,
		Params:         j.Params,
		Attempt:        j.Attempts,
		LeaseExpiresAt: *j.LeaseExpiresAt,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" || req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "worker_id and job_id are required")
		return
	}
	if err := s.leases.Renew(r.Context(), req.WorkerID, req.JobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HeartbeatResponse{
		LeaseExpiresAt: s.now().UTC().Add(s.leases.Duration()),
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" || req.JobID == "" || req.ResultURI == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "worker_id, job_id and result_uri are required")
		return
	}
	if err := s.leases.Complete(r.Context(), req.WorkerID, req.JobID, req.ResultURI); err != nil {
		s.writeDomainError(w, err)
		return
	}
	metrics.JobsCompletedTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" || req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "worker_id and job_id are required")
		return
	}
	if req.Reason == "" {
		req.Reason = "unspecified failure"
	}
	if err := s.leases.Fail(r.Context(), req.WorkerID, req.JobID, req.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	j, err := s.store.Get(r.Context(), req.JobID)
	terminal := err == nil && j.State == domain.Failed
	metrics.JobsFailedTotal.WithLabelValues(boolLabel(terminal)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByState(r.Context())
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	running, err := s.store.RunningLeases(r.Context(), s.now().UTC())
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	failed, err := s.store.List(r.Context(), domain.Failed)
	if err != nil {
		s.writeInternal(w, err)
		return
	}

	resp := StatusResponse{Counts: make(map[string]int), Running: running}
	for _, st := range domain.States {
		if n := counts[st]; n > 0 {
			resp.Counts[string(st)] = n
		}
	}
	for _, j := range failed {
		resp.Failed = append(resp.Failed, FailedJob{
			ID:       j.ID,
			Srcmod:   j.Params.Srcmod,
			Attempts: j.Attempts,
			Reason:   j.LastError(),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// announce pushes fresh pending ids onto the ready list. Best effort: the
// janitor reconciles anything missed.
func (s *Server) announce(r *http.Request, ids ...string) {
	if s.hints == nil {
		return
	}
	if err := s.hints.Push(r.Context(), ids...); err != nil {
		s.log.Warn("ready list push failed", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	switch code {
	case "not_found":
		s.writeError(w, http.StatusNotFound, code, err.Error())
	case "not_owner", "conflict":
		s.writeError(w, http.StatusConflict, code, err.Error())
	default:
		s.writeInternal(w, err)
	}
}

func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	s.log.Error("internal error", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
