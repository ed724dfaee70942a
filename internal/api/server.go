package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/approvals"
	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/provenance"
	"projection-orchestrator/internal/ratelimit"
	"projection-orchestrator/internal/runs"
	"projection-orchestrator/internal/telemetry"
)

// Server wires HTTP handlers for the control-plane API. Authentication is an
// external collaborator; the requester and tenant arrive as headers set by
// the gateway.
type Server struct {
	jobs       *jobs.Service
	runs       runs.Repo
	provenance *provenance.Service
	approvals  *approvals.Service
	limiter    *ratelimit.TenantLimiter
}

// New constructs the API server. limiter may be nil to disable throttling.
func New(jobSvc *jobs.Service, runRepo runs.Repo, provSvc *provenance.Service, apprSvc *approvals.Service, limiter *ratelimit.TenantLimiter) *Server {
	return &Server{
		jobs:       jobSvc,
		runs:       runRepo,
		provenance: provSvc,
		approvals:  apprSvc,
		limiter:    limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/jobs/{id}/logs", s.handleJobLogs)
	r.Post("/jobs/{id}/cancel", s.handleCancel)
	r.Post("/jobs/{id}/requeue", s.handleRequeue)
	r.Get("/dlq", s.handleDLQ)

	r.Post("/worker/claim", s.handleClaim)
	r.Post("/jobs/{id}/progress", s.handleProgress)
	r.Post("/jobs/{id}/complete", s.handleComplete)
	r.Post("/jobs/{id}/fail", s.handleFail)

	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/provenance", s.handleGetProvenance)
	r.Post("/runs/{id}/provenance/backfill", s.handleBackfill)

	r.Get("/staged-changes", s.handleListStagedChanges)
	r.Post("/staged-changes/{id}/status", s.handleSetChangeStatus)

	r.Post("/approvals", s.handleCreateApproval)
	r.Get("/approvals", s.handleListApprovals)
	r.Post("/approvals/{id}/approve", s.handleApprove)
	r.Post("/approvals/{id}/reject", s.handleReject)

	return r
}

func orgFromRequest(r *http.Request) string {
	return r.Header.Get("X-Org-ID")
}

func userFromRequest(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps service errors onto the HTTP taxonomy.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		telemetry.Error("http.error", map[string]any{
			"path":   r.URL.Path,
			"method": r.Method,
			"err":    err.Error(),
		})
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: apperr.Code(err), Message: err.Error()}})
}

// decodeBody tolerates an empty body; several POST endpoints take no
// arguments.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid json body: %w", apperr.ErrValidation)
	}
	return nil
}
