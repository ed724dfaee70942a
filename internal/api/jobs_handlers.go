package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/telemetry"
)

type enqueueRequest struct {
	Type           string         `json:"type"`
	ObjectID       string         `json:"object_id"`
	Params         map[string]any `json:"params"`
	Queue          string         `json:"queue"`
	Priority       int            `json:"priority"`
	IdempotencyKey string         `json:"idempotency_key"`
	MaxAttempts    int            `json:"max_attempts"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	orgID := orgFromRequest(r)

	if s.limiter != nil && orgID != "" {
		allowed, _, err := s.limiter.Allow(r.Context(), orgID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, map[string]errorBody{
				"error": {Code: "RATE_LIMITED", Message: "enqueue rate limit exceeded"},
			})
			return
		}
	}

	job, err := s.jobs.Enqueue(r.Context(), jobs.EnqueueParams{
		Type:            req.Type,
		OrgID:           orgID,
		ObjectID:        req.ObjectID,
		Params:          req.Params,
		Queue:           req.Queue,
		Priority:        req.Priority,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedByUserID: userFromRequest(r),
		MaxAttempts:     req.MaxAttempts,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.jobs.Logs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Requeue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.jobs.ListDeadLettered(r.Context(), orgFromRequest(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type claimRequest struct {
	Queue string `json:"queue"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	job, ok, err := s.jobs.ClaimNext(r.Context(), req.Queue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type progressRequest struct {
	Progress int              `json:"progress"`
	Log      *models.LogEntry `json:"log"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.jobs.ReportProgress(r.Context(), chi.URLParam(r, "id"), req.Progress, req.Log)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type completeRequest struct {
	Result map[string]any `json:"result"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.jobs.Complete(r.Context(), chi.URLParam(r, "id"), req.Result)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type failRequest struct {
	Error string `json:"error"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Error == "" {
		req.Error = "worker reported failure"
	}
	job, err := s.jobs.Fail(r.Context(), chi.URLParam(r, "id"), req.Error)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
