package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"projection-orchestrator/internal/approvals"
)

func (s *Server) handleListStagedChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.approvals.ListReviewable(r.Context(), orgFromRequest(r), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	change, err := s.approvals.SetChangeStatus(r.Context(), orgFromRequest(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

type createApprovalRequest struct {
	Type       string         `json:"type"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id"`
	Payload    map[string]any `json:"payload"`
	Comment    string         `json:"comment"`
}

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	var req createApprovalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.approvals.CreateRequest(r.Context(), approvals.CreateRequestParams{
		OrgID:       orgFromRequest(r),
		RequesterID: userFromRequest(r),
		Type:        req.Type,
		ObjectType:  req.ObjectType,
		ObjectID:    req.ObjectID,
		Payload:     req.Payload,
		Comment:     req.Comment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	list, err := s.approvals.List(r.Context(), orgFromRequest(r), approvals.ListFilter{
		Type:       q.Get("type"),
		ObjectType: q.Get("objectType"),
		ObjectID:   q.Get("objectId"),
		Status:     q.Get("status"),
	}, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

type decisionRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	approved, err := s.approvals.Approve(r.Context(), chi.URLParam(r, "id"), userFromRequest(r), req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approved)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rejected, err := s.approvals.Reject(r.Context(), chi.URLParam(r, "id"), userFromRequest(r), req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rejected)
}
