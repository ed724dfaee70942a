package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"projection-orchestrator/internal/approvals"
	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/provenance"
	"projection-orchestrator/internal/runs"
)

func newTestRouter(t *testing.T) (http.Handler, *runs.MemoryRepo, *provenance.MemoryAccessChecker) {
	t.Helper()
	runRepo := runs.NewMemoryRepo()
	jobSvc := jobs.NewService(jobs.NewMemoryRepo(), runRepo, nil, jobs.Options{})
	access := provenance.NewMemoryAccessChecker()
	provSvc := provenance.NewService(provenance.NewMemoryRepo(), runRepo, access)
	apprSvc := approvals.NewService(approvals.NewMemoryRepo(), approvals.NewMemoryPlanRepo(), approvals.NewMemoryReviewRepo(), jobSvc)
	server := New(jobSvc, runRepo, provSvc, apprSvc, nil)
	return server.Router(), runRepo, access
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// Tenant header missing: validation failure.
	rec := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{"type": "export"}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without org header, got %d", rec.Code)
	}

	headers := map[string]string{"X-Org-ID": "org-1", "X-User-ID": "user-1"}
	rec = doJSON(t, router, http.MethodPost, "/jobs", map[string]any{"type": "export"}, headers)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	var job models.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != models.StatusQueued || job.OrgID != "org-1" || job.CreatedByUserID != "user-1" {
		t.Fatalf("unexpected job: %+v", job)
	}

	rec = doJSON(t, router, http.MethodGet, "/jobs/"+job.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for get, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/jobs/unknown", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
	var errResp map[string]errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp["error"].Code != "NOT_FOUND" {
		t.Fatalf("unexpected error code: %+v", errResp)
	}
}

func TestClaimEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// Nothing queued: 204 tells the worker to back off.
	rec := doJSON(t, router, http.MethodPost, "/worker/claim", map[string]any{"queue": "computation"}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on empty queue, got %d", rec.Code)
	}

	headers := map[string]string{"X-Org-ID": "org-1"}
	if rec := doJSON(t, router, http.MethodPost, "/jobs", map[string]any{"type": "export"}, headers); rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue failed: %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/worker/claim", map[string]any{"queue": "computation"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 claim, got %d", rec.Code)
	}
	var claimed models.Job
	_ = json.Unmarshal(rec.Body.Bytes(), &claimed)
	if claimed.Status != models.StatusProcessing {
		t.Fatalf("expected processing, got %s", claimed.Status)
	}

	// Empty body is tolerated on argumentless POSTs.
	rec = doJSON(t, router, http.MethodPost, "/jobs/"+claimed.ID+"/cancel", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 cancel, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestProvenanceEndpointAuthz(t *testing.T) {
	router, runRepo, access := newTestRouter(t)

	if _, err := runRepo.Create(context.Background(), models.Run{
		ID: "run-1", OrgID: "org-1", Status: models.RunStatusDone,
	}); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	access.Grant("user-1", "org-1")

	rec := doJSON(t, router, http.MethodGet, "/runs/run-1/provenance?cellKey=revenue", nil, map[string]string{"X-User-ID": "stranger"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/runs/run-1/provenance?cellKey=revenue", nil, map[string]string{"X-User-ID": "user-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for member, got %d body=%s", rec.Code, rec.Body.String())
	}
	var result provenance.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.OK || len(result.Entries) != 0 {
		t.Fatalf("expected ok with no entries, got %+v", result)
	}
}

func TestApprovalEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)
	headers := map[string]string{"X-Org-ID": "org-1", "X-User-ID": "user-1"}

	rec := doJSON(t, router, http.MethodPost, "/approvals", map[string]any{
		"type":        "assumption_update",
		"object_type": "model",
		"object_id":   "model-1",
		"payload":     map[string]any{"modelId": "model-1"},
	}, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var req models.ApprovalRequest
	_ = json.Unmarshal(rec.Body.Bytes(), &req)

	// Rejection without a comment is refused.
	rec = doJSON(t, router, http.MethodPost, "/approvals/"+req.ID+"/reject", nil, headers)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without comment, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/approvals/"+req.ID+"/approve", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 approve, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/approvals?status=approved", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 list, got %d", rec.Code)
	}
	var list struct {
		Requests []models.ApprovalRequest `json:"requests"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Requests) != 1 || list.Requests[0].Status != models.ReviewApproved {
		t.Fatalf("unexpected list: %+v", list.Requests)
	}
}

func TestStagedChangesEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/staged-changes", nil, map[string]string{"X-Org-ID": "org-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Changes []models.StagedChange `json:"changes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Changes == nil || len(body.Changes) != 0 {
		t.Fatalf("expected empty change list, got %+v", body.Changes)
	}

	// Missing tenant header is a validation failure, not an empty list.
	rec = doJSON(t, router, http.MethodGet, "/staged-changes", nil, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without org, got %d", rec.Code)
	}
}
