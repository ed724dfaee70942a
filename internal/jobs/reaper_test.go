package jobs

import (
	"context"
	"testing"
	"time"

	"projection-orchestrator/internal/models"
)

func TestReaperFailsStalledJobs(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()

	stale, _ := svc.Enqueue(ctx, EnqueueParams{Type: models.JobTypeExport, OrgID: "org-1"})
	fresh, _ := svc.Enqueue(ctx, EnqueueParams{Type: models.JobTypeExport, OrgID: "org-1"})
	if _, _, err := svc.ClaimNext(ctx, "computation"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, _, err := svc.ClaimNext(ctx, "computation"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Age one job's heartbeat past the timeout.
	past := time.Now().UTC().Add(-time.Hour)
	repo.mu.Lock()
	j := repo.byID[stale.ID]
	j.StartedAt = &past
	j.LastProgressAt = &past
	repo.byID[stale.ID] = j
	repo.mu.Unlock()

	reaper := NewReaper(svc, 10*time.Minute, time.Minute)
	n, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one reaped job, got %d", n)
	}

	got, _ := svc.Get(ctx, stale.ID)
	if got.Status != models.StatusFailed || got.AttemptCount != 1 {
		t.Fatalf("expected stale job failed with one attempt, got %+v", got)
	}
	untouched, _ := svc.Get(ctx, fresh.ID)
	if untouched.Status != models.StatusProcessing {
		t.Fatalf("expected fresh job untouched, got %s", untouched.Status)
	}
}
