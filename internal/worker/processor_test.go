package worker

import (
	"context"
	"errors"
	"testing"

	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
)

func TestProcessorFailsJobWithoutHandler(t *testing.T) {
	ctx := context.Background()
	jobSvc, _, _, _ := newWorkerFixture()
	proc := NewProcessor(jobSvc, []string{"computation"}, 0, "worker-test")

	job, err := jobSvc.Enqueue(ctx, jobs.EnqueueParams{Type: models.JobTypeExport, OrgID: "org-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, _, err := jobSvc.ClaimNext(ctx, "computation")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// No handler registered for export: the job fails through the retry path.
	proc.process(ctx, claimed)
	got, _ := jobSvc.Get(ctx, job.ID)
	if got.Status != models.StatusFailed || got.AttemptCount != 1 {
		t.Fatalf("expected retry-pending job, got %+v", got)
	}
}

func TestProcessorCompletesHandledJob(t *testing.T) {
	ctx := context.Background()
	jobSvc, _, _, _ := newWorkerFixture()
	proc := NewProcessor(jobSvc, []string{"computation"}, 0, "worker-test")
	proc.RegisterHandler(models.JobTypeExport, func(context.Context, models.Job) error { return nil })

	job, err := jobSvc.Enqueue(ctx, jobs.EnqueueParams{Type: models.JobTypeExport, OrgID: "org-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, _, err := jobSvc.ClaimNext(ctx, "computation")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	proc.process(ctx, claimed)
	got, _ := jobSvc.Get(ctx, job.ID)
	if got.Status != models.StatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
}

func TestProcessorFailsJobOnHandlerError(t *testing.T) {
	ctx := context.Background()
	jobSvc, _, _, _ := newWorkerFixture()
	proc := NewProcessor(jobSvc, []string{"computation"}, 0, "worker-test")
	proc.RegisterHandler(models.JobTypeExport, func(context.Context, models.Job) error {
		return errors.New("upload blew up")
	})

	job, err := jobSvc.Enqueue(ctx, jobs.EnqueueParams{Type: models.JobTypeExport, OrgID: "org-1", MaxAttempts: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, _, err := jobSvc.ClaimNext(ctx, "computation")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	proc.process(ctx, claimed)
	got, _ := jobSvc.Get(ctx, job.ID)
	if got.Status != models.StatusDeadLetter {
		t.Fatalf("expected dead_letter on last attempt, got %s", got.Status)
	}
	if got.LastError == nil || *got.LastError != "upload blew up" {
		t.Fatalf("expected cause recorded, got %v", got.LastError)
	}
}

func TestProcessorLeavesCancelledJobAlone(t *testing.T) {
	ctx := context.Background()
	jobSvc, _, _, _ := newWorkerFixture()
	proc := NewProcessor(jobSvc, []string{"computation"}, 0, "worker-test")
	proc.RegisterHandler(models.JobTypeExport, func(context.Context, models.Job) error {
		return errCancelled
	})

	job, err := jobSvc.Enqueue(ctx, jobs.EnqueueParams{Type: models.JobTypeExport, OrgID: "org-1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, _, err := jobSvc.ClaimNext(ctx, "computation")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := jobSvc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	proc.process(ctx, claimed)
	got, _ := jobSvc.Get(ctx, job.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled to stick, got %s", got.Status)
	}
}
