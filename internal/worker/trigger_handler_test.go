package worker

import (
	"context"
	"testing"

	"projection-orchestrator/internal/models"
)

func TestAutoTriggerEnqueuesModelRunOnce(t *testing.T) {
	ctx := context.Background()
	jobSvc, _, _, _ := newWorkerFixture()

	trigger := models.Job{
		ID:    "trigger-job-1",
		Type:  models.JobTypeAutoModelTrigger,
		OrgID: "org-1",
		Params: map[string]any{
			"approvalRequestId": "req-1",
			"payload":           map[string]any{"modelId": "model-9"},
		},
	}

	handler := NewAutoTriggerHandler(jobSvc)
	if err := handler.Handle(ctx, trigger); err != nil {
		t.Fatalf("handle: %v", err)
	}

	spawned, ok, err := jobSvc.ClaimNext(ctx, "computation")
	if err != nil || !ok {
		t.Fatalf("expected a model run to be enqueued: ok=%v err=%v", ok, err)
	}
	if spawned.Type != models.JobTypeModelRun {
		t.Fatalf("expected model_run, got %s", spawned.Type)
	}
	if spawned.Params["modelId"] != "model-9" || spawned.Params["approvalRequestId"] != "req-1" {
		t.Fatalf("unexpected params: %+v", spawned.Params)
	}

	// A retried trigger hits the idempotency key and enqueues nothing new.
	if err := handler.Handle(ctx, trigger); err != nil {
		t.Fatalf("retried handle: %v", err)
	}
	if _, ok, _ := jobSvc.ClaimNext(ctx, "computation"); ok {
		t.Fatalf("retry must not spawn a second model run")
	}
}

func TestAutoTriggerRequiresModel(t *testing.T) {
	ctx := context.Background()
	jobSvc, _, _, _ := newWorkerFixture()

	handler := NewAutoTriggerHandler(jobSvc)
	err := handler.Handle(ctx, models.Job{
		ID:     "trigger-job-2",
		Type:   models.JobTypeAutoModelTrigger,
		OrgID:  "org-1",
		Params: map[string]any{},
	})
	if err == nil {
		t.Fatalf("expected error when no model is named")
	}
}

func TestAutoTriggerFallsBackToObjectID(t *testing.T) {
	ctx := context.Background()
	jobSvc, _, _, _ := newWorkerFixture()

	handler := NewAutoTriggerHandler(jobSvc)
	err := handler.Handle(ctx, models.Job{
		ID:       "trigger-job-3",
		Type:     models.JobTypeAutoModelTrigger,
		OrgID:    "org-1",
		ObjectID: "model-3",
		Params:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	spawned, ok, _ := jobSvc.ClaimNext(ctx, "computation")
	if !ok || spawned.Params["modelId"] != "model-3" {
		t.Fatalf("expected model id from object id, got ok=%v params=%+v", ok, spawned.Params)
	}
}
