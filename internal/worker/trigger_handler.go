package worker

import (
	"context"
	"errors"
	"fmt"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/telemetry"
)

// AutoTriggerHandler reacts to an approved change by enqueueing a fresh
// computation for the affected model.
type AutoTriggerHandler struct {
	jobs *jobs.Service
}

// NewAutoTriggerHandler constructs the trigger handler.
func NewAutoTriggerHandler(jobSvc *jobs.Service) *AutoTriggerHandler {
	return &AutoTriggerHandler{jobs: jobSvc}
}

// Handle enqueues a model_run for the model named in the trigger payload.
// The idempotency key is derived from this job's id, so a retried trigger
// never produces a second computation.
func (h *AutoTriggerHandler) Handle(ctx context.Context, job models.Job) error {
	modelID, _ := job.Params["objectId"].(string)
	if payload, ok := job.Params["payload"].(map[string]any); ok {
		if v, ok := payload["modelId"].(string); ok && v != "" {
			modelID = v
		}
	}
	if modelID == "" {
		modelID = job.ObjectID
	}
	if modelID == "" {
		return fmt.Errorf("trigger payload names no model")
	}

	approvalRequestID, _ := job.Params["approvalRequestId"].(string)
	created, err := h.jobs.Enqueue(ctx, jobs.EnqueueParams{
		Type:  models.JobTypeModelRun,
		OrgID: job.OrgID,
		Params: map[string]any{
			"modelId":           modelID,
			"triggeredBy":       "approval",
			"approvalRequestId": approvalRequestID,
		},
		IdempotencyKey:  "trigger-" + job.ID,
		CreatedByUserID: job.CreatedByUserID,
	})
	if errors.Is(err, apperr.ErrConflict) {
		// A previous attempt already enqueued the computation.
		return nil
	}
	if err != nil {
		return err
	}

	telemetry.Info("model run triggered", map[string]any{
		"trigger_job_id": job.ID,
		"model_run_id":   created.ID,
		"model_id":       modelID,
	})
	return nil
}
