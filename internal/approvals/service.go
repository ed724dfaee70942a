package approvals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/telemetry"
)

// Enqueuer is the slice of the job service the approval workflow needs:
// approving a request does not mutate the target directly, it enqueues a job
// that re-derives the affected data.
type Enqueuer interface {
	Enqueue(ctx context.Context, p jobs.EnqueueParams) (models.Job, error)
}

// Service implements the approval workflow and the staged-change governor.
type Service struct {
	repo     Repo
	plans    PlanRepo
	reviews  ReviewRepo
	enqueuer Enqueuer
}

// NewService constructs the service. enqueuer may be nil in read-only
// deployments; approving then records the decision without a trigger job.
func NewService(repo Repo, plans PlanRepo, reviews ReviewRepo, enqueuer Enqueuer) *Service {
	return &Service{repo: repo, plans: plans, reviews: reviews, enqueuer: enqueuer}
}

// CreateRequestParams collects inputs for a new approval request.
type CreateRequestParams struct {
	OrgID       string
	RequesterID string
	Type        string
	ObjectType  string
	ObjectID    string
	Payload     map[string]any
	Comment     string
}

// CreateRequest opens a pending approval request for a proposed mutation.
func (s *Service) CreateRequest(ctx context.Context, p CreateRequestParams) (models.ApprovalRequest, error) {
	if p.OrgID == "" || p.RequesterID == "" {
		return models.ApprovalRequest{}, fmt.Errorf("org id and requester id are required: %w", apperr.ErrValidation)
	}
	if p.Type == "" || p.ObjectType == "" || p.ObjectID == "" {
		return models.ApprovalRequest{}, fmt.Errorf("type, object type and object id are required: %w", apperr.ErrValidation)
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	req := models.ApprovalRequest{
		ID:          uuid.New().String(),
		OrgID:       p.OrgID,
		Type:        p.Type,
		ObjectType:  p.ObjectType,
		ObjectID:    p.ObjectID,
		PayloadJSON: p.Payload,
		RequesterID: p.RequesterID,
		Comment:     p.Comment,
		Status:      models.ReviewPending,
		CreatedAt:   time.Now().UTC(),
	}
	return s.repo.Create(ctx, req)
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id string) (models.ApprovalRequest, error) {
	return s.repo.Get(ctx, id)
}

// Approve transitions pending -> approved and enqueues the trigger job
// exactly once. Approving an already-approved request returns it unchanged
// with no second job; a rejected request conflicts.
func (s *Service) Approve(ctx context.Context, id, approverID, comment string) (models.ApprovalRequest, error) {
	if approverID == "" {
		return models.ApprovalRequest{}, fmt.Errorf("approver id is required: %w", apperr.ErrValidation)
	}
	req, err := s.repo.Decide(ctx, id, models.ReviewApproved, approverID, comment)
	if err != nil {
		current, getErr := s.repo.Get(ctx, id)
		if getErr == nil && current.Status == models.ReviewApproved {
			return current, nil
		}
		return models.ApprovalRequest{}, err
	}

	if s.enqueuer != nil {
		_, enqErr := s.enqueuer.Enqueue(ctx, jobs.EnqueueParams{
			Type:            models.JobTypeAutoModelTrigger,
			OrgID:           req.OrgID,
			ObjectID:        req.ObjectID,
			CreatedByUserID: approverID,
			IdempotencyKey:  "approval-" + req.ID,
			Params: map[string]any{
				"approvalRequestId": req.ID,
				"objectType":        req.ObjectType,
				"payload":           req.PayloadJSON,
			},
		})
		if enqErr != nil {
			telemetry.Error("approval trigger enqueue failed", map[string]any{"request_id": req.ID, "err": enqErr.Error()})
		}
	}
	telemetry.ApprovalsDecided.Inc()
	telemetry.Info("approval request approved", map[string]any{"request_id": req.ID, "approver_id": approverID})
	return req, nil
}

// Reject transitions pending -> rejected. A comment is mandatory. Rejecting
// an already-rejected request returns it unchanged.
func (s *Service) Reject(ctx context.Context, id, approverID, comment string) (models.ApprovalRequest, error) {
	if approverID == "" {
		return models.ApprovalRequest{}, fmt.Errorf("approver id is required: %w", apperr.ErrValidation)
	}
	if comment == "" {
		return models.ApprovalRequest{}, fmt.Errorf("rejection comment is required: %w", apperr.ErrValidation)
	}
	req, err := s.repo.Decide(ctx, id, models.ReviewRejected, approverID, comment)
	if err != nil {
		current, getErr := s.repo.Get(ctx, id)
		if getErr == nil && current.Status == models.ReviewRejected {
			return current, nil
		}
		return models.ApprovalRequest{}, err
	}
	telemetry.ApprovalsDecided.Inc()
	return req, nil
}

// List returns a tenant's requests, newest first, narrowed by filter.
func (s *Service) List(ctx context.Context, orgID string, filter ListFilter, limit, offset int) ([]models.ApprovalRequest, error) {
	if orgID == "" {
		return nil, fmt.Errorf("org id is required: %w", apperr.ErrValidation)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, orgID, filter, limit, offset)
}

// ListPending is List filtered to pending requests.
func (s *Service) ListPending(ctx context.Context, orgID string, limit, offset int) ([]models.ApprovalRequest, error) {
	return s.List(ctx, orgID, ListFilter{Status: models.ReviewPending}, limit, offset)
}
