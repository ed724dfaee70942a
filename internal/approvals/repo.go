package approvals

import (
	"context"

	"projection-orchestrator/internal/models"
)

// ListFilter narrows approval request listings. Zero values match all.
type ListFilter struct {
	Type       string
	ObjectType string
	ObjectID   string
	Status     string
}

// Repo defines persistence for approval requests. Decide must be conditional
// on pending status so two approvers cannot both win.
type Repo interface {
	Create(ctx context.Context, req models.ApprovalRequest) (models.ApprovalRequest, error)
	Get(ctx context.Context, id string) (models.ApprovalRequest, error)

	// Decide transitions pending -> status, recording the approver and
	// comment; apperr.ErrConflict when the request is no longer pending.
	Decide(ctx context.Context, id, status, approverID, comment string) (models.ApprovalRequest, error)

	List(ctx context.Context, orgID string, filter ListFilter, limit, offset int) ([]models.ApprovalRequest, error)
}

// PlanRepo reads stored AI-planner output for a tenant, newest first.
type PlanRepo interface {
	Create(ctx context.Context, plan models.Plan) (models.Plan, error)
	ListByOrg(ctx context.Context, orgID string, limit int) ([]models.Plan, error)
}

// ReviewRepo records the authoritative status of a staged change against its
// derived "<planID>-<index>" identity. Absent means pending.
type ReviewRepo interface {
	GetStatus(ctx context.Context, changeID string) (string, bool, error)
	SetStatus(ctx context.Context, changeID, status string) error
}
