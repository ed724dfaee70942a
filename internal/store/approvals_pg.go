package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/approvals"
	"projection-orchestrator/internal/models"
)

// ApprovalRepo implements approvals.Repo on Postgres. Decide is a status-
// guarded UPDATE so two concurrent approvers cannot both win.
type ApprovalRepo struct {
	store *Store
}

// NewApprovalRepo constructs the repo.
func NewApprovalRepo(s *Store) *ApprovalRepo {
	return &ApprovalRepo{store: s}
}

var _ approvals.Repo = (*ApprovalRepo)(nil)

const approvalColumns = `id, org_id, type, object_type, object_id, payload_json, requester_id,
	comment, status, approver_id, decision_comment, created_at, decided_at`

func scanApproval(row pgx.Row) (models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var payloadJSON []byte
	var decidedAt pgtype.Timestamptz
	err := row.Scan(&req.ID, &req.OrgID, &req.Type, &req.ObjectType, &req.ObjectID,
		&payloadJSON, &req.RequesterID, &req.Comment, &req.Status, &req.ApproverID,
		&req.DecisionComment, &req.CreatedAt, &decidedAt)
	if err != nil {
		return models.ApprovalRequest{}, err
	}
	if err := json.Unmarshal(payloadJSON, &req.PayloadJSON); err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("unmarshal approval payload: %w", err)
	}
	req.DecidedAt = timePtr(decidedAt)
	return req, nil
}

func (r *ApprovalRepo) Create(ctx context.Context, req models.ApprovalRequest) (models.ApprovalRequest, error) {
	payloadJSON, err := json.Marshal(req.PayloadJSON)
	if err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("marshal approval payload: %w", err)
	}
	_, err = r.store.pool.Exec(ctx, `
		INSERT INTO approval_requests (id, org_id, type, object_type, object_id, payload_json,
			requester_id, comment, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.OrgID, req.Type, req.ObjectType, req.ObjectID, payloadJSON,
		req.RequesterID, req.Comment, req.Status, req.CreatedAt)
	if err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("insert approval request: %w", err)
	}
	return req, nil
}

func (r *ApprovalRepo) Get(ctx context.Context, id string) (models.ApprovalRequest, error) {
	row := r.store.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id)
	req, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ApprovalRequest{}, fmt.Errorf("approval request %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("scan approval request: %w", err)
	}
	return req, nil
}

func (r *ApprovalRepo) Decide(ctx context.Context, id, status, approverID, comment string) (models.ApprovalRequest, error) {
	row := r.store.pool.QueryRow(ctx, `
		UPDATE approval_requests
		SET status = $2, approver_id = $3, decision_comment = $4, decided_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+approvalColumns, id, status, approverID, comment, time.Now().UTC())
	req, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return models.ApprovalRequest{}, getErr
		}
		return models.ApprovalRequest{}, fmt.Errorf("approval request %s already %s: %w", id, current.Status, apperr.ErrConflict)
	}
	if err != nil {
		return models.ApprovalRequest{}, fmt.Errorf("decide approval request: %w", err)
	}
	return req, nil
}

func (r *ApprovalRepo) List(ctx context.Context, orgID string, filter approvals.ListFilter, limit, offset int) ([]models.ApprovalRequest, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT `+approvalColumns+` FROM approval_requests
		WHERE org_id = $1
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR object_type = $3)
		  AND ($4 = '' OR object_id = $4)
		  AND ($5 = '' OR status = $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7
	`, orgID, filter.Type, filter.ObjectType, filter.ObjectID, filter.Status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query approval requests: %w", err)
	}
	defer rows.Close()

	out := []models.ApprovalRequest{}
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// PlanRepo implements approvals.PlanRepo on Postgres.
type PlanRepo struct {
	store *Store
}

// NewPlanRepo constructs the repo.
func NewPlanRepo(s *Store) *PlanRepo {
	return &PlanRepo{store: s}
}

var _ approvals.PlanRepo = (*PlanRepo)(nil)

func (r *PlanRepo) Create(ctx context.Context, plan models.Plan) (models.Plan, error) {
	planJSON, err := json.Marshal(plan.PlanJSON)
	if err != nil {
		return models.Plan{}, fmt.Errorf("marshal plan: %w", err)
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	_, err = r.store.pool.Exec(ctx, `
		INSERT INTO plans (id, org_id, plan_json, created_at) VALUES ($1, $2, $3, $4)
	`, plan.ID, plan.OrgID, planJSON, plan.CreatedAt)
	if err != nil {
		return models.Plan{}, fmt.Errorf("insert plan: %w", err)
	}
	return plan, nil
}

func (r *PlanRepo) ListByOrg(ctx context.Context, orgID string, limit int) ([]models.Plan, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT id, org_id, plan_json, created_at FROM plans
		WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	out := []models.Plan{}
	for rows.Next() {
		var plan models.Plan
		var planJSON []byte
		if err := rows.Scan(&plan.ID, &plan.OrgID, &planJSON, &plan.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		if err := json.Unmarshal(planJSON, &plan.PlanJSON); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

// ReviewRepo implements approvals.ReviewRepo on Postgres.
type ReviewRepo struct {
	store *Store
}

// NewReviewRepo constructs the repo.
func NewReviewRepo(s *Store) *ReviewRepo {
	return &ReviewRepo{store: s}
}

var _ approvals.ReviewRepo = (*ReviewRepo)(nil)

func (r *ReviewRepo) GetStatus(ctx context.Context, changeID string) (string, bool, error) {
	var status string
	err := r.store.pool.QueryRow(ctx, `
		SELECT status FROM staged_change_reviews WHERE change_id = $1
	`, changeID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query staged change review: %w", err)
	}
	return status, true, nil
}

func (r *ReviewRepo) SetStatus(ctx context.Context, changeID, status string) error {
	_, err := r.store.pool.Exec(ctx, `
		INSERT INTO staged_change_reviews (change_id, status, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (change_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`, changeID, status)
	if err != nil {
		return fmt.Errorf("upsert staged change review: %w", err)
	}
	return nil
}

// AddOrgMember grants a user access to a tenant; used by bootstrap and ops
// tooling.
func (s *Store) AddOrgMember(ctx context.Context, userID, orgID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO org_members (user_id, org_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, userID, orgID)
	if err != nil {
		return fmt.Errorf("insert org member: %w", err)
	}
	return nil
}
