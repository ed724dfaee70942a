package approvals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/models"
)

// MemoryRepo stores approval requests in memory and is safe for concurrent
// use.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]models.ApprovalRequest
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]models.ApprovalRequest)}
}

func (r *MemoryRepo) Create(ctx context.Context, req models.ApprovalRequest) (models.ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return models.ApprovalRequest{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[req.ID] = req
	return req, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (models.ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return models.ApprovalRequest{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return models.ApprovalRequest{}, fmt.Errorf("approval request %s: %w", id, apperr.ErrNotFound)
	}
	return req, nil
}

func (r *MemoryRepo) Decide(ctx context.Context, id, status, approverID, comment string) (models.ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return models.ApprovalRequest{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byID[id]
	if !ok {
		return models.ApprovalRequest{}, fmt.Errorf("approval request %s: %w", id, apperr.ErrNotFound)
	}
	if req.Status != models.ReviewPending {
		return models.ApprovalRequest{}, fmt.Errorf("approval request %s already %s: %w", id, req.Status, apperr.ErrConflict)
	}
	now := time.Now().UTC()
	req.Status = status
	req.ApproverID = approverID
	req.DecisionComment = comment
	req.DecidedAt = &now
	r.byID[id] = req
	return req, nil
}

func (r *MemoryRepo) List(ctx context.Context, orgID string, filter ListFilter, limit, offset int) ([]models.ApprovalRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.ApprovalRequest{}
	for _, req := range r.byID {
		if req.OrgID != orgID {
			continue
		}
		if filter.Type != "" && req.Type != filter.Type {
			continue
		}
		if filter.ObjectType != "" && req.ObjectType != filter.ObjectType {
			continue
		}
		if filter.ObjectID != "" && req.ObjectID != filter.ObjectID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > 0 {
		if offset >= len(out) {
			return []models.ApprovalRequest{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryPlanRepo stores plans in memory.
type MemoryPlanRepo struct {
	mu     sync.RWMutex
	byOrg  map[string][]models.Plan
	nextAt time.Time
}

// NewMemoryPlanRepo constructs a MemoryPlanRepo.
func NewMemoryPlanRepo() *MemoryPlanRepo {
	return &MemoryPlanRepo{byOrg: make(map[string][]models.Plan)}
}

func (r *MemoryPlanRepo) Create(ctx context.Context, plan models.Plan) (models.Plan, error) {
	if err := ctx.Err(); err != nil {
		return models.Plan{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if plan.CreatedAt.IsZero() {
		// Monotonic timestamps keep newest-first ordering stable when plans
		// are seeded in the same wall-clock instant.
		now := time.Now().UTC()
		if !now.After(r.nextAt) {
			now = r.nextAt.Add(time.Microsecond)
		}
		r.nextAt = now
		plan.CreatedAt = now
	}
	r.byOrg[plan.OrgID] = append(r.byOrg[plan.OrgID], plan)
	return plan, nil
}

func (r *MemoryPlanRepo) ListByOrg(ctx context.Context, orgID string, limit int) ([]models.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	plans := make([]models.Plan, len(r.byOrg[orgID]))
	copy(plans, r.byOrg[orgID])
	sort.Slice(plans, func(i, j int) bool { return plans[i].CreatedAt.After(plans[j].CreatedAt) })
	if limit > 0 && len(plans) > limit {
		plans = plans[:limit]
	}
	return plans, nil
}

// MemoryReviewRepo records staged-change statuses in memory.
type MemoryReviewRepo struct {
	mu       sync.RWMutex
	statuses map[string]string
}

// NewMemoryReviewRepo constructs a MemoryReviewRepo.
func NewMemoryReviewRepo() *MemoryReviewRepo {
	return &MemoryReviewRepo{statuses: make(map[string]string)}
}

func (r *MemoryReviewRepo) GetStatus(ctx context.Context, changeID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	status, ok := r.statuses[changeID]
	return status, ok, nil
}

func (r *MemoryReviewRepo) SetStatus(ctx context.Context, changeID, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[changeID] = status
	return nil
}
