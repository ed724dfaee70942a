package approvals

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/models"
)

// minActionLength rejects staged changes whose description is too short to
// review meaningfully.
const minActionLength = 5

const maxPlansScanned = 50

// ListReviewable projects staged changes out of a tenant's stored plans,
// newest plan first. Plans flagged as fallback-generated are excluded
// entirely, and individual changes failing structural validation are
// dropped. statusFilter narrows by review status when non-empty.
func (s *Service) ListReviewable(ctx context.Context, orgID, statusFilter string) ([]models.StagedChange, error) {
	if orgID == "" {
		return nil, fmt.Errorf("org id is required: %w", apperr.ErrValidation)
	}
	plans, err := s.plans.ListByOrg(ctx, orgID, maxPlansScanned)
	if err != nil {
		return nil, err
	}

	out := []models.StagedChange{}
	for _, plan := range plans {
		if planIsFallback(plan) {
			continue
		}
		for i, raw := range planChanges(plan) {
			change, ok := projectChange(plan.ID, i, raw)
			if !ok {
				continue
			}
			if status, found, err := s.reviews.GetStatus(ctx, change.ID); err != nil {
				return nil, err
			} else if found {
				change.Status = status
			}
			if statusFilter != "" && change.Status != statusFilter {
				continue
			}
			out = append(out, change)
		}
	}
	return out, nil
}

// SetChangeStatus records a one-way pending -> approved/rejected transition
// against the change's derived identity. Setting the same status twice is a
// no-op; reversing a decision conflicts.
func (s *Service) SetChangeStatus(ctx context.Context, orgID, changeID, status string) (models.StagedChange, error) {
	if status != models.ReviewApproved && status != models.ReviewRejected {
		return models.StagedChange{}, fmt.Errorf("status must be approved or rejected, got %q: %w", status, apperr.ErrValidation)
	}
	change, err := s.findChange(ctx, orgID, changeID)
	if err != nil {
		return models.StagedChange{}, err
	}
	if change.Status == status {
		return change, nil
	}
	if change.Status != models.ReviewPending {
		return models.StagedChange{}, fmt.Errorf("staged change %s already %s: %w", changeID, change.Status, apperr.ErrConflict)
	}
	if err := s.reviews.SetStatus(ctx, changeID, status); err != nil {
		return models.StagedChange{}, err
	}
	change.Status = status
	return change, nil
}

func (s *Service) findChange(ctx context.Context, orgID, changeID string) (models.StagedChange, error) {
	planID, index, ok := splitChangeID(changeID)
	if !ok {
		return models.StagedChange{}, fmt.Errorf("malformed change id %q: %w", changeID, apperr.ErrValidation)
	}
	plans, err := s.plans.ListByOrg(ctx, orgID, maxPlansScanned)
	if err != nil {
		return models.StagedChange{}, err
	}
	for _, plan := range plans {
		if plan.ID != planID || planIsFallback(plan) {
			continue
		}
		changes := planChanges(plan)
		if index >= len(changes) {
			break
		}
		change, valid := projectChange(plan.ID, index, changes[index])
		if !valid {
			break
		}
		if status, found, err := s.reviews.GetStatus(ctx, change.ID); err != nil {
			return models.StagedChange{}, err
		} else if found {
			change.Status = status
		}
		return change, nil
	}
	return models.StagedChange{}, fmt.Errorf("staged change %s: %w", changeID, apperr.ErrNotFound)
}

// splitChangeID parses "<planID>-<index>"; plan ids contain dashes, so the
// index is everything after the last one.
func splitChangeID(changeID string) (string, int, bool) {
	i := strings.LastIndex(changeID, "-")
	if i <= 0 || i == len(changeID)-1 {
		return "", 0, false
	}
	index, err := strconv.Atoi(changeID[i+1:])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return changeID[:i], index, true
}

func planIsFallback(plan models.Plan) bool {
	meta, ok := plan.PlanJSON["metadata"].(map[string]any)
	if !ok {
		return false
	}
	fallback, _ := meta["fallbackUsed"].(bool)
	return fallback
}

func planChanges(plan models.Plan) []any {
	raw, ok := plan.PlanJSON["stagedChanges"].([]any)
	if !ok {
		return nil
	}
	return raw
}

// projectChange validates one raw staged change and builds the model. A
// short action, a confidence outside [0,1], or a missing impact makes the
// change unreviewable and it is skipped.
func projectChange(planID string, index int, raw any) (models.StagedChange, bool) {
	doc, ok := raw.(map[string]any)
	if !ok {
		return models.StagedChange{}, false
	}
	action, _ := doc["action"].(string)
	if len(strings.TrimSpace(action)) < minActionLength {
		return models.StagedChange{}, false
	}
	confidence, ok := asFloat(doc["confidence"])
	if !ok || confidence < 0 || confidence > 1 {
		return models.StagedChange{}, false
	}
	impact, ok := doc["impact"].(map[string]any)
	if !ok {
		return models.StagedChange{}, false
	}

	change := models.StagedChange{
		ID:         fmt.Sprintf("%s-%d", planID, index),
		PlanID:     planID,
		Index:      index,
		Action:     action,
		Confidence: confidence,
		Impact: models.ChangeImpact{
			OldValue: impact["oldValue"],
			NewValue: impact["newValue"],
		},
		Status: models.ReviewPending,
	}
	if evidence, ok := doc["evidence"].([]any); ok {
		for _, e := range evidence {
			if s, ok := e.(string); ok {
				change.Evidence = append(change.Evidence, s)
			}
		}
	}
	return change, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// AddPlan stores planner output for later review.
func (s *Service) AddPlan(ctx context.Context, plan models.Plan) (models.Plan, error) {
	if plan.OrgID == "" {
		return models.Plan{}, fmt.Errorf("org id is required: %w", apperr.ErrValidation)
	}
	if plan.ID == "" {
		return models.Plan{}, fmt.Errorf("plan id is required: %w", apperr.ErrValidation)
	}
	return s.plans.Create(ctx, plan)
}
