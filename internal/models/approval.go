package models

import "time"

// Review statuses shared by approval requests and staged changes.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// ApprovalRequest gates a proposed mutation behind a human decision.
// Approved and rejected are terminal; re-review requires a new request.
type ApprovalRequest struct {
	ID              string         `json:"id"`
	OrgID           string         `json:"org_id"`
	Type            string         `json:"type"`
	ObjectType      string         `json:"object_type"`
	ObjectID        string         `json:"object_id"`
	PayloadJSON     map[string]any `json:"payload_json"`
	RequesterID     string         `json:"requester_id"`
	Comment         string         `json:"comment,omitempty"`
	Status          string         `json:"status"`
	ApproverID      string         `json:"approver_id,omitempty"`
	DecisionComment string         `json:"decision_comment,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	DecidedAt       *time.Time     `json:"decided_at,omitempty"`
}

// Plan is stored AI-planner output. PlanJSON carries the raw plan document
// including stagedChanges and metadata; shape is validated at projection
// time, not on write.
type Plan struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	PlanJSON  map[string]any `json:"plan_json"`
	CreatedAt time.Time      `json:"created_at"`
}

// ChangeImpact is the before/after pair attached to a staged change.
type ChangeImpact struct {
	OldValue any `json:"oldValue"`
	NewValue any `json:"newValue"`
}

// StagedChange is projected from a plan's stagedChanges array; it is not
// separately persisted. ID is "<planID>-<index>", stable across refetches.
type StagedChange struct {
	ID         string       `json:"id"`
	PlanID     string       `json:"plan_id"`
	Index      int          `json:"index"`
	Action     string       `json:"action"`
	Impact     ChangeImpact `json:"impact"`
	Confidence float64      `json:"confidence"`
	Evidence   []string     `json:"evidence,omitempty"`
	Status     string       `json:"status"`
}
