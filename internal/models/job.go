package models

import (
	"time"
)

// Job lifecycle states persisted in Postgres. StatusFailed is retry-pending:
// the job becomes claimable again once NextRunAt passes. StatusDone,
// StatusDeadLetter and StatusCancelled are terminal and never transition.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusDeadLetter = "dead_letter"
	StatusCancelled  = "cancelled"
)

// Job types understood by the control plane.
const (
	JobTypeModelRun         = "model_run"
	JobTypeCSVImport        = "csv_import"
	JobTypeExport           = "export"
	JobTypeAutoModelTrigger = "auto_model_trigger"
)

// IsTerminalStatus reports whether a job in the given status may never
// transition again.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusDone, StatusDeadLetter, StatusCancelled:
		return true
	}
	return false
}

// Job is one unit of asynchronous work tracked by the orchestrator.
type Job struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Queue           string         `json:"queue"`
	Priority        int            `json:"priority"`
	OrgID           string         `json:"org_id"`
	ObjectID        string         `json:"object_id,omitempty"`
	Params          map[string]any `json:"params"`
	Status          string         `json:"status"`
	Progress        int            `json:"progress"`
	AttemptCount    int            `json:"attempt_count"`
	MaxAttempts     int            `json:"max_attempts"`
	NextRunAt       time.Time      `json:"next_run_at"`
	LastError       *string        `json:"last_error,omitempty"`
	IdempotencyKey  *string        `json:"idempotency_key,omitempty"`
	CreatedByUserID string         `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	LastProgressAt  *time.Time     `json:"last_progress_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// LogEntry is one structured, append-only job log line. Meta is free-form;
// the entry written at enqueue time carries the job input under
// meta["params"] so operators can replay a job from its trail.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
}
