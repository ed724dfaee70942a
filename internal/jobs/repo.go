package jobs

import (
	"context"
	"time"

	"projection-orchestrator/internal/models"
)

// Repo defines persistence for jobs. Transition methods are conditional on
// the current status and return apperr.ErrConflict when the job is not in an
// eligible state; the service layers idempotency rules on top.
type Repo interface {
	// Create inserts a job and its first log entry. When the job carries an
	// idempotency key, the active-key check and the insert happen in one
	// atomic step; an active job holding the same key in the same queue
	// yields apperr.ErrConflict.
	Create(ctx context.Context, job models.Job, firstLog models.LogEntry) (models.Job, error)

	Get(ctx context.Context, id string) (models.Job, error)

	// ClaimNext atomically moves the highest-priority claimable job (queued,
	// or failed with a due retry) in the queue to processing. The boolean is
	// false when the queue is empty.
	ClaimNext(ctx context.Context, queue string, now time.Time) (models.Job, bool, error)

	// RecordProgress updates progress and the heartbeat while processing.
	RecordProgress(ctx context.Context, id string, progress int, at time.Time) (models.Job, error)

	// MarkDone transitions processing -> done.
	MarkDone(ctx context.Context, id string, at time.Time) (models.Job, error)

	// ScheduleRetry transitions processing -> failed with the next attempt
	// count and backoff deadline.
	ScheduleRetry(ctx context.Context, id string, attempts int, nextRun time.Time, cause string) (models.Job, error)

	// MarkDeadLetter transitions processing -> dead_letter.
	MarkDeadLetter(ctx context.Context, id string, cause string, at time.Time) (models.Job, error)

	// MarkCancelled transitions queued/processing -> cancelled.
	MarkCancelled(ctx context.Context, id string, at time.Time) (models.Job, error)

	// Requeue resets a dead-lettered job to queued with zero attempts.
	Requeue(ctx context.Context, id string, at time.Time) (models.Job, error)

	AppendLog(ctx context.Context, id string, entry models.LogEntry) error
	Logs(ctx context.Context, id string) ([]models.LogEntry, error)

	ListDeadLettered(ctx context.Context, orgID string, limit int) ([]models.Job, error)
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	QueueDepth(ctx context.Context, now time.Time) (int64, error)
}
