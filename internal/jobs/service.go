package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/runs"
	"projection-orchestrator/internal/telemetry"
)

// CompletionNotifier receives a push notification when a job finishes.
// Polling stays the client-facing contract; this is the internal fast path.
type CompletionNotifier interface {
	JobCompleted(ctx context.Context, job models.Job)
}

// Options tune retry and defaulting behavior.
type Options struct {
	DefaultQueue       string
	DefaultMaxAttempts int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
}

func (o *Options) fill() {
	if o.DefaultQueue == "" {
		o.DefaultQueue = "computation"
	}
	if o.DefaultMaxAttempts == 0 {
		o.DefaultMaxAttempts = 3
	}
	if o.BackoffInitial == 0 {
		o.BackoffInitial = 2 * time.Second
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = 5 * time.Minute
	}
}

// Service is the job store and dispatcher: it owns every lifecycle
// transition and creates the parent run for computation jobs.
type Service struct {
	repo     Repo
	runs     runs.Repo
	notifier CompletionNotifier
	opts     Options
}

// NewService constructs the service. notifier may be nil.
func NewService(repo Repo, runRepo runs.Repo, notifier CompletionNotifier, opts Options) *Service {
	opts.fill()
	return &Service{repo: repo, runs: runRepo, notifier: notifier, opts: opts}
}

// EnqueueParams collects inputs for a new job.
type EnqueueParams struct {
	Type            string
	OrgID           string
	ObjectID        string
	Params          map[string]any
	Queue           string
	Priority        int
	IdempotencyKey  string
	CreatedByUserID string
	MaxAttempts     int
}

var validTypes = map[string]bool{
	models.JobTypeModelRun:         true,
	models.JobTypeCSVImport:        true,
	models.JobTypeExport:           true,
	models.JobTypeAutoModelTrigger: true,
}

// Enqueue creates a job in queued state. A model_run without an object id
// gets a fresh parent run first. An active job holding the same idempotency
// key in the same queue yields apperr.ErrConflict; callers should poll that
// job instead of retrying creation.
func (s *Service) Enqueue(ctx context.Context, p EnqueueParams) (models.Job, error) {
	if !validTypes[p.Type] {
		return models.Job{}, fmt.Errorf("unknown job type %q: %w", p.Type, apperr.ErrValidation)
	}
	if p.OrgID == "" {
		return models.Job{}, fmt.Errorf("org id is required: %w", apperr.ErrValidation)
	}
	if p.Params == nil {
		p.Params = map[string]any{}
	}
	if p.Queue == "" {
		p.Queue = s.opts.DefaultQueue
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = s.opts.DefaultMaxAttempts
	}

	objectID := p.ObjectID
	if p.Type == models.JobTypeModelRun && objectID == "" {
		modelID, _ := p.Params["modelId"].(string)
		run, err := s.runs.Create(ctx, models.Run{
			ID:         uuid.New().String(),
			ModelID:    modelID,
			OrgID:      p.OrgID,
			ParamsJSON: p.Params,
			Status:     models.RunStatusQueued,
		})
		if err != nil {
			return models.Job{}, fmt.Errorf("create run: %w", err)
		}
		objectID = run.ID
	}

	now := time.Now().UTC()
	job := models.Job{
		ID:              uuid.New().String(),
		Type:            p.Type,
		Queue:           p.Queue,
		Priority:        p.Priority,
		OrgID:           p.OrgID,
		ObjectID:        objectID,
		Params:          p.Params,
		Status:          models.StatusQueued,
		MaxAttempts:     p.MaxAttempts,
		NextRunAt:       now,
		IdempotencyKey:  emptyToNil(p.IdempotencyKey),
		CreatedByUserID: p.CreatedByUserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	firstLog := models.LogEntry{
		Timestamp: now,
		Level:     "info",
		Message:   "job enqueued",
		Meta:      map[string]any{"params": p.Params, "queue": p.Queue},
	}

	created, err := s.repo.Create(ctx, job, firstLog)
	if err != nil {
		return models.Job{}, err
	}
	telemetry.JobsEnqueued.Inc()
	return created, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (models.Job, error) {
	return s.repo.Get(ctx, id)
}

// Logs returns the job's log trail, oldest first.
func (s *Service) Logs(ctx context.Context, id string) ([]models.LogEntry, error) {
	return s.repo.Logs(ctx, id)
}

// ClaimNext hands one claimable job to a worker. The repo guarantees
// at-most-one claimer per job.
func (s *Service) ClaimNext(ctx context.Context, queue string) (models.Job, bool, error) {
	if queue == "" {
		queue = s.opts.DefaultQueue
	}
	job, ok, err := s.repo.ClaimNext(ctx, queue, time.Now().UTC())
	if err != nil || !ok {
		return models.Job{}, false, err
	}
	telemetry.JobsClaimed.Inc()
	telemetry.InFlightGauge.Inc()
	if job.Type == models.JobTypeModelRun && job.ObjectID != "" {
		if _, err := s.runs.UpdateStatus(ctx, job.ObjectID, models.RunStatusProcessing); err != nil {
			telemetry.Error("run status update failed", map[string]any{"job_id": job.ID, "run_id": job.ObjectID, "err": err.Error()})
		}
	}
	return job, true, nil
}

// ReportProgress records progress while processing; any other state is a
// conflict. The optional log entry is appended to the trail.
func (s *Service) ReportProgress(ctx context.Context, id string, progress int, entry *models.LogEntry) (models.Job, error) {
	if progress < 0 || progress > 100 {
		return models.Job{}, fmt.Errorf("progress %d out of range [0,100]: %w", progress, apperr.ErrValidation)
	}
	job, err := s.repo.RecordProgress(ctx, id, progress, time.Now().UTC())
	if err != nil {
		return models.Job{}, err
	}
	if entry != nil {
		if err := s.repo.AppendLog(ctx, id, *entry); err != nil {
			return models.Job{}, err
		}
	}
	return job, nil
}

// Complete transitions processing -> done. Completing an already-done job is
// an idempotent no-op, and a late completion for a cancelled job is ignored.
func (s *Service) Complete(ctx context.Context, id string, result map[string]any) (models.Job, error) {
	now := time.Now().UTC()
	job, err := s.repo.MarkDone(ctx, id, now)
	if errors.Is(err, apperr.ErrConflict) {
		current, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return models.Job{}, getErr
		}
		switch current.Status {
		case models.StatusDone, models.StatusCancelled:
			return current, nil
		}
		return models.Job{}, err
	}
	if err != nil {
		return models.Job{}, err
	}

	meta := map[string]any{}
	if result != nil {
		meta["result"] = result
	}
	_ = s.repo.AppendLog(ctx, id, models.LogEntry{Timestamp: now, Level: "info", Message: "job completed", Meta: meta})

	telemetry.JobsCompleted.Inc()
	telemetry.InFlightGauge.Dec()
	if s.notifier != nil {
		s.notifier.JobCompleted(ctx, job)
	}
	return job, nil
}

// Fail records a failure on a processing job: retry with backoff while
// attempts remain, dead-letter once they are exhausted. The policy is
// count-based only; it does not distinguish error kinds.
func (s *Service) Fail(ctx context.Context, id string, cause string) (models.Job, error) {
	now := time.Now().UTC()
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	if models.IsTerminalStatus(job.Status) {
		// Late failure report for a finished job; nothing to record.
		return job, nil
	}
	if job.Status != models.StatusProcessing {
		return models.Job{}, fmt.Errorf("job %s is %s, not processing: %w", id, job.Status, apperr.ErrConflict)
	}

	attempts := job.AttemptCount + 1
	if attempts >= job.MaxAttempts {
		dead, err := s.repo.MarkDeadLetter(ctx, id, cause, now)
		if err != nil {
			return models.Job{}, err
		}
		_ = s.repo.AppendLog(ctx, id, models.LogEntry{
			Timestamp: now,
			Level:     "error",
			Message:   "job dead-lettered",
			Meta:      map[string]any{"cause": cause, "attempts": attempts},
		})
		if dead.Type == models.JobTypeModelRun && dead.ObjectID != "" {
			if _, err := s.runs.UpdateStatus(ctx, dead.ObjectID, models.RunStatusFailed); err != nil {
				telemetry.Error("run status update failed", map[string]any{"job_id": id, "run_id": dead.ObjectID, "err": err.Error()})
			}
		}
		telemetry.JobsDeadLettered.Inc()
		telemetry.InFlightGauge.Dec()
		return dead, nil
	}

	nextRun := now.Add(backoffWithJitter(s.opts.BackoffInitial, s.opts.BackoffMax, attempts))
	failed, err := s.repo.ScheduleRetry(ctx, id, attempts, nextRun, cause)
	if err != nil {
		return models.Job{}, err
	}
	_ = s.repo.AppendLog(ctx, id, models.LogEntry{
		Timestamp: now,
		Level:     "warn",
		Message:   "job failed, retry scheduled",
		Meta:      map[string]any{"cause": cause, "attempts": attempts, "next_run_at": nextRun.Format(time.RFC3339)},
	})
	telemetry.JobsFailed.Inc()
	telemetry.InFlightGauge.Dec()
	return failed, nil
}

// Cancel transitions queued/processing -> cancelled. Cancellation is
// cooperative: an in-flight worker is not interrupted, and its late
// completion report is ignored.
func (s *Service) Cancel(ctx context.Context, id string) (models.Job, error) {
	now := time.Now().UTC()
	job, err := s.repo.MarkCancelled(ctx, id, now)
	if errors.Is(err, apperr.ErrConflict) {
		current, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return models.Job{}, getErr
		}
		if current.Status == models.StatusCancelled {
			return current, nil
		}
		return models.Job{}, err
	}
	if err != nil {
		return models.Job{}, err
	}
	_ = s.repo.AppendLog(ctx, id, models.LogEntry{Timestamp: now, Level: "info", Message: "job cancelled"})
	return job, nil
}

// Requeue is the operator action that puts a dead-lettered job back in the
// queue with a fresh attempt budget.
func (s *Service) Requeue(ctx context.Context, id string) (models.Job, error) {
	now := time.Now().UTC()
	job, err := s.repo.Requeue(ctx, id, now)
	if err != nil {
		return models.Job{}, err
	}
	_ = s.repo.AppendLog(ctx, id, models.LogEntry{Timestamp: now, Level: "info", Message: "job requeued by operator"})
	return job, nil
}

// ListDeadLettered returns dead-lettered jobs, newest first.
func (s *Service) ListDeadLettered(ctx context.Context, orgID string, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListDeadLettered(ctx, orgID, limit)
}

// QueueDepth reports how many jobs are currently claimable.
func (s *Service) QueueDepth(ctx context.Context) (int64, error) {
	return s.repo.QueueDepth(ctx, time.Now().UTC())
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
