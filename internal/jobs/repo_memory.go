package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/models"
)

// MemoryRepo keeps jobs in memory behind one mutex, which makes every
// transition trivially atomic. Used by tests and local development.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]models.Job
	logs map[string][]models.LogEntry
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID: make(map[string]models.Job),
		logs: make(map[string][]models.LogEntry),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, job models.Job, firstLog models.LogEntry) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.IdempotencyKey != nil {
		for _, existing := range r.byID {
			if existing.Queue != job.Queue || existing.IdempotencyKey == nil {
				continue
			}
			if *existing.IdempotencyKey == *job.IdempotencyKey && !models.IsTerminalStatus(existing.Status) {
				return models.Job{}, fmt.Errorf("idempotency key %q active in queue %q: %w", *job.IdempotencyKey, job.Queue, apperr.ErrConflict)
			}
		}
	}

	r.byID[job.ID] = job
	r.logs[job.ID] = append(r.logs[job.ID], firstLog)
	return job, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *MemoryRepo) get(id string) (models.Job, error) {
	job, ok := r.byID[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	return job, nil
}

func claimable(job models.Job, now time.Time) bool {
	switch job.Status {
	case models.StatusQueued, models.StatusFailed:
		return !job.NextRunAt.After(now)
	}
	return false
}

func (r *MemoryRepo) ClaimNext(ctx context.Context, queue string, now time.Time) (models.Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *models.Job
	for id := range r.byID {
		job := r.byID[id]
		if job.Queue != queue || !claimable(job, now) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			j := job
			best = &j
		}
	}
	if best == nil {
		return models.Job{}, false, nil
	}

	started := now
	best.Status = models.StatusProcessing
	best.StartedAt = &started
	best.LastProgressAt = &started
	best.UpdatedAt = now
	r.byID[best.ID] = *best
	return *best, true, nil
}

func (r *MemoryRepo) RecordProgress(ctx context.Context, id string, progress int, at time.Time) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.get(id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusProcessing {
		return models.Job{}, fmt.Errorf("job %s is %s, not processing: %w", id, job.Status, apperr.ErrConflict)
	}
	job.Progress = progress
	job.LastProgressAt = &at
	job.UpdatedAt = at
	r.byID[id] = job
	return job, nil
}

func (r *MemoryRepo) MarkDone(ctx context.Context, id string, at time.Time) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.get(id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusProcessing {
		return models.Job{}, fmt.Errorf("job %s is %s, not processing: %w", id, job.Status, apperr.ErrConflict)
	}
	job.Status = models.StatusDone
	job.Progress = 100
	job.FinishedAt = &at
	job.UpdatedAt = at
	r.byID[id] = job
	return job, nil
}

func (r *MemoryRepo) ScheduleRetry(ctx context.Context, id string, attempts int, nextRun time.Time, cause string) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.get(id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusProcessing {
		return models.Job{}, fmt.Errorf("job %s is %s, not processing: %w", id, job.Status, apperr.ErrConflict)
	}
	job.Status = models.StatusFailed
	job.AttemptCount = attempts
	job.NextRunAt = nextRun
	job.LastError = &cause
	job.UpdatedAt = time.Now().UTC()
	r.byID[id] = job
	return job, nil
}

func (r *MemoryRepo) MarkDeadLetter(ctx context.Context, id string, cause string, at time.Time) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.get(id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusProcessing {
		return models.Job{}, fmt.Errorf("job %s is %s, not processing: %w", id, job.Status, apperr.ErrConflict)
	}
	job.Status = models.StatusDeadLetter
	job.AttemptCount++
	job.LastError = &cause
	job.FinishedAt = &at
	job.UpdatedAt = at
	r.byID[id] = job
	return job, nil
}

func (r *MemoryRepo) MarkCancelled(ctx context.Context, id string, at time.Time) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.get(id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusQueued && job.Status != models.StatusProcessing {
		return models.Job{}, fmt.Errorf("job %s is %s, cannot cancel: %w", id, job.Status, apperr.ErrConflict)
	}
	job.Status = models.StatusCancelled
	job.FinishedAt = &at
	job.UpdatedAt = at
	r.byID[id] = job
	return job, nil
}

func (r *MemoryRepo) Requeue(ctx context.Context, id string, at time.Time) (models.Job, error) {
	if err := ctx.Err(); err != nil {
		return models.Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, err := r.get(id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusDeadLetter {
		return models.Job{}, fmt.Errorf("job %s is %s, not dead_letter: %w", id, job.Status, apperr.ErrConflict)
	}
	job.Status = models.StatusQueued
	job.AttemptCount = 0
	job.Progress = 0
	job.NextRunAt = at
	job.LastError = nil
	job.StartedAt = nil
	job.FinishedAt = nil
	job.UpdatedAt = at
	r.byID[id] = job
	return job, nil
}

func (r *MemoryRepo) AppendLog(ctx context.Context, id string, entry models.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	r.logs[id] = append(r.logs[id], entry)
	return nil
}

func (r *MemoryRepo) Logs(ctx context.Context, id string) ([]models.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return nil, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	out := make([]models.LogEntry, len(r.logs[id]))
	copy(out, r.logs[id])
	return out, nil
}

func (r *MemoryRepo) ListDeadLettered(ctx context.Context, orgID string, limit int) ([]models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Job{}
	for _, job := range r.byID {
		if job.Status != models.StatusDeadLetter {
			continue
		}
		if orgID != "" && job.OrgID != orgID {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Job{}
	for _, job := range r.byID {
		if job.Status != models.StatusProcessing {
			continue
		}
		heartbeat := job.StartedAt
		if job.LastProgressAt != nil {
			heartbeat = job.LastProgressAt
		}
		if heartbeat != nil && heartbeat.Before(cutoff) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) QueueDepth(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.byID {
		if claimable(job, now) {
			n++
		}
	}
	return n, nil
}
