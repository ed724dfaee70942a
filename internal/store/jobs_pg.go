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
	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
)

// JobRepo implements jobs.Repo on Postgres. Claiming uses a single guarded
// UPDATE over a FOR UPDATE SKIP LOCKED subselect, and the enqueue-time
// idempotency check rides on the partial unique index, so both are atomic
// without read-then-write races.
type JobRepo struct {
	store *Store
}

// NewJobRepo constructs the repo.
func NewJobRepo(s *Store) *JobRepo {
	return &JobRepo{store: s}
}

var _ jobs.Repo = (*JobRepo)(nil)

const jobColumns = `id, type, queue, priority, org_id, object_id, params, status, progress,
	attempt_count, max_attempts, next_run_at, last_error, idempotency_key,
	created_by_user_id, created_at, started_at, finished_at, last_progress_at, updated_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var paramsJSON []byte
	var lastErr, idem pgtype.Text
	var startedAt, finishedAt, lastProgressAt pgtype.Timestamptz

	err := row.Scan(&job.ID, &job.Type, &job.Queue, &job.Priority, &job.OrgID, &job.ObjectID,
		&paramsJSON, &job.Status, &job.Progress, &job.AttemptCount, &job.MaxAttempts,
		&job.NextRunAt, &lastErr, &idem, &job.CreatedByUserID, &job.CreatedAt,
		&startedAt, &finishedAt, &lastProgressAt, &job.UpdatedAt)
	if err != nil {
		return models.Job{}, err
	}
	if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal job params: %w", err)
	}
	job.LastError = textPtr(lastErr)
	job.IdempotencyKey = textPtr(idem)
	job.StartedAt = timePtr(startedAt)
	job.FinishedAt = timePtr(finishedAt)
	job.LastProgressAt = timePtr(lastProgressAt)
	return job, nil
}

func (r *JobRepo) Create(ctx context.Context, job models.Job, firstLog models.LogEntry) (models.Job, error) {
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal job params: %w", err)
	}
	metaJSON, err := json.Marshal(firstLog.Meta)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal log meta: %w", err)
	}

	tx, err := r.store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, type, queue, priority, org_id, object_id, params, status,
			progress, attempt_count, max_attempts, next_run_at, idempotency_key,
			created_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9, $10, $11, $12, $13, $13)
	`, job.ID, job.Type, job.Queue, job.Priority, job.OrgID, job.ObjectID, paramsJSON,
		job.Status, job.MaxAttempts, job.NextRunAt, job.IdempotencyKey,
		job.CreatedByUserID, job.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "jobs_active_idempotency_idx") {
			return models.Job{}, fmt.Errorf("idempotency key active in queue %q: %w", job.Queue, apperr.ErrConflict)
		}
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO job_logs (job_id, ts, level, message, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, job.ID, firstLog.Timestamp, firstLog.Level, firstLog.Message, metaJSON)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (models.Job, error) {
	row := r.store.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (r *JobRepo) ClaimNext(ctx context.Context, queue string, now time.Time) (models.Job, bool, error) {
	row := r.store.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'processing', started_at = $2, last_progress_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND status IN ('queued', 'failed')
			  AND next_run_at <= $2
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, queue, now)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// conditionalUpdate runs an UPDATE guarded by the current status and maps a
// missing row onto NotFound or Conflict by re-reading the job.
func (r *JobRepo) conditionalUpdate(ctx context.Context, id, sql string, args ...any) (models.Job, error) {
	row := r.store.pool.QueryRow(ctx, sql, args...)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return models.Job{}, getErr
		}
		return models.Job{}, fmt.Errorf("job %s is %s: %w", id, current.Status, apperr.ErrConflict)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}

func (r *JobRepo) RecordProgress(ctx context.Context, id string, progress int, at time.Time) (models.Job, error) {
	return r.conditionalUpdate(ctx, id, `
		UPDATE jobs
		SET progress = $2, last_progress_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing'
		RETURNING `+jobColumns, id, progress, at)
}

func (r *JobRepo) MarkDone(ctx context.Context, id string, at time.Time) (models.Job, error) {
	return r.conditionalUpdate(ctx, id, `
		UPDATE jobs
		SET status = 'done', progress = 100, finished_at = $2, updated_at = $2, last_error = NULL
		WHERE id = $1 AND status = 'processing'
		RETURNING `+jobColumns, id, at)
}

func (r *JobRepo) ScheduleRetry(ctx context.Context, id string, attempts int, nextRun time.Time, cause string) (models.Job, error) {
	return r.conditionalUpdate(ctx, id, `
		UPDATE jobs
		SET status = 'failed', attempt_count = $2, next_run_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING `+jobColumns, id, attempts, nextRun, cause)
}

func (r *JobRepo) MarkDeadLetter(ctx context.Context, id string, cause string, at time.Time) (models.Job, error) {
	return r.conditionalUpdate(ctx, id, `
		UPDATE jobs
		SET status = 'dead_letter', attempt_count = attempt_count + 1, last_error = $2,
			finished_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing'
		RETURNING `+jobColumns, id, cause, at)
}

func (r *JobRepo) MarkCancelled(ctx context.Context, id string, at time.Time) (models.Job, error) {
	return r.conditionalUpdate(ctx, id, `
		UPDATE jobs
		SET status = 'cancelled', finished_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('queued', 'processing')
		RETURNING `+jobColumns, id, at)
}

func (r *JobRepo) Requeue(ctx context.Context, id string, at time.Time) (models.Job, error) {
	return r.conditionalUpdate(ctx, id, `
		UPDATE jobs
		SET status = 'queued', attempt_count = 0, progress = 0, next_run_at = $2,
			last_error = NULL, started_at = NULL, finished_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'dead_letter'
		RETURNING `+jobColumns, id, at)
}

func (r *JobRepo) AppendLog(ctx context.Context, id string, entry models.LogEntry) error {
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("marshal log meta: %w", err)
	}
	tag, err := r.store.pool.Exec(ctx, `
		INSERT INTO job_logs (job_id, ts, level, message, meta)
		SELECT $1, $2, $3, $4, $5 WHERE EXISTS (SELECT 1 FROM jobs WHERE id = $1)
	`, id, entry.Timestamp, entry.Level, entry.Message, metaJSON)
	if err != nil {
		return fmt.Errorf("insert job log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *JobRepo) Logs(ctx context.Context, id string) ([]models.LogEntry, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := r.store.pool.Query(ctx, `
		SELECT ts, level, message, meta FROM job_logs WHERE job_id = $1 ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query job logs: %w", err)
	}
	defer rows.Close()

	out := []models.LogEntry{}
	for rows.Next() {
		var entry models.LogEntry
		var metaJSON []byte
		if err := rows.Scan(&entry.Timestamp, &entry.Level, &entry.Message, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal log meta: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *JobRepo) ListDeadLettered(ctx context.Context, orgID string, limit int) ([]models.Job, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'dead_letter' AND ($1 = '' OR org_id = $1)
		ORDER BY updated_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letter jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepo) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'processing'
		  AND COALESCE(last_progress_at, started_at) < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stalled jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepo) QueueDepth(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.store.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status IN ('queued', 'failed') AND next_run_at <= $1
	`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count claimable jobs: %w", err)
	}
	return n, nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()
	out := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
