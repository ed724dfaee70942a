package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/runs"
)

// RunRepo implements runs.Repo on Postgres.
type RunRepo struct {
	store *Store
}

// NewRunRepo constructs the repo.
func NewRunRepo(s *Store) *RunRepo {
	return &RunRepo{store: s}
}

var _ runs.Repo = (*RunRepo)(nil)

const runColumns = `id, model_id, org_id, params_json, status, summary_json, created_at, updated_at`

func scanRun(row pgx.Row) (models.Run, error) {
	var run models.Run
	var paramsJSON, summaryJSON []byte
	err := row.Scan(&run.ID, &run.ModelID, &run.OrgID, &paramsJSON, &run.Status,
		&summaryJSON, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return models.Run{}, err
	}
	if err := json.Unmarshal(paramsJSON, &run.ParamsJSON); err != nil {
		return models.Run{}, fmt.Errorf("unmarshal run params: %w", err)
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &run.SummaryJSON); err != nil {
			return models.Run{}, fmt.Errorf("unmarshal run summary: %w", err)
		}
	}
	return run, nil
}

func (r *RunRepo) Create(ctx context.Context, run models.Run) (models.Run, error) {
	paramsJSON, err := json.Marshal(run.ParamsJSON)
	if err != nil {
		return models.Run{}, fmt.Errorf("marshal run params: %w", err)
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	_, err = r.store.pool.Exec(ctx, `
		INSERT INTO runs (id, model_id, org_id, params_json, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, run.ID, run.ModelID, run.OrgID, paramsJSON, run.Status, now)
	if err != nil {
		return models.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (models.Run, error) {
	row := r.store.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, fmt.Errorf("run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

func (r *RunRepo) UpdateStatus(ctx context.Context, id, status string) (models.Run, error) {
	row := r.store.pool.QueryRow(ctx, `
		UPDATE runs SET status = $2, updated_at = NOW() WHERE id = $1
		RETURNING `+runColumns, id, status)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, fmt.Errorf("run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("update run status: %w", err)
	}
	return run, nil
}

func (r *RunRepo) SaveSummary(ctx context.Context, id, status string, summary map[string]any) (models.Run, error) {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return models.Run{}, fmt.Errorf("marshal run summary: %w", err)
	}
	row := r.store.pool.QueryRow(ctx, `
		UPDATE runs SET status = $2, summary_json = $3, updated_at = NOW() WHERE id = $1
		RETURNING `+runColumns, id, status, summaryJSON)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, fmt.Errorf("run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("save run summary: %w", err)
	}
	return run, nil
}
