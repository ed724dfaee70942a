package runs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/models"
)

// MemoryRepo stores runs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]models.Run
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]models.Run)}
}

func (r *MemoryRepo) Create(ctx context.Context, run models.Run) (models.Run, error) {
	if err := ctx.Err(); err != nil {
		return models.Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	r.byID[run.ID] = run
	return run, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (models.Run, error) {
	if err := ctx.Err(); err != nil {
		return models.Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[id]
	if !ok {
		return models.Run{}, fmt.Errorf("run %s: %w", id, apperr.ErrNotFound)
	}
	return run, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id, status string) (models.Run, error) {
	if err := ctx.Err(); err != nil {
		return models.Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[id]
	if !ok {
		return models.Run{}, fmt.Errorf("run %s: %w", id, apperr.ErrNotFound)
	}
	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	r.byID[id] = run
	return run, nil
}

func (r *MemoryRepo) SaveSummary(ctx context.Context, id, status string, summary map[string]any) (models.Run, error) {
	if err := ctx.Err(); err != nil {
		return models.Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[id]
	if !ok {
		return models.Run{}, fmt.Errorf("run %s: %w", id, apperr.ErrNotFound)
	}
	run.Status = status
	run.SummaryJSON = summary
	run.UpdatedAt = time.Now().UTC()
	r.byID[id] = run
	return run, nil
}
