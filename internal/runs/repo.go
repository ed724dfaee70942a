package runs

import (
	"context"

	"projection-orchestrator/internal/models"
)

// Repo defines persistence for run records. Runs are created when a
// computation job is enqueued and mutated only by the worker or by backfill
// repair; they are never deleted while provenance references them.
type Repo interface {
	Create(ctx context.Context, run models.Run) (models.Run, error)
	Get(ctx context.Context, id string) (models.Run, error)
	UpdateStatus(ctx context.Context, id, status string) (models.Run, error)
	SaveSummary(ctx context.Context, id, status string, summary map[string]any) (models.Run, error)
}
