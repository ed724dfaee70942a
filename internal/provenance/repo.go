package provenance

import (
	"context"

	"projection-orchestrator/internal/models"
)

// Repo defines persistence for provenance entries. (run_id, cell_key) is
// unique; Insert must be an atomic check-then-insert so concurrent backfill
// and live worker writes cannot produce duplicate rows.
type Repo interface {
	// Insert creates the entry unless one already exists for the cell. The
	// boolean reports whether a new row was created; when false the returned
	// entry is the existing one, unchanged.
	Insert(ctx context.Context, entry models.ProvenanceEntry) (models.ProvenanceEntry, bool, error)

	// ListByCell returns entries whose cell key matches exactly.
	ListByCell(ctx context.Context, runID, cellKey string, limit, offset int) ([]models.ProvenanceEntry, error)

	// ListByMetric returns entries for a bare metric name: the bare key
	// itself plus every periodized "<period>:<metric>" entry, ordered by
	// cell key.
	ListByMetric(ctx context.Context, runID, metric string, limit, offset int) ([]models.ProvenanceEntry, error)
}

// AccessChecker answers whether a requester may read a tenant's data.
// The real implementation sits on the org membership table; tests use the
// in-memory variant.
type AccessChecker interface {
	CanAccessOrg(ctx context.Context, userID, orgID string) (bool, error)
}
