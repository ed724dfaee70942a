package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/provenance"
)

// ProvenanceRepo implements provenance.Repo on Postgres. The unique
// constraint on (run_id, cell_key) plus ON CONFLICT DO NOTHING makes the
// idempotent create a single atomic statement.
type ProvenanceRepo struct {
	store *Store
}

// NewProvenanceRepo constructs the repo.
func NewProvenanceRepo(s *Store) *ProvenanceRepo {
	return &ProvenanceRepo{store: s}
}

var _ provenance.Repo = (*ProvenanceRepo)(nil)

const provenanceColumns = `id, run_id, cell_key, source_type, source_ref, confidence_score, created_at`

func scanProvenance(row pgx.Row) (models.ProvenanceEntry, error) {
	var entry models.ProvenanceEntry
	var refJSON []byte
	err := row.Scan(&entry.ID, &entry.RunID, &entry.CellKey, &entry.SourceType,
		&refJSON, &entry.ConfidenceScore, &entry.CreatedAt)
	if err != nil {
		return models.ProvenanceEntry{}, err
	}
	if err := json.Unmarshal(refJSON, &entry.SourceRef); err != nil {
		return models.ProvenanceEntry{}, fmt.Errorf("unmarshal source ref: %w", err)
	}
	return entry, nil
}

func (r *ProvenanceRepo) Insert(ctx context.Context, entry models.ProvenanceEntry) (models.ProvenanceEntry, bool, error) {
	refJSON, err := json.Marshal(entry.SourceRef)
	if err != nil {
		return models.ProvenanceEntry{}, false, fmt.Errorf("marshal source ref: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	tag, err := r.store.pool.Exec(ctx, `
		INSERT INTO provenance_entries (id, run_id, cell_key, source_type, source_ref, confidence_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT provenance_cell_unique DO NOTHING
	`, entry.ID, entry.RunID, entry.CellKey, entry.SourceType, refJSON, entry.ConfidenceScore, entry.CreatedAt)
	if err != nil {
		return models.ProvenanceEntry{}, false, fmt.Errorf("insert provenance entry: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return entry, true, nil
	}

	// Lost the no-existing-row race or the cell was already explained;
	// either way the first-written entry stands.
	row := r.store.pool.QueryRow(ctx, `
		SELECT `+provenanceColumns+` FROM provenance_entries WHERE run_id = $1 AND cell_key = $2
	`, entry.RunID, entry.CellKey)
	existing, err := scanProvenance(row)
	if err != nil {
		return models.ProvenanceEntry{}, false, fmt.Errorf("read existing provenance entry: %w", err)
	}
	return existing, false, nil
}

func (r *ProvenanceRepo) ListByCell(ctx context.Context, runID, cellKey string, limit, offset int) ([]models.ProvenanceEntry, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT `+provenanceColumns+` FROM provenance_entries
		WHERE run_id = $1 AND cell_key = $2
		ORDER BY cell_key
		LIMIT $3 OFFSET $4
	`, runID, cellKey, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query provenance entries: %w", err)
	}
	return collectProvenance(rows)
}

func (r *ProvenanceRepo) ListByMetric(ctx context.Context, runID, metric string, limit, offset int) ([]models.ProvenanceEntry, error) {
	rows, err := r.store.pool.Query(ctx, `
		SELECT `+provenanceColumns+` FROM provenance_entries
		WHERE run_id = $1 AND (cell_key = $2 OR cell_key LIKE '%:' || $2)
		ORDER BY cell_key
		LIMIT $3 OFFSET $4
	`, runID, metric, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query provenance entries: %w", err)
	}
	return collectProvenance(rows)
}

func collectProvenance(rows pgx.Rows) ([]models.ProvenanceEntry, error) {
	defer rows.Close()
	out := []models.ProvenanceEntry{}
	for rows.Next() {
		entry, err := scanProvenance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provenance entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// OrgMemberChecker implements provenance.AccessChecker on the org_members
// table.
type OrgMemberChecker struct {
	store *Store
}

// NewOrgMemberChecker constructs the checker.
func NewOrgMemberChecker(s *Store) *OrgMemberChecker {
	return &OrgMemberChecker{store: s}
}

var _ provenance.AccessChecker = (*OrgMemberChecker)(nil)

func (c *OrgMemberChecker) CanAccessOrg(ctx context.Context, userID, orgID string) (bool, error) {
	var exists bool
	err := c.store.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM org_members WHERE user_id = $1 AND org_id = $2)
	`, userID, orgID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check org membership: %w", err)
	}
	return exists, nil
}
