package provenance

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/runs"
	"projection-orchestrator/internal/telemetry"
)

// Service is the provenance ledger: idempotent writes, tenant-authorized
// reads with cell-key fallback, and backfill repair for derived metrics.
type Service struct {
	repo   Repo
	runs   runs.Repo
	access AccessChecker
}

// NewService constructs the ledger service.
func NewService(repo Repo, runRepo runs.Repo, access AccessChecker) *Service {
	return &Service{repo: repo, runs: runRepo, access: access}
}

// RecordParams collects inputs for one provenance entry.
type RecordParams struct {
	RunID           string
	CellKey         string
	SourceType      string
	SourceRef       map[string]any
	ConfidenceScore *float64
}

// Record idempotently creates an entry for (runID, cellKey). When the cell
// already has an entry it is returned unchanged; repeated backfills must not
// produce duplicate rows.
func (s *Service) Record(ctx context.Context, p RecordParams) (models.ProvenanceEntry, error) {
	if p.RunID == "" || p.CellKey == "" {
		return models.ProvenanceEntry{}, fmt.Errorf("run id and cell key are required: %w", apperr.ErrValidation)
	}
	switch p.SourceType {
	case models.SourceAssumption, models.SourceTransaction, models.SourceCalculation:
	default:
		return models.ProvenanceEntry{}, fmt.Errorf("unknown source type %q: %w", p.SourceType, apperr.ErrValidation)
	}
	score := models.DefaultConfidence
	if p.ConfidenceScore != nil {
		score = *p.ConfidenceScore
	}
	if score < 0 || score > 1 {
		return models.ProvenanceEntry{}, fmt.Errorf("confidence %v out of range [0,1]: %w", score, apperr.ErrValidation)
	}
	if _, err := s.runs.Get(ctx, p.RunID); err != nil {
		return models.ProvenanceEntry{}, err
	}

	entry, created, err := s.repo.Insert(ctx, models.ProvenanceEntry{
		ID:              uuid.New().String(),
		RunID:           p.RunID,
		CellKey:         p.CellKey,
		SourceType:      p.SourceType,
		SourceRef:       p.SourceRef,
		ConfidenceScore: score,
	})
	if err != nil {
		return models.ProvenanceEntry{}, err
	}
	if created {
		telemetry.ProvenanceWrites.Inc()
	}
	return entry, nil
}

// LookupParams identifies a cell and the requester.
type LookupParams struct {
	RunID          string
	CellKey        string
	RequesterID    string
	Limit          int
	Offset         int
	IncludeSamples bool
}

// Result distinguishes "no provenance recorded" (OK with empty entries)
// from access denial, which surfaces as apperr.ErrForbidden.
type Result struct {
	OK      bool                     `json:"ok"`
	Entries []models.ProvenanceEntry `json:"entries"`
}

// Lookup returns the entries explaining one cell. Callers may pass a full
// "<period>:<metric>" key or a bare metric name; when the exact key has no
// entry the ledger falls back the other way, so the caller does not need to
// know the run's periods ahead of time.
func (s *Service) Lookup(ctx context.Context, p LookupParams) (Result, error) {
	if p.RunID == "" || p.CellKey == "" {
		return Result{}, fmt.Errorf("run id and cell key are required: %w", apperr.ErrValidation)
	}
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	run, err := s.runs.Get(ctx, p.RunID)
	if err != nil {
		return Result{}, err
	}
	allowed, err := s.access.CanAccessOrg(ctx, p.RequesterID, run.OrgID)
	if err != nil {
		return Result{}, err
	}
	if !allowed {
		return Result{}, fmt.Errorf("user %s cannot read org %s: %w", p.RequesterID, run.OrgID, apperr.ErrForbidden)
	}

	entries, err := s.repo.ListByCell(ctx, p.RunID, p.CellKey, p.Limit, p.Offset)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		if i := strings.Index(p.CellKey, ":"); i >= 0 {
			// Periodized key with no entry: fall back to the bare metric.
			entries, err = s.repo.ListByCell(ctx, p.RunID, p.CellKey[i+1:], p.Limit, p.Offset)
		} else {
			// Bare metric: gather the periodized entries for it.
			entries, err = s.repo.ListByMetric(ctx, p.RunID, p.CellKey, p.Limit, p.Offset)
		}
		if err != nil {
			return Result{}, err
		}
	}

	if !p.IncludeSamples {
		entries = stripSamples(entries)
	}
	if entries == nil {
		entries = []models.ProvenanceEntry{}
	}
	return Result{OK: true, Entries: entries}, nil
}

// stripSamples removes raw transaction samples from sourceRef copies so the
// default response stays small; the stored entries are untouched.
func stripSamples(entries []models.ProvenanceEntry) []models.ProvenanceEntry {
	out := make([]models.ProvenanceEntry, len(entries))
	for i, entry := range entries {
		if entry.SourceRef != nil {
			if _, has := entry.SourceRef["samples"]; has {
				ref := make(map[string]any, len(entry.SourceRef)-1)
				for k, v := range entry.SourceRef {
					if k != "samples" {
						ref[k] = v
					}
				}
				entry.SourceRef = ref
			}
		}
		out[i] = entry
	}
	return out
}
