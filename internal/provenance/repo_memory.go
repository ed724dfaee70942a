package provenance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"projection-orchestrator/internal/models"
)

// MemoryRepo stores provenance entries in memory and is safe for concurrent
// use.
type MemoryRepo struct {
	mu     sync.RWMutex
	byCell map[string]models.ProvenanceEntry // runID + "\x00" + cellKey
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byCell: make(map[string]models.ProvenanceEntry)}
}

func cellIndex(runID, cellKey string) string {
	return runID + "\x00" + cellKey
}

func (r *MemoryRepo) Insert(ctx context.Context, entry models.ProvenanceEntry) (models.ProvenanceEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ProvenanceEntry{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cellIndex(entry.RunID, entry.CellKey)
	if existing, ok := r.byCell[key]; ok {
		return existing, false, nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.byCell[key] = entry
	return entry, true, nil
}

func (r *MemoryRepo) ListByCell(ctx context.Context, runID, cellKey string, limit, offset int) ([]models.ProvenanceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.ProvenanceEntry{}
	if entry, ok := r.byCell[cellIndex(runID, cellKey)]; ok {
		out = append(out, entry)
	}
	return paginate(out, limit, offset), nil
}

func (r *MemoryRepo) ListByMetric(ctx context.Context, runID, metric string, limit, offset int) ([]models.ProvenanceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.ProvenanceEntry{}
	for _, entry := range r.byCell {
		if entry.RunID != runID {
			continue
		}
		if entry.CellKey == metric || strings.HasSuffix(entry.CellKey, ":"+metric) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CellKey < out[j].CellKey })
	return paginate(out, limit, offset), nil
}

func paginate(entries []models.ProvenanceEntry, limit, offset int) []models.ProvenanceEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []models.ProvenanceEntry{}
	}
	entries = entries[offset:]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// MemoryAccessChecker grants access from a static user -> orgs map.
type MemoryAccessChecker struct {
	mu      sync.RWMutex
	members map[string]map[string]bool
}

// NewMemoryAccessChecker constructs an empty checker.
func NewMemoryAccessChecker() *MemoryAccessChecker {
	return &MemoryAccessChecker{members: make(map[string]map[string]bool)}
}

// Grant adds userID to orgID.
func (c *MemoryAccessChecker) Grant(userID, orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members[userID] == nil {
		c.members[userID] = make(map[string]bool)
	}
	c.members[userID][orgID] = true
}

func (c *MemoryAccessChecker) CanAccessOrg(_ context.Context, userID, orgID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members[userID][orgID], nil
}
