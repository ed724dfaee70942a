package provenance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/telemetry"
)

// derivedMetric names a metric the ledger knows how to explain from stored
// period values alone, with the formula string that makes the entry
// self-documenting even when the computation engine never emitted it.
type derivedMetric struct {
	name    string
	formula string
	inputs  []string
}

var derivedMetrics = []derivedMetric{
	{name: "cogs", formula: "cogs = revenue * cogsRatio", inputs: []string{"revenue"}},
	{name: "grossProfit", formula: "grossProfit = revenue - cogs", inputs: []string{"revenue", "cogs"}},
	{name: "netIncome", formula: "netIncome = revenue - cogs - opex", inputs: []string{"revenue", "cogs", "opex"}},
}

// Backfill repairs missing provenance for a run's derived metrics from its
// stored summary. It is the recovery path for a worker that completed the
// run but died before writing all entries; repeated invocations are no-ops
// for cells that already have one. Returns how many entries were created.
func (s *Service) Backfill(ctx context.Context, runID string) (int, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return 0, err
	}

	created := 0
	for period, metrics := range run.MonthlySummary() {
		for _, dm := range derivedMetrics {
			value, present := metrics[dm.name]
			if !present {
				continue
			}
			calculatedFrom := []any{}
			for _, input := range dm.inputs {
				if v, ok := metrics[input]; ok {
					calculatedFrom = append(calculatedFrom, map[string]any{"metric": input, "value": v})
				}
			}
			entry := models.ProvenanceEntry{
				ID:         uuid.New().String(),
				RunID:      runID,
				CellKey:    fmt.Sprintf("%s:%s", period, dm.name),
				SourceType: models.SourceCalculation,
				SourceRef: map[string]any{
					"value":           value,
					"formula":         dm.formula,
					"calculated_from": calculatedFrom,
				},
				ConfidenceScore: models.DefaultConfidence,
			}
			_, wasNew, err := s.repo.Insert(ctx, entry)
			if err != nil {
				return created, err
			}
			if wasNew {
				created++
				telemetry.ProvenanceRepairs.Inc()
			}
		}
	}
	return created, nil
}
