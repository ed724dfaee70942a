package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/provenance"
	"projection-orchestrator/internal/runs"
)

// ModelRunHandler computes a monthly financial projection for a run and
// records provenance for every produced cell.
type ModelRunHandler struct {
	jobs   *jobs.Service
	runs   runs.Repo
	ledger *provenance.Service
}

// NewModelRunHandler constructs the computation handler.
func NewModelRunHandler(jobSvc *jobs.Service, runRepo runs.Repo, ledger *provenance.Service) *ModelRunHandler {
	return &ModelRunHandler{jobs: jobSvc, runs: runRepo, ledger: ledger}
}

type projectionParams struct {
	months      int
	startPeriod time.Time
	baseRevenue float64
	growthRate  float64
	cogsRatio   float64
	opex        float64
}

func parseProjectionParams(raw map[string]any) projectionParams {
	p := projectionParams{
		months:      12,
		startPeriod: time.Now().UTC(),
		baseRevenue: 10000,
		growthRate:  0.02,
		cogsRatio:   0.4,
		opex:        3000,
	}
	if v, ok := paramFloat(raw, "months"); ok && v >= 1 {
		p.months = int(v)
	}
	if p.months > 120 {
		p.months = 120
	}
	if s, ok := raw["startPeriod"].(string); ok {
		if t, err := time.Parse("2006-01", s); err == nil {
			p.startPeriod = t
		}
	}
	if v, ok := paramFloat(raw, "baseRevenue"); ok {
		p.baseRevenue = v
	}
	if v, ok := paramFloat(raw, "growthRate"); ok {
		p.growthRate = v
	}
	if v, ok := paramFloat(raw, "cogsRatio"); ok {
		p.cogsRatio = v
	}
	if v, ok := paramFloat(raw, "opex"); ok {
		p.opex = v
	}
	return p
}

func paramFloat(raw map[string]any, key string) (float64, bool) {
	switch v := raw[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Handle computes the run's monthly summary and writes one provenance entry
// per cell. Progress is reported each month; a conflict on the heartbeat
// aborts without touching the run.
func (h *ModelRunHandler) Handle(ctx context.Context, job models.Job) error {
	run, err := h.runs.Get(ctx, job.ObjectID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	params := parseProjectionParams(run.ParamsJSON)

	monthly := make(map[string]any, params.months)
	type cell struct {
		period string
		metric string
		value  float64
		source string
		ref    map[string]any
	}
	var cells []cell

	for i := 0; i < params.months; i++ {
		period := params.startPeriod.AddDate(0, i, 0).Format("2006-01")
		revenue := round2(params.baseRevenue * math.Pow(1+params.growthRate, float64(i)))
		cogs := round2(revenue * params.cogsRatio)
		grossProfit := round2(revenue - cogs)
		netIncome := round2(revenue - cogs - params.opex)

		monthly[period] = map[string]any{
			"revenue":     revenue,
			"cogs":        cogs,
			"grossProfit": grossProfit,
			"netIncome":   netIncome,
		}

		cells = append(cells,
			cell{period, "revenue", revenue, models.SourceAssumption, map[string]any{
				"assumption_id": "baseRevenue",
				"value":         revenue,
				"formula":       "revenue = baseRevenue * (1 + growthRate)^n",
			}},
			cell{period, "cogs", cogs, models.SourceCalculation, map[string]any{
				"value":   cogs,
				"formula": "cogs = revenue * cogsRatio",
				"calculated_from": []map[string]any{
					{"metric": "revenue", "value": revenue},
				},
			}},
			cell{period, "grossProfit", grossProfit, models.SourceCalculation, map[string]any{
				"value":   grossProfit,
				"formula": "grossProfit = revenue - cogs",
				"calculated_from": []map[string]any{
					{"metric": "revenue", "value": revenue},
					{"metric": "cogs", "value": cogs},
				},
			}},
			cell{period, "netIncome", netIncome, models.SourceCalculation, map[string]any{
				"value":   netIncome,
				"formula": "netIncome = revenue - cogs - opex",
				"calculated_from": []map[string]any{
					{"metric": "revenue", "value": revenue},
					{"metric": "cogs", "value": cogs},
					{"metric": "opex", "value": params.opex},
				},
			}},
		)

		progress := (i + 1) * 90 / params.months
		if err := reportProgress(ctx, h.jobs, job.ID, progress, ""); err != nil {
			return err
		}
	}

	if _, err := h.runs.SaveSummary(ctx, run.ID, models.RunStatusDone, map[string]any{"monthly": monthly}); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}

	for _, c := range cells {
		_, err := h.ledger.Record(ctx, provenance.RecordParams{
			RunID:      run.ID,
			CellKey:    c.period + ":" + c.metric,
			SourceType: c.source,
			SourceRef:  c.ref,
		})
		if err != nil {
			return fmt.Errorf("record provenance for %s:%s: %w", c.period, c.metric, err)
		}
	}

	return reportProgress(ctx, h.jobs, job.ID, 100, "projection computed")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
