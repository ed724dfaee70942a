package models

import "time"

// Run statuses mirror the subset of job states relevant to computations.
const (
	RunStatusQueued     = "queued"
	RunStatusProcessing = "processing"
	RunStatusDone       = "done"
	RunStatusFailed     = "failed"
)

// Run is one computation instance for a model. SummaryJSON holds the
// computed output keyed by period under "monthly", e.g.
// summary["monthly"]["2026-03"]["revenue"] = 1000.
type Run struct {
	ID          string         `json:"id"`
	ModelID     string         `json:"model_id"`
	OrgID       string         `json:"org_id"`
	ParamsJSON  map[string]any `json:"params_json"`
	Status      string         `json:"status"`
	SummaryJSON map[string]any `json:"summary_json,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// MonthlySummary extracts the period -> metric -> value mapping from
// SummaryJSON, tolerating the loose shapes JSON decoding produces.
func (r Run) MonthlySummary() map[string]map[string]float64 {
	out := map[string]map[string]float64{}
	monthly, ok := r.SummaryJSON["monthly"].(map[string]any)
	if !ok {
		return out
	}
	for period, raw := range monthly {
		metrics, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		row := map[string]float64{}
		for name, v := range metrics {
			switch n := v.(type) {
			case float64:
				row[name] = n
			case int:
				row[name] = float64(n)
			case int64:
				row[name] = float64(n)
			}
		}
		if len(row) > 0 {
			out[period] = row
		}
	}
	return out
}
