package models

import "time"

// Provenance source types.
const (
	SourceAssumption  = "assumption"
	SourceTransaction = "transaction"
	SourceCalculation = "calculation"
)

// DefaultConfidence applies to entries recorded without an explicit score.
const DefaultConfidence = 0.9

// ProvenanceEntry explains how one computed cell of a run was derived.
// CellKey is "<period>:<metric>" or a bare metric name. SourceRef is
// free-form and shaped by SourceType: assumption entries carry
// assumption_id/value/calculated_from/formula, transaction entries carry
// transaction_ids/total/samples, calculation entries carry
// formula/value/calculated_from.
type ProvenanceEntry struct {
	ID              string         `json:"id"`
	RunID           string         `json:"run_id"`
	CellKey         string         `json:"cell_key"`
	SourceType      string         `json:"source_type"`
	SourceRef       map[string]any `json:"source_ref"`
	ConfidenceScore float64        `json:"confidence_score"`
	CreatedAt       time.Time      `json:"created_at"`
}
