package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"projection-orchestrator/internal/config"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/runs"
)

func TestExportHandlerWritesLocalDocument(t *testing.T) {
	ctx := context.Background()
	runRepo := runs.NewMemoryRepo()
	_, err := runRepo.Create(ctx, models.Run{
		ID:      "run-1",
		ModelID: "model-1",
		OrgID:   "org-1",
		Status:  models.RunStatusDone,
		SummaryJSON: map[string]any{
			"monthly": map[string]any{
				"2026-01": map[string]any{"revenue": 1000.0},
			},
		},
	})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}

	tempDir := t.TempDir()
	handler, err := NewExportHandler(ctx, config.Config{ExportLocalDir: tempDir}, runRepo)
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}

	job := models.Job{
		ID:       "job-1",
		Type:     models.JobTypeExport,
		ObjectID: "run-1",
		Params: map[string]any{
			"outputKey": "reports/run-1.json",
		},
	}
	if err := handler.Handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tempDir, "reports", "run-1.json"))
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if doc["run_id"] != "run-1" || doc["model_id"] != "model-1" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if _, ok := doc["summary"].(map[string]any); !ok {
		t.Fatalf("expected summary in document: %+v", doc)
	}
}

func TestExportHandlerDefaultsOutputKey(t *testing.T) {
	ctx := context.Background()
	runRepo := runs.NewMemoryRepo()
	_, _ = runRepo.Create(ctx, models.Run{ID: "run-2", Status: models.RunStatusDone, SummaryJSON: map[string]any{}})

	tempDir := t.TempDir()
	handler, err := NewExportHandler(ctx, config.Config{ExportLocalDir: tempDir}, runRepo)
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}

	job := models.Job{ID: "job-2", Type: models.JobTypeExport, Params: map[string]any{"runId": "run-2"}}
	if err := handler.Handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "run-2.json")); err != nil {
		t.Fatalf("expected default key from run id: %v", err)
	}
}

func TestExportHandlerRejectsUnfinishedRun(t *testing.T) {
	ctx := context.Background()
	runRepo := runs.NewMemoryRepo()
	_, _ = runRepo.Create(ctx, models.Run{ID: "run-3", Status: models.RunStatusProcessing})

	handler, err := NewExportHandler(ctx, config.Config{ExportLocalDir: t.TempDir()}, runRepo)
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}

	job := models.Job{ID: "job-3", Type: models.JobTypeExport, ObjectID: "run-3"}
	if err := handler.Handle(ctx, job); err == nil {
		t.Fatalf("expected error exporting an unfinished run")
	}
}

func TestExportHandlerRequiresRunID(t *testing.T) {
	ctx := context.Background()
	handler, err := NewExportHandler(ctx, config.Config{ExportLocalDir: t.TempDir()}, runs.NewMemoryRepo())
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}
	if err := handler.Handle(ctx, models.Job{ID: "job-4", Type: models.JobTypeExport}); err == nil {
		t.Fatalf("expected error without run id")
	}
}
