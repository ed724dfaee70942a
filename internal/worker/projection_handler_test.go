package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/provenance"
	"projection-orchestrator/internal/runs"
)

func newWorkerFixture() (*jobs.Service, *runs.MemoryRepo, *provenance.Service, *provenance.MemoryRepo) {
	runRepo := runs.NewMemoryRepo()
	jobSvc := jobs.NewService(jobs.NewMemoryRepo(), runRepo, nil, jobs.Options{
		BackoffInitial: 10 * time.Millisecond,
	})
	provRepo := provenance.NewMemoryRepo()
	provSvc := provenance.NewService(provRepo, runRepo, provenance.NewMemoryAccessChecker())
	return jobSvc, runRepo, provSvc, provRepo
}

func TestModelRunHandlerComputesSummaryAndProvenance(t *testing.T) {
	ctx := context.Background()
	jobSvc, runRepo, provSvc, provRepo := newWorkerFixture()

	job, err := jobSvc.Enqueue(ctx, jobs.EnqueueParams{
		Type:  models.JobTypeModelRun,
		OrgID: "org-1",
		Params: map[string]any{
			"modelId":     "model-1",
			"months":      2.0,
			"startPeriod": "2026-01",
			"baseRevenue": 100.0,
			"growthRate":  0.0,
			"cogsRatio":   0.5,
			"opex":        10.0,
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, ok, err := jobSvc.ClaimNext(ctx, "computation")
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	handler := NewModelRunHandler(jobSvc, runRepo, provSvc)
	if err := handler.Handle(ctx, claimed); err != nil {
		t.Fatalf("handle: %v", err)
	}

	run, err := runRepo.Get(ctx, job.ObjectID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Status != models.RunStatusDone {
		t.Fatalf("expected run done, got %s", run.Status)
	}

	summary := run.MonthlySummary()
	if len(summary) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(summary))
	}
	jan := summary["2026-01"]
	if jan["revenue"] != 100 || jan["cogs"] != 50 || jan["grossProfit"] != 50 || jan["netIncome"] != 40 {
		t.Fatalf("unexpected january row: %+v", jan)
	}
	if _, ok := summary["2026-02"]; !ok {
		t.Fatalf("expected february period, got %+v", summary)
	}

	// One entry per cell, assumptions for revenue and calculations for the rest.
	rev, _ := provRepo.ListByCell(ctx, run.ID, "2026-01:revenue", 10, 0)
	if len(rev) != 1 || rev[0].SourceType != models.SourceAssumption {
		t.Fatalf("unexpected revenue provenance: %+v", rev)
	}
	ni, _ := provRepo.ListByCell(ctx, run.ID, "2026-02:netIncome", 10, 0)
	if len(ni) != 1 || ni[0].SourceType != models.SourceCalculation {
		t.Fatalf("unexpected netIncome provenance: %+v", ni)
	}
	if ni[0].SourceRef["formula"] != "netIncome = revenue - cogs - opex" {
		t.Fatalf("unexpected formula: %v", ni[0].SourceRef["formula"])
	}
}

func TestModelRunHandlerAbortsOnCancellation(t *testing.T) {
	ctx := context.Background()
	jobSvc, runRepo, provSvc, _ := newWorkerFixture()

	job, err := jobSvc.Enqueue(ctx, jobs.EnqueueParams{
		Type:   models.JobTypeModelRun,
		OrgID:  "org-1",
		Params: map[string]any{"modelId": "model-1", "months": 1.0},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, _, err := jobSvc.ClaimNext(ctx, "computation")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := jobSvc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	handler := NewModelRunHandler(jobSvc, runRepo, provSvc)
	err = handler.Handle(ctx, claimed)
	if !errors.Is(err, errCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	run, _ := runRepo.Get(ctx, job.ObjectID)
	if run.SummaryJSON != nil {
		t.Fatalf("cancelled run must not get a summary")
	}
}

func TestParseProjectionParamsDefaults(t *testing.T) {
	p := parseProjectionParams(map[string]any{})
	if p.months != 12 || p.baseRevenue != 10000 || p.cogsRatio != 0.4 {
		t.Fatalf("unexpected defaults: %+v", p)
	}

	p = parseProjectionParams(map[string]any{"months": 500.0, "startPeriod": "2030-06"})
	if p.months != 120 {
		t.Fatalf("expected months capped at 120, got %d", p.months)
	}
	if p.startPeriod.Format("2006-01") != "2030-06" {
		t.Fatalf("unexpected start period: %s", p.startPeriod)
	}
}
