package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"projection-orchestrator/internal/apperr"
	"projection-orchestrator/internal/jobs"
	"projection-orchestrator/internal/models"
	"projection-orchestrator/internal/telemetry"
)

// errCancelled aborts a handler when the job was cancelled mid-flight. The
// processor drops the job without a completion or failure report; the store
// already holds the terminal state.
var errCancelled = errors.New("job cancelled")

// Handler executes a job for a given type.
type Handler func(ctx context.Context, job models.Job) error

// Processor drives the worker execution loop: claim, run, report. It talks
// to the orchestrator only through the job service, never the raw store.
type Processor struct {
	svc          *jobs.Service
	queues       []string
	handlers     map[string]Handler
	pollInterval time.Duration
	workerID     string
}

// NewProcessor constructs a processor polling the given queues.
func NewProcessor(svc *jobs.Service, queues []string, pollInterval time.Duration, workerID string) *Processor {
	if pollInterval == 0 {
		pollInterval = time.Second
	}
	return &Processor{
		svc:          svc,
		queues:       queues,
		handlers:     make(map[string]Handler),
		pollInterval: pollInterval,
		workerID:     workerID,
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run claims and executes jobs until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if depth, err := p.svc.QueueDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		claimed := false
		for _, queue := range p.queues {
			job, ok, err := p.svc.ClaimNext(ctx, queue)
			if err != nil {
				telemetry.Error("claim failed", map[string]any{"queue": queue, "err": err.Error()})
				continue
			}
			if !ok {
				continue
			}
			claimed = true
			p.process(ctx, job)
		}

		if !claimed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
		}
	}
}

func (p *Processor) process(ctx context.Context, job models.Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		_, _ = p.svc.Fail(ctx, job.ID, fmt.Sprintf("no handler registered for type %q", job.Type))
		return
	}

	err := handler(ctx, job)
	switch {
	case err == nil:
		if _, err := p.svc.Complete(ctx, job.ID, nil); err != nil {
			telemetry.Error("complete failed", map[string]any{"job_id": job.ID, "err": err.Error()})
		}
	case errors.Is(err, errCancelled):
		telemetry.Info("job cancelled mid-flight", map[string]any{"job_id": job.ID, "worker_id": p.workerID})
	default:
		if _, failErr := p.svc.Fail(ctx, job.ID, err.Error()); failErr != nil {
			telemetry.Error("fail report failed", map[string]any{"job_id": job.ID, "err": failErr.Error()})
		}
	}
}

// reportProgress heartbeats a running job and detects cooperative
// cancellation: a conflict means the job left processing underneath us.
func reportProgress(ctx context.Context, svc *jobs.Service, jobID string, progress int, message string) error {
	var entry *models.LogEntry
	if message != "" {
		entry = &models.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     "info",
			Message:   message,
		}
	}
	if _, err := svc.ReportProgress(ctx, jobID, progress, entry); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return errCancelled
		}
		return err
	}
	return nil
}
