package jobs

import (
	"context"
	"time"

	"projection-orchestrator/internal/telemetry"
)

// Reaper periodically fails processing jobs whose heartbeat has gone stale,
// feeding them into the normal retry/dead-letter path. It runs as its own
// sweep, never inline with a request.
type Reaper struct {
	svc      *Service
	timeout  time.Duration
	interval time.Duration
	batch    int
}

// NewReaper constructs a reaper over the given service.
func NewReaper(svc *Service, timeout, interval time.Duration) *Reaper {
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Reaper{svc: svc, timeout: timeout, interval: interval, batch: 100}
}

// Run sweeps until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				telemetry.Error("reaper sweep failed", map[string]any{"err": err.Error()})
			} else if n > 0 {
				telemetry.Info("reaper failed stalled jobs", map[string]any{"count": n})
			}
		}
	}
}

// Sweep fails every stalled processing job once and returns how many it hit.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.timeout)
	stalled, err := r.svc.repo.ListStalled(ctx, cutoff, r.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range stalled {
		if _, err := r.svc.Fail(ctx, job.ID, "processing heartbeat timeout"); err != nil {
			telemetry.Error("reaper fail job", map[string]any{"job_id": job.ID, "err": err.Error()})
			continue
		}
		telemetry.JobsReaped.Inc()
		n++
	}
	return n, nil
}
