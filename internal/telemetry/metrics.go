package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued      = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_enqueued_total", Help: "Total enqueued jobs"})
	JobsClaimed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_claimed_total", Help: "Jobs claimed by workers"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completed_total", Help: "Jobs completed successfully"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Jobs that failed and will retry"})
	JobsDeadLettered  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_dead_letter_total", Help: "Jobs that exhausted retries"})
	JobsReaped        = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_reaped_total", Help: "Stalled processing jobs failed by the reaper"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "enqueue_rate_limit_rejects_total", Help: "Enqueue requests rejected by the tenant rate limiter"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_queue_depth", Help: "Claimable jobs across queues"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Jobs currently processing"})
	ProvenanceWrites  = prometheus.NewCounter(prometheus.CounterOpts{Name: "provenance_entries_total", Help: "Provenance entries recorded"})
	ProvenanceRepairs = prometheus.NewCounter(prometheus.CounterOpts{Name: "provenance_backfilled_total", Help: "Provenance entries created by backfill repair"})
	ApprovalsDecided  = prometheus.NewCounter(prometheus.CounterOpts{Name: "approvals_decided_total", Help: "Approval requests approved or rejected"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsClaimed,
			JobsCompleted,
			JobsFailed,
			JobsDeadLettered,
			JobsReaped,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
			ProvenanceWrites,
			ProvenanceRepairs,
			ApprovalsDecided,
		)
	})
	return promhttp.Handler()
}
