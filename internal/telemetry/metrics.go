package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_submitted_total", Help: "Jobs accepted by the submission endpoint"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_completed_total", Help: "Jobs that finished with a result"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_failed_total", Help: "Jobs that ended in the failed state"})
	JobsInFlight     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_jobs_inflight", Help: "Pipelines currently running"})
	RecordsSwept     = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_job_records_swept_total", Help: "Expired or corrupt job records removed"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	ReferenceMisses  = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_reference_lookup_misses_total", Help: "Ingredient citation lookups that degraded to empty"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsInFlight,
			RecordsSwept,
			RateLimitRejects,
			ReferenceMisses,
		)
	})
	return promhttp.Handler()
}
