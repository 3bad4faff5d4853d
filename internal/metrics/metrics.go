// Package metrics holds the process-wide Prometheus collectors every
// scheduler and worker node registers itself against.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaysched/relay/internal/health"
)

var (
	// Worker metrics

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from job creation to worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of a task's invocation by the worker loop.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"task_id", "outcome"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being executed by the worker.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by outcome.",
	}, []string{"outcome"})

	// Cleanup metrics (lease expiry + result reaping, run by every node)

	CleanupRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "cleanup_rescued_total",
		Help:      "Total stale leases or expired results handled by cleanup.",
	}, []string{"entity"})

	CleanupCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "cleanup_cycle_duration_seconds",
		Help:      "Time taken for one cleanup cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Scheduler loop metrics

	SchedulesDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "schedules_dispatched_total",
		Help:      "Total jobs created by the scheduler loop from due schedules, by coalesce policy.",
	}, []string{"coalesce_policy"})

	SchedulerCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "scheduler_cycle_duration_seconds",
		Help:      "Time taken for one scheduler loop acquire/dispatch/release cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Node lifecycle

	NodeStartTime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "node_start_time_seconds",
		Help:      "Unix timestamp when the node started.",
	}, []string{"role"})

	NodeShutdownsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "node_shutdowns_total",
		Help:      "Number of times a node of this role has shut down.",
	}, []string{"role"})
)

// Register registers every collector against the default registry. Call
// once per process.
func Register() {
	prometheus.MustRegister(
		JobPickupLatency,
		JobExecutionDuration,
		JobsInFlight,
		JobsCompletedTotal,
		CleanupRescuedTotal,
		CleanupCycleDuration,
		SchedulesDispatchedTotal,
		SchedulerCycleDuration,
		NodeStartTime,
		NodeShutdownsTotal,
	)
}

// NewServer builds the HTTP server every node exposes for Prometheus
// scraping and health probes: /metrics plus /livez and /readyz backed
// by checker.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeHealth(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
