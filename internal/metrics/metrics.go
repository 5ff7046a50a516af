// Package metrics exposes the scheduler's Prometheus surface (spec
// component C9). Structurally this is the teacher's Collector — one struct
// wrapping Counter/Gauge/Histogram fields, registered once at construction,
// with Record*/Set* methods the rest of the system calls — but the metric
// names and label sets follow original_source's app/scheduler.py rather
// than the teacher's queue_* names, and registration uses a private
// prometheus.Registry instead of the global DefaultRegisterer so multiple
// Collectors (one per test) never collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldkit/flowqueue/pkg/types"
)

// Collector holds every metric the scheduler reports.
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued   *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	pendingJobs    prometheus.Gauge
	activeUsers    prometheus.Gauge
	jobLatency     prometheus.Histogram
}

// NewCollector builds a Collector and registers all of its metrics against
// a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by job type.",
		}, []string{"job_type"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state, by job type and state.",
		}, []string{"job_type", "state"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_rate_limited_total",
			Help: "Total number of admission attempts rejected by the per-user rate limiter.",
		}, []string{"user_id"}),
		pendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_pending_jobs",
			Help: "Current number of jobs waiting to be dispatched.",
		}),
		activeUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_active_users",
			Help: "Current number of distinct users with a running job.",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_job_latency_seconds",
			Help:    "Wall-clock duration from RUNNING to terminal state, in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(c.jobsEnqueued, c.jobsCompleted, c.rateLimited, c.pendingJobs, c.activeUsers, c.jobLatency)
	return c
}

// RecordEnqueue increments the enqueue counter for jobType.
func (c *Collector) RecordEnqueue(jobType types.JobType) {
	c.jobsEnqueued.WithLabelValues(string(jobType)).Inc()
}

// RecordCompleted increments the completion counter for (jobType, state)
// and observes latencySeconds.
func (c *Collector) RecordCompleted(jobType types.JobType, state types.JobState, latencySeconds float64) {
	c.jobsCompleted.WithLabelValues(string(jobType), string(state)).Inc()
	c.jobLatency.Observe(latencySeconds)
}

// RecordRateLimited increments the rate-limit rejection counter for user.
func (c *Collector) RecordRateLimited(user types.UserID) {
	c.rateLimited.WithLabelValues(string(user)).Inc()
}

// SetPendingJobs sets the current pending-job gauge.
func (c *Collector) SetPendingJobs(n int) {
	c.pendingJobs.Set(float64(n))
}

// SetActiveUsers sets the current active-user gauge.
func (c *Collector) SetActiveUsers(n int) {
	c.activeUsers.Set(float64(n))
}

// Handler returns the HTTP handler to mount at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
