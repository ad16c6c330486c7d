// Package metrics exposes Prometheus instrumentation for the supervisor:
// per-cluster queue depth and running-job counts, shell pool size,
// staging cache hit/miss counters, and maintainer event transitions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth is the number of job ids currently waiting for
	// admission on a cluster.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_queue_depth",
			Help: "Number of jobs waiting for admission, by cluster",
		},
		[]string{"hpc"},
	)

	// RunningJobs is the current admitted-job count per cluster; it
	// never exceeds the cluster's configured capacity.
	RunningJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_running_jobs",
			Help: "Number of admitted, running jobs, by cluster",
		},
		[]string{"hpc"},
	)

	// ClusterCapacity mirrors each cluster's configured job pool
	// capacity, for dashboards computing headroom against RunningJobs.
	ClusterCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_cluster_capacity",
			Help: "Configured job pool capacity, by cluster",
		},
		[]string{"hpc"},
	)

	// SharedConnRefcount is registered for the connection pool's
	// shared-session refcount per community-account cluster. No package
	// in this module sets it, so it reports 0; connpool.Pool.SharedRefcount
	// holds the live value.
	SharedConnRefcount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_shared_connection_refcount",
			Help: "Shared community-account SSH session refcount, by cluster",
		},
		[]string{"hpc"},
	)

	// PrivateConnections is registered for the number of live
	// private-account sessions the connection pool owns. No package in
	// this module sets it, so it reports 0; connpool.Pool.PrivateCount
	// holds the live value.
	PrivateConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_private_connections",
			Help: "Number of live private-account SSH sessions",
		},
	)

	// CacheHits/CacheMisses count folder staging engine cache outcomes.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_staging_cache_hits_total",
			Help: "Cached-stage calls that reused an existing cache entry, by cluster",
		},
		[]string{"hpc"},
	)
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_staging_cache_misses_total",
			Help: "Cached-stage calls that built or rebuilt a cache entry, by cluster",
		},
		[]string{"hpc"},
	)

	// MaintainerEventsTotal counts every lifecycle event a Maintainer
	// emits, by type.
	MaintainerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_maintainer_events_total",
			Help: "Lifecycle events emitted by maintainers, by event type",
		},
		[]string{"event_type"},
	)

	// AdmissionLatency times the scheduler's per-tick admission pass.
	AdmissionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supervisor_admission_tick_duration_seconds",
			Help:    "Duration of one scheduler admission tick across all clusters",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(RunningJobs)
	prometheus.MustRegister(ClusterCapacity)
	prometheus.MustRegister(SharedConnRefcount)
	prometheus.MustRegister(PrivateConnections)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(MaintainerEventsTotal)
	prometheus.MustRegister(AdmissionLatency)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for later histogram recording.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
