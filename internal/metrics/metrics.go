// Package metrics exposes Prometheus collectors for matching jobs.
//
// Every Metrics value owns its registry, so several managers (or tests) can
// coexist in one process. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/kwmatch/pkg/types"
)

const namespace = "kwmatch"

// Metrics holds the job and pipeline collectors
type Metrics struct {
	registry *prometheus.Registry

	keywordsProcessed prometheus.Counter
	vectorQueries     prometheus.Counter
	cacheLookups      *prometheus.CounterVec
	assignmentScore   prometheus.Histogram
	jobDuration       *prometheus.HistogramVec
	jobsFinished      *prometheus.CounterVec
	activeJobs        prometheus.Gauge
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		keywordsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "keywords_processed_total",
			Help:      "Keywords retrieved and scored",
		}),

		vectorQueries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "vector_queries_total",
			Help:      "Nearest-neighbour queries against the chunk index",
		}),

		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding_cache",
			Name:      "lookups_total",
			Help:      "Embedding cache lookups by result (hit or miss)",
		}, []string{"result"}),

		assignmentScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "assignment_score",
			Help:      "Fused score of assigned keywords",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),

		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time of finished jobs by final status",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"status"}),

		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal status",
		}, []string{"status"}),

		activeJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently running",
		}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// KeywordsProcessed counts scored keywords
func (m *Metrics) KeywordsProcessed(n int) {
	if m == nil {
		return
	}
	m.keywordsProcessed.Add(float64(n))
}

// VectorQueries counts index queries
func (m *Metrics) VectorQueries(n int) {
	if m == nil {
		return
	}
	m.vectorQueries.Add(float64(n))
}

// CacheLookups counts embedding cache hits and misses
func (m *Metrics) CacheLookups(hits, misses int64) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// AssignmentScores records the fused score of each assignment
func (m *Metrics) AssignmentScores(assignments []types.Assignment) {
	if m == nil {
		return
	}
	for _, a := range assignments {
		m.assignmentScore.Observe(a.FusedScore)
	}
}

// JobStarted increments the active gauge
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

// JobFinished decrements the active gauge and records the outcome
func (m *Metrics) JobFinished(status types.Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	m.jobsFinished.WithLabelValues(string(status)).Inc()
	m.jobDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}
