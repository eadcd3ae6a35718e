// Package telemetry exposes Prometheus metrics for the engine.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects query and cache counters. A nil *Metrics is valid
// and records nothing, so telemetry stays optional.
type Metrics struct {
	queryLatency   *prometheus.HistogramVec
	queryTotal     *prometheus.CounterVec
	degradedTotal  prometheus.Counter
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	indexedDocs    prometheus.Gauge
	rebuildLatency prometheus.Histogram
}

// New registers the engine metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rankfuse",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency by retrieval mode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		queryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankfuse",
			Name:      "queries_total",
			Help:      "Queries served, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		degradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rankfuse",
			Name:      "degraded_queries_total",
			Help:      "Queries answered with a partial result set.",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankfuse",
			Name:      "cache_hits_total",
			Help:      "Cache hits by cache name.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankfuse",
			Name:      "cache_misses_total",
			Help:      "Cache misses by cache name.",
		}, []string{"cache"}),
		indexedDocs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rankfuse",
			Name:      "indexed_documents",
			Help:      "Live documents in the lexical index.",
		}),
		rebuildLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rankfuse",
			Name:      "index_rebuild_duration_seconds",
			Help:      "Lazy BM25 statistics rebuild latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
	reg.MustRegister(m.queryLatency, m.queryTotal, m.degradedTotal,
		m.cacheHits, m.cacheMisses, m.indexedDocs, m.rebuildLatency)
	return m
}

// ObserveQuery records one completed query.
func (m *Metrics) ObserveQuery(mode string, d time.Duration, degraded bool, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.queryTotal.WithLabelValues(mode, outcome).Inc()
	m.queryLatency.WithLabelValues(mode).Observe(d.Seconds())
	if degraded {
		m.degradedTotal.Inc()
	}
}

// ObserveCache records a cache lookup outcome.
func (m *Metrics) ObserveCache(name string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.WithLabelValues(name).Inc()
	} else {
		m.cacheMisses.WithLabelValues(name).Inc()
	}
}

// SetIndexedDocuments updates the live document gauge.
func (m *Metrics) SetIndexedDocuments(n int) {
	if m == nil {
		return
	}
	m.indexedDocs.Set(float64(n))
}

// ObserveRebuild records one lazy statistics rebuild.
func (m *Metrics) ObserveRebuild(d time.Duration) {
	if m == nil {
		return
	}
	m.rebuildLatency.Observe(d.Seconds())
}
