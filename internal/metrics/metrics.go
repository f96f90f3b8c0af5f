// Package metrics exposes Prometheus instrumentation for detection, caching and
// source collection. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "observatory"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	detections       *prometheus.CounterVec
	detectDuration   prometheus.Histogram
	flowsReturned    prometheus.Gauge
	pairsComputed    prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	sourceFetches    *prometheus.CounterVec
	observations     *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	lastIngestUnixTS prometheus.Gauge
	apiRequests      *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	apiInflight      prometheus.Gauge
}

// New creates and registers all collectors, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_total",
		Help:      "Flow detection requests by outcome",
	}, []string{"outcome"})
	m.detectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detection_duration_seconds",
		Help:      "Time spent computing a flows response",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	m.flowsReturned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "flows_returned",
		Help:      "Number of flows in the most recent computed response",
	})
	m.pairsComputed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pairs_computed_total",
		Help:      "Ordered country pairs scored",
	})
	m.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Response cache lookups by result",
	}, []string{"result"})
	m.sourceFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fetches_total",
		Help:      "Upstream source fetches by source and status",
	}, []string{"source", "status"})
	m.observations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_ingested_total",
		Help:      "Topic observations stored by source",
	}, []string{"source"})
	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Flow alerts by status",
	}, []string{"status"})
	m.lastIngestUnixTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_ingest_timestamp_seconds",
		Help:      "Unix timestamp of the last successful ingestion cycle",
	})

	m.apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})
	m.apiDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	m.apiInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served",
	})

	m.registry.MustRegister(
		m.detections, m.detectDuration, m.flowsReturned, m.pairsComputed,
		m.cacheLookups, m.sourceFetches, m.observations, m.notifications,
		m.lastIngestUnixTS, m.apiRequests, m.apiDuration, m.apiInflight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDetection records one computed detection.
func (m *Metrics) ObserveDetection(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(outcome).Inc()
	m.detectDuration.Observe(elapsed.Seconds())
}

// SetFlowsReturned records the flow count of the latest response.
func (m *Metrics) SetFlowsReturned(n int) {
	if m == nil {
		return
	}
	m.flowsReturned.Set(float64(n))
}

// AddPairs counts scored ordered pairs.
func (m *Metrics) AddPairs(n int) {
	if m == nil {
		return
	}
	m.pairsComputed.Add(float64(n))
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SourceFetch records the outcome of one upstream call.
func (m *Metrics) SourceFetch(source string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sourceFetches.WithLabelValues(source, status).Inc()
}

// ObservationsIngested counts stored observations.
func (m *Metrics) ObservationsIngested(source string, n int) {
	if m == nil {
		return
	}
	m.observations.WithLabelValues(source).Add(float64(n))
}

// Notification records an alert delivery attempt.
func (m *Metrics) Notification(err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notifications.WithLabelValues(status).Inc()
}

// IngestCompleted stamps the last successful ingestion.
func (m *Metrics) IngestCompleted(at time.Time) {
	if m == nil {
		return
	}
	m.lastIngestUnixTS.Set(float64(at.Unix()))
}

// APIInflight adjusts the in-flight request gauge by delta.
func (m *Metrics) APIInflight(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

// ObserveAPI records one served HTTP request.
func (m *Metrics) ObserveAPI(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
