// Package metrics provides Prometheus metrics collection for the broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the broker's Prometheus collectors.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	QueueDepth      *prometheus.GaugeVec
	SessionsByState *prometheus.GaugeVec
	ChunksRelayed   prometheus.Counter
	AcquireLatency  prometheus.Histogram
	Preemptions     prometheus.Counter
}

// New creates a Metrics instance registered against the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "broker_queue_depth",
				Help: "Number of jobs waiting in the queue for an engine id",
			},
			[]string{"engine_id"},
		),
		SessionsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "broker_sessions",
				Help: "Number of job sessions currently in each lifecycle state",
			},
			[]string{"state"},
		),
		ChunksRelayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "broker_chunks_relayed_total",
				Help: "Total number of output chunks relayed from providers to clients",
			},
		),
		AcquireLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "broker_acquire_latency_seconds",
				Help:    "Time a provider's acquire long-poll spent waiting for a job",
				Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 20, 30},
			},
		),
		Preemptions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "broker_preemptions_total",
				Help: "Total number of sessions cancelled because a newer analyse superseded them",
			},
		),
	}

	registerer.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.QueueDepth,
		m.SessionsByState,
		m.ChunksRelayed,
		m.AcquireLatency,
		m.Preemptions,
	)

	return m
}
