// Package prometheus records what flows through the REPL's mailboxes and
// what the worker does with it.
package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Mailbox traffic
	MessagesTotal     *prometheus.CounterVec
	SendFailuresTotal *prometheus.CounterVec

	// Worker
	WorkTotal    *prometheus.CounterVec
	WorkDuration *prometheus.HistogramVec
	WorkerPings  prometheus.Gauge
}

// NewMetrics creates a metrics collection on its own registry, labelled
// with the given service name.
func NewMetrics(service string) *Metrics {
	registry := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)

	return &Metrics{
		registry: registry,

		MessagesTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanrepl_messages_total",
				Help: "Total number of messages received per mailbox",
			},
			[]string{"mailbox", "kind"}, // mailbox: main, worker
		),
		SendFailuresTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanrepl_send_failures_total",
				Help: "Total number of sends that failed because the peer was gone",
			},
			[]string{"actor"},
		),
		WorkTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "chanrepl_work_total",
				Help: "Total number of work submissions handled by the worker",
			},
			[]string{"verb", "outcome"}, // outcome: ok, parse_error
		),
		WorkDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chanrepl_work_duration_seconds",
				Help:    "Time spent by the worker computing a result",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
			},
			[]string{"verb"},
		),
		WorkerPings: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "chanrepl_worker_pings",
				Help: "Number of pings serviced by the current worker",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordMessage counts one message received from mailbox
func (m *Metrics) RecordMessage(mailbox, kind string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(mailbox, kind).Inc()
}

// RecordSendFailure counts one failed send by actor
func (m *Metrics) RecordSendFailure(actor string) {
	if m == nil {
		return
	}
	m.SendFailuresTotal.WithLabelValues(actor).Inc()
}

// RecordWork counts one handled submission and its duration
func (m *Metrics) RecordWork(verb, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkTotal.WithLabelValues(verb, outcome).Inc()
	m.WorkDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// SetPings publishes the worker's ping counter
func (m *Metrics) SetPings(n uint64) {
	if m == nil {
		return
	}
	m.WorkerPings.Set(float64(n))
}
