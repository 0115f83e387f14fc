// Package metrics holds the Prometheus collectors of the escrow service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escrow"

// Outcome labels
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	PaymentsWei     prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	IndexedLogs     *prometheus.CounterVec
	IndexerHead     prometheus.Gauge
	MetadataFetches *prometheus.CounterVec
}

// New registers every collector on a fresh registry, so tests and binaries
// never collide on the global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Escrow lifecycle operations by name and outcome.",
		}, []string{"op", "outcome"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Listing status changes.",
		}, []string{"from", "to"}),
		PaymentsWei: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_wei_total",
			Help:      "Sum of installment payments in base units. Loses precision above 2^53.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Tracks the number of HTTP requests.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Tracks the latencies for HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		IndexedLogs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_logs_total",
			Help:      "Contract logs mirrored by the chain indexer.",
		}, []string{"event"}),
		IndexerHead: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_block",
			Help:      "Last block processed by the chain indexer.",
		}),
		MetadataFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_fetches_total",
			Help:      "Token metadata fetches by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Operation counts one lifecycle call. A nil receiver is a no-op.
func (m *Metrics) Operation(op, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Payment(wei float64) {
	if m == nil {
		return
	}
	m.PaymentsWei.Add(wei)
}

func (m *Metrics) ObserveHTTP(method, route string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func (m *Metrics) IndexedLog(event string) {
	if m == nil {
		return
	}
	m.IndexedLogs.WithLabelValues(event).Inc()
}

func (m *Metrics) IndexerBlock(n uint64) {
	if m == nil {
		return
	}
	m.IndexerHead.Set(float64(n))
}

func (m *Metrics) MetadataFetch(outcome string) {
	if m == nil {
		return
	}
	m.MetadataFetches.WithLabelValues(outcome).Inc()
}
