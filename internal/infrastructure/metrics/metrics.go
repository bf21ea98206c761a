package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notifygate"

// Sources of inbound messages.
const (
	SourceClient   = "client"
	SourceUpstream = "upstream"
)

// Delivery results.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

// Metrics groups the gateway collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	openConnections   prometheus.Gauge
	registryConflicts prometheus.Counter
	received          *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	fanoutDuration    prometheus.Histogram
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Number of registered websocket connections.",
		}),
		registryConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_conflicts_total",
			Help:      "Registrations rejected because the connection was bound elsewhere.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received, by source.",
		}, []string{"source"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped, by source and reason.",
		}, []string{"source", "reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-connection deliveries, by result.",
		}, []string{"result"}),
		fanoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_duration_seconds",
			Help:      "Time spent delivering one payload to all of its recipients.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.openConnections,
			m.registryConflicts,
			m.received,
			m.dropped,
			m.deliveries,
			m.fanoutDuration,
			m.httpRequests,
			m.httpDuration,
		)
	}

	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.openConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.openConnections.Dec()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.registryConflicts.Inc()
}

func (m *Metrics) Received(source string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(source).Inc()
}

func (m *Metrics) Dropped(source, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) Delivery(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveries.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) ObserveFanout(started time.Time) {
	if m == nil {
		return
	}
	m.fanoutDuration.Observe(time.Since(started).Seconds())
}

// ObserveRequest records one finished HTTP request. Upgraded websocket
// requests are observed when the connection ends.
func (m *Metrics) ObserveRequest(method string, code int, started time.Time) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}
