package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatline"

// Metrics groups the counters of the live channel and the dev platform.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived      prometheus.Counter
	framesDropped       *prometheus.CounterVec
	reconnectsScheduled prometheus.Counter
	sessionsFailed      prometheus.Counter
	historyFailures     prometheus.Counter
	markerWriteFailures prometheus.Counter
	notificationsSent   *prometheus.CounterVec

	published     *prometheus.CounterVec
	activeSockets prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_received_total",
			Help:      "Inbound frames read from the live transport.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "records_dropped_total",
			Help:      "Inbound records dropped before reaching listeners.",
		}, []string{"reason"}),
		reconnectsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after an unexpected close.",
		}),
		sessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "failed_total",
			Help:      "Sessions that exhausted their retry budget.",
		}),
		historyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "failures_total",
			Help:      "History fetches that failed.",
		}),
		markerWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readstate",
			Name:      "write_failures_total",
			Help:      "Read marker writes to profile metadata that failed.",
		}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "New-message notifications by outcome.",
		}, []string{"outcome"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "platform",
			Name:      "published_total",
			Help:      "Messages accepted by the dev platform.",
		}, []string{"protocol"}),
		activeSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "platform",
			Name:      "active_sockets",
			Help:      "Open websocket subscriptions on the dev platform.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.framesReceived,
		m.framesDropped,
		m.reconnectsScheduled,
		m.sessionsFailed,
		m.historyFailures,
		m.markerWriteFailures,
		m.notificationsSent,
		m.published,
		m.activeSockets,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FrameReceived() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *Metrics) RecordsDropped(reason string, n int) {
	if m != nil && n > 0 {
		m.framesDropped.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) ReconnectScheduled() {
	if m != nil {
		m.reconnectsScheduled.Inc()
	}
}

func (m *Metrics) SessionFailed() {
	if m != nil {
		m.sessionsFailed.Inc()
	}
}

func (m *Metrics) HistoryFailed() {
	if m != nil {
		m.historyFailures.Inc()
	}
}

func (m *Metrics) MarkerWriteFailed() {
	if m != nil {
		m.markerWriteFailures.Inc()
	}
}

func (m *Metrics) Notification(outcome string) {
	if m != nil {
		m.notificationsSent.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Published(protocol string) {
	if m != nil {
		m.published.WithLabelValues(protocol).Inc()
	}
}

func (m *Metrics) SocketOpened() {
	if m != nil {
		m.activeSockets.Inc()
	}
}

func (m *Metrics) SocketClosed() {
	if m != nil {
		m.activeSockets.Dec()
	}
}
