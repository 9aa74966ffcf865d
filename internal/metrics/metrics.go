package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the protocol core. All
// increment methods are nil-receiver safe so wiring metrics stays
// optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive     prometheus.Gauge
	sessionsTotal      prometheus.Counter
	supersessions      prometheus.Counter
	livenessTimeouts   prometheus.Counter
	malformedFrames    prometheus.Counter
	eventsDropped      prometheus.Counter
	messagesReceived   *prometheus.CounterVec
	responsesSent      *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pts_sessions_active",
			Help: "Number of currently connected PTS controllers",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pts_sessions_total",
			Help: "Total accepted controller connections",
		}),
		supersessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pts_sessions_superseded_total",
			Help: "Connections closed because the controller reconnected",
		}),
		livenessTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pts_liveness_timeouts_total",
			Help: "Sessions closed for missing a liveness probe",
		}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pts_malformed_frames_total",
			Help: "Inbound frames that failed to decode",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pts_events_dropped_total",
			Help: "Protocol events dropped by the async sink",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pts_messages_received_total",
			Help: "Inbound protocol messages by type",
		}, []string{"type"}),
		responsesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pts_responses_sent_total",
			Help: "Outbound responses by type",
		}, []string{"type"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pts_validation_failures_total",
			Help: "Payloads rejected by shape validation, by request type",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.sessionsActive, m.sessionsTotal, m.supersessions,
		m.livenessTimeouts, m.malformedFrames, m.eventsDropped,
		m.messagesReceived, m.responsesSent, m.validationFailures,
	)

	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened counts a new controller connection.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

// SessionClosed counts a disconnect.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// IncSuperseded counts a replaced connection.
func (m *Metrics) IncSuperseded() {
	if m == nil {
		return
	}
	m.supersessions.Inc()
}

// IncLivenessTimeout counts a heartbeat death.
func (m *Metrics) IncLivenessTimeout() {
	if m == nil {
		return
	}
	m.livenessTimeouts.Inc()
}

// IncMalformedFrame counts an undecodable frame.
func (m *Metrics) IncMalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

// IncEventDropped counts an event discarded by the sink.
func (m *Metrics) IncEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// IncMessageReceived counts an inbound message by type.
func (m *Metrics) IncMessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

// IncResponseSent counts an outbound response by type.
func (m *Metrics) IncResponseSent(respType string) {
	if m == nil {
		return
	}
	m.responsesSent.WithLabelValues(respType).Inc()
}

// IncValidationFailure counts a rejected payload by request type.
func (m *Metrics) IncValidationFailure(msgType string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(msgType).Inc()
}
