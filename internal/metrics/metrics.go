// Package metrics exposes Prometheus counters, gauges, and histograms for
// the connection engine: handshake outcomes, connection state transitions,
// queue depth, message throughput, and reconnect attempts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks connection-engine Prometheus metrics, all under the
// tcpros_ prefix.
type Metrics struct {
	HandshakesTotal *prometheus.CounterVec
	ConnTransitions *prometheus.CounterVec
	ConnTeardowns   *prometheus.CounterVec
	ActiveConns     *prometheus.GaugeVec

	MessagesPublished *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec

	ServiceCallsTotal    *prometheus.CounterVec
	ServiceCallDuration  *prometheus.HistogramVec
	ReconnectAttempts    *prometheus.CounterVec
}

// NewMetrics creates connection-engine metrics and registers them against
// reg. Panics if registration fails (expected during initialization only).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HandshakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcpros_handshakes_total",
				Help: "Total handshakes by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		ConnTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcpros_conn_state_transitions_total",
				Help: "Total connection state machine transitions by role, from-state, to-state",
			},
			[]string{"role", "from", "to"},
		),
		ConnTeardowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcpros_conn_teardowns_total",
				Help: "Total connection teardowns by role and error code",
			},
			[]string{"role", "code"},
		),
		ActiveConns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tcpros_active_connections",
				Help: "Current number of live connections by role",
			},
			[]string{"role"},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcpros_messages_published_total",
				Help: "Total messages enqueued by a publisher's periodic callback",
			},
			[]string{"topic"},
		),
		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcpros_messages_delivered_total",
				Help: "Total messages delivered to a subscriber callback",
			},
			[]string{"topic"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tcpros_queue_depth",
				Help: "Current bounded queue depth by topic and direction",
			},
			[]string{"topic", "direction"},
		),
		ServiceCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcpros_service_calls_total",
				Help: "Total service calls by service name and result",
			},
			[]string{"service", "result"},
		),
		ServiceCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tcpros_service_call_duration_seconds",
				Help:    "Service call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		ReconnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcpros_reconnect_attempts_total",
				Help: "Total reconnect attempts by role after a dropped connection",
			},
			[]string{"role"},
		),
	}

	reg.MustRegister(
		m.HandshakesTotal,
		m.ConnTransitions,
		m.ConnTeardowns,
		m.ActiveConns,
		m.MessagesPublished,
		m.MessagesDelivered,
		m.QueueDepth,
		m.ServiceCallsTotal,
		m.ServiceCallDuration,
		m.ReconnectAttempts,
	)

	return m
}

// RecordHandshake records a handshake outcome for a role.
func (m *Metrics) RecordHandshake(role, outcome string) {
	if m == nil {
		return
	}
	m.HandshakesTotal.WithLabelValues(role, outcome).Inc()
}

// RecordTransition records a state machine transition.
func (m *Metrics) RecordTransition(role, from, to string) {
	if m == nil {
		return
	}
	m.ConnTransitions.WithLabelValues(role, from, to).Inc()
}

// RecordTeardown records a connection teardown with its error code.
func (m *Metrics) RecordTeardown(role, code string) {
	if m == nil {
		return
	}
	m.ConnTeardowns.WithLabelValues(role, code).Inc()
}

// SetActiveConns sets the live-connection gauge for a role.
func (m *Metrics) SetActiveConns(role string, n int) {
	if m == nil {
		return
	}
	m.ActiveConns.WithLabelValues(role).Set(float64(n))
}

// RecordPublish records one message enqueued by a publisher.
func (m *Metrics) RecordPublish(topic string) {
	if m == nil {
		return
	}
	m.MessagesPublished.WithLabelValues(topic).Inc()
}

// RecordDelivery records one message delivered to a subscriber.
func (m *Metrics) RecordDelivery(topic string) {
	if m == nil {
		return
	}
	m.MessagesDelivered.WithLabelValues(topic).Inc()
}

// SetQueueDepth sets the queue-depth gauge for a topic and direction
// ("publish" or "deliver").
func (m *Metrics) SetQueueDepth(topic, direction string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(topic, direction).Set(float64(depth))
}

// RecordServiceCall records a completed service call.
func (m *Metrics) RecordServiceCall(service, result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ServiceCallsTotal.WithLabelValues(service, result).Inc()
	m.ServiceCallDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordReconnectAttempt records one reconnect attempt for a role.
func (m *Metrics) RecordReconnectAttempt(role string) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(role).Inc()
}

// NullMetrics returns nil, which acts as a no-op metrics collector. All
// Metrics methods handle a nil receiver gracefully.
func NullMetrics() *Metrics {
	return nil
}
