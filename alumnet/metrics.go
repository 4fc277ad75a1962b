package alumnet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters for the realtime layer. A nil *Metrics is valid
// and records nothing.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	client.SetMetrics(alumnet.NewMetrics(reg))
type Metrics struct {
	// StateTransitions counts connection state changes.
	// Labels: from, to
	StateTransitions *prometheus.CounterVec

	// EventsDispatched counts inbound events handed to handlers.
	// Labels: kind (channel_event|signal)
	EventsDispatched *prometheus.CounterVec

	// SignalsDropped counts whispers that could not be sent.
	SignalsDropped prometheus.Counter

	// ForeignMessagesDropped counts pushed messages for a conversation that
	// was not open.
	ForeignMessagesDropped prometheus.Counter

	// ActiveSubscriptions tracks channels the registry currently holds.
	ActiveSubscriptions prometheus.Gauge

	// ReconnectAttempts counts manual and automatic reconnects.
	// Labels: mode (manual|auto)
	ReconnectAttempts *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alumnet_connection_state_transitions_total",
				Help: "Connection state transitions",
			},
			[]string{"from", "to"},
		),
		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alumnet_events_dispatched_total",
				Help: "Inbound channel events delivered to handlers",
			},
			[]string{"kind"},
		),
		SignalsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "alumnet_signals_dropped_total",
			Help: "Ephemeral signals that could not be sent",
		}),
		ForeignMessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "alumnet_foreign_messages_dropped_total",
			Help: "Pushed messages that did not belong to the open conversation",
		}),
		ActiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alumnet_subscriptions",
			Help: "Channel subscriptions held by the registry",
		}),
		ReconnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alumnet_reconnect_attempts_total",
				Help: "Reconnect attempts",
			},
			[]string{"mode"},
		),
	}
}

func (m *Metrics) stateChanged(from, to ConnectionState) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) eventDispatched(kind EventKind) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) signalDropped() {
	if m == nil {
		return
	}
	m.SignalsDropped.Inc()
}

func (m *Metrics) foreignMessageDropped() {
	if m == nil {
		return
	}
	m.ForeignMessagesDropped.Inc()
}

func (m *Metrics) subscriptions(n int) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Set(float64(n))
}

func (m *Metrics) reconnect(mode string) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(mode).Inc()
}
