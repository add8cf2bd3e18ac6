// Package metrics exposes Prometheus counters for the coordination protocol.
// A nil *Metrics is valid and records nothing, so components can run without a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tejashwikalptaru/tunebridge/internal/domain"
)

const namespace = "tunebridge"

// Metrics holds the protocol counters.
type Metrics struct {
	registry *prometheus.Registry

	messagesHandled  *prometheus.CounterVec
	forwardFailures  *prometheus.CounterVec
	droppedMessages  *prometheus.CounterVec
	engineCreations  *prometheus.CounterVec
	mediaErrors      prometheus.Counter
	broadcastsMissed prometheus.Counter
}

// New creates the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		messagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Messages processed by a context, by context and message type.",
		}, []string{"context", "type"}),
		forwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_failures_total",
			Help:      "Transport commands that could not be delivered to the engine.",
		}, []string{"type"}),
		droppedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Fire-and-forget messages dropped by the bus.",
		}, []string{"address"}),
		engineCreations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_creations_total",
			Help:      "Engine creation attempts, by outcome.",
		}, []string{"outcome"}),
		mediaErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_errors_total",
			Help:      "Load failures and timeouts reported by the engine.",
		}),
		broadcastsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_unheard_total",
			Help:      "State broadcasts sent while no panel was listening.",
		}),
	}

	reg.MustRegister(
		m.messagesHandled,
		m.forwardFailures,
		m.droppedMessages,
		m.engineCreations,
		m.mediaErrors,
		m.broadcastsMissed,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) MessageHandled(context string, t domain.MessageType) {
	if m == nil {
		return
	}
	m.messagesHandled.WithLabelValues(context, string(t)).Inc()
}

func (m *Metrics) ForwardFailed(t domain.MessageType) {
	if m == nil {
		return
	}
	m.forwardFailures.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) MessageDropped(addr domain.Address) {
	if m == nil {
		return
	}
	m.droppedMessages.WithLabelValues(string(addr)).Inc()
}

// EngineCreation records an engine creation attempt; outcome is "created", "exists" or "failed".
func (m *Metrics) EngineCreation(outcome string) {
	if m == nil {
		return
	}
	m.engineCreations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MediaError() {
	if m == nil {
		return
	}
	m.mediaErrors.Inc()
}

func (m *Metrics) BroadcastUnheard() {
	if m == nil {
		return
	}
	m.broadcastsMissed.Inc()
}
