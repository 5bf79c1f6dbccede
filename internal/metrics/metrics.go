// Package metrics exposes a node's coordination counters and gauges to
// Prometheus. Each node owns its own registry so several nodes can run in
// one process (simulations, tests) without colliding.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "hive"

// Metrics holds every collector a node updates. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesRejected *prometheus.CounterVec
	DispatchErrors   *prometheus.CounterVec
	Unroutable       prometheus.Counter
	Escalations      prometheus.Counter
	HealingResponses prometheus.Counter
	FactsShared      prometheus.Counter
	SnapshotSaves    *prometheus.CounterVec

	CollectiveScore prometheus.Gauge
	SwarmHealth     prometheus.Gauge
	NetworkHealth   prometheus.Gauge
	Autonomy        prometheus.Gauge
	Facts           prometheus.Gauge
	Peers           prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry along
// with the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "sent_total",
			Help: "Envelopes handed to the transport, by message type.",
		}, []string{"type"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "received_total",
			Help: "Envelopes dispatched, by message type.",
		}, []string{"type"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "rejected_total",
			Help: "Envelopes rejected at the wire boundary, by direction.",
		}, []string{"direction"}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "errors_total",
			Help: "Dispatch failures, by message type.",
		}, []string{"type"}),
		Unroutable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "unroutable_total",
			Help: "Unicast envelopes dropped because the recipient was unreachable.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "healing", Name: "escalations_total",
			Help: "Problems broadcast to peers after a weak local verdict.",
		}),
		HealingResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "healing", Name: "responses_total",
			Help: "Healing responses sent to requesting peers.",
		}),
		FactsShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "knowledge", Name: "shared_total",
			Help: "Facts broadcast as knowledge shares.",
		}),
		SnapshotSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "saves_total",
			Help: "Knowledge snapshot saves, by result.",
		}, []string{"result"}),
		CollectiveScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "collective_score",
			Help: "Latest emergence factor.",
		}),
		SwarmHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "health",
			Help: "Weighted local, network and collective health.",
		}),
		NetworkHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "network_health",
			Help: "Mean health of live peers.",
		}),
		Autonomy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "autonomy",
			Help: "Current autonomy level.",
		}),
		Facts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "knowledge", Name: "facts",
			Help: "Facts held in the local store.",
		}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "peers",
			Help: "Peers in the topology view.",
		}),
	}

	m.registry.MustRegister(
		m.MessagesSent, m.MessagesReceived, m.MessagesRejected, m.DispatchErrors,
		m.Unroutable, m.Escalations, m.HealingResponses, m.FactsShared, m.SnapshotSaves,
		m.CollectiveScore, m.SwarmHealth, m.NetworkHealth, m.Autonomy, m.Facts, m.Peers,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry to serve, or nil for a nil *Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Sent(msgType string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) Received(msgType string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(msgType).Inc()
	}
}

// Rejected counts an envelope refused at encode ("out") or decode ("in").
func (m *Metrics) Rejected(direction string) {
	if m != nil {
		m.MessagesRejected.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) DispatchFailed(msgType string) {
	if m != nil {
		m.DispatchErrors.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.Unroutable.Inc()
	}
}

func (m *Metrics) Escalated() {
	if m != nil {
		m.Escalations.Inc()
	}
}

func (m *Metrics) Responded() {
	if m != nil {
		m.HealingResponses.Inc()
	}
}

func (m *Metrics) Shared() {
	if m != nil {
		m.FactsShared.Inc()
	}
}

func (m *Metrics) SnapshotSaved(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SnapshotSaves.WithLabelValues(result).Inc()
}

// Swarm records the latest derived swarm state.
func (m *Metrics) Swarm(collective, health, network, autonomy float32) {
	if m == nil {
		return
	}
	m.CollectiveScore.Set(float64(collective))
	m.SwarmHealth.Set(float64(health))
	m.NetworkHealth.Set(float64(network))
	m.Autonomy.Set(float64(autonomy))
}

// Sizes records store and topology sizes.
func (m *Metrics) Sizes(facts, peers int) {
	if m == nil {
		return
	}
	m.Facts.Set(float64(facts))
	m.Peers.Set(float64(peers))
}
