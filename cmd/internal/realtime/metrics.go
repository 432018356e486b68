package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the realtime collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessions      prometheus.Gauge
	frames        *prometheus.CounterVec
	relayFailures prometheus.Counter
	rejects       *prometheus.CounterVec
	evictions     prometheus.Counter
	pings         *prometheus.CounterVec
	handshakes    *prometheus.CounterVec
}

// NewMetrics registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aguardia",
			Name:      "sessions_live",
			Help:      "Sessions currently registered in the hub.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aguardia",
			Name:      "frames_total",
			Help:      "Inbound frames on authenticated connections by kind.",
		}, []string{"kind"}),
		relayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aguardia",
			Name:      "relay_failures_total",
			Help:      "Relay frames that could not be delivered.",
		}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aguardia",
			Name:      "envelope_rejects_total",
			Help:      "Server-directed envelopes dropped by reason.",
		}, []string{"reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aguardia",
			Name:      "evictions_total",
			Help:      "Sessions evicted by the liveness monitor.",
		}),
		pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aguardia",
			Name:      "pings_total",
			Help:      "Server-initiated pings by result.",
		}, []string{"result"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aguardia",
			Name:      "handshakes_total",
			Help:      "Login handshakes by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.sessions, m.frames, m.relayFailures, m.rejects, m.evictions, m.pings, m.handshakes)
	}
	return m
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) frame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) relayFailed() {
	if m == nil {
		return
	}
	m.relayFailures.Inc()
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.rejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) evicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) ping(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.pings.WithLabelValues("ok").Inc()
		return
	}
	m.pings.WithLabelValues("fail").Inc()
}

func (m *Metrics) handshake(outcome string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(outcome).Inc()
}
