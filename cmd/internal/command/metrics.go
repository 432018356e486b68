package command

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts dispatched commands. A nil *Metrics records nothing.
type Metrics struct {
	commands *prometheus.CounterVec
}

// NewMetrics registers the command collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aguardia",
			Name:      "commands_total",
			Help:      "Server-directed commands by action and result.",
		}, []string{"cmd", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.commands)
	}
	return m
}

func (m *Metrics) command(name, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, result).Inc()
}
