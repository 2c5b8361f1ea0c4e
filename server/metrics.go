package server

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// NodeMetrics are shared by every node of a process and labelled by node
// name. A nil *NodeMetrics records nothing.
type NodeMetrics struct {
	commands    *prometheus.CounterVec
	connections *prometheus.GaugeVec
}

func NewNodeMetrics(reg prometheus.Registerer) *NodeMetrics {
	m := &NodeMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rb",
			Subsystem: "node",
			Name:      "commands_total",
			Help:      "Commands received by a node.",
		}, []string{"node", "command"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rb",
			Subsystem: "node",
			Name:      "connections",
			Help:      "Open client connections of a node.",
		}, []string{"node"}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.connections)
	}
	return m
}

func (m *NodeMetrics) command(node, name string) {
	if m == nil {
		return
	}
	name = strings.ToUpper(name)
	if _, ok := commands[name]; !ok {
		name = "unknown"
	}
	m.commands.WithLabelValues(node, name).Inc()
}

func (m *NodeMetrics) connection(node string, delta float64) {
	if m != nil {
		m.connections.WithLabelValues(node).Add(delta)
	}
}
