package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the client-side dispatch collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	dispatched    *prometheus.CounterVec
	outstanding   prometheus.Gauge
	throttled     prometheus.Counter
	sendRetries   prometheus.Counter
	cancellations prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rb",
			Name:      "commands_dispatched_total",
			Help:      "Commands sent through a routing client.",
		}, []string{"command"}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rb",
			Name:      "commands_outstanding",
			Help:      "Commands sent but not yet read or cancelled.",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rb",
			Name:      "admission_waits_total",
			Help:      "Readiness waits performed because the concurrency limit was reached.",
		}),
		sendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rb",
			Name:      "send_retries_total",
			Help:      "Commands resent after a connection failure.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rb",
			Name:      "commands_cancelled_total",
			Help:      "Pending commands cancelled before their reply was read.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.dispatched, m.outstanding, m.throttled, m.sendRetries, m.cancellations)
	}
	return m
}

func (m *Metrics) commandDispatched(command string) {
	if m != nil {
		m.dispatched.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) outstandingAdd(delta float64) {
	if m != nil {
		m.outstanding.Add(delta)
	}
}

func (m *Metrics) throttleWait() {
	if m != nil {
		m.throttled.Inc()
	}
}

func (m *Metrics) sendRetry() {
	if m != nil {
		m.sendRetries.Inc()
	}
}

func (m *Metrics) cancelled() {
	if m != nil {
		m.cancellations.Inc()
	}
}
