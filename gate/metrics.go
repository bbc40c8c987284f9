package gate

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Suhridx/pump-dashboard/metric"
)

type gateMetrics struct {
	requests *prometheus.CounterVec
}

// newGateMetrics returns nil when registry is nil.
func newGateMetrics(registry *metric.MetricsRegistry) (*gateMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &gateMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gate",
			Name:      "requests_total",
			Help:      "Outbound requests by kind and outcome",
		}, []string{"kind", "outcome"}),
	}

	if err := registry.RegisterCounterVec("gate", "requests_total", m.requests); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *gateMetrics) record(kind, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, outcome).Inc()
}
