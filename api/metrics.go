package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Suhridx/pump-dashboard/metric"
)

type apiMetrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	clients       prometheus.Gauge
	connections   prometheus.Counter
	disconnects   *prometheus.CounterVec
	rejected      prometheus.Counter
	messagesSent  prometheus.Counter
	bytesSent     prometheus.Counter
	messageSize   prometheus.Histogram
	websocketErrs *prometheus.CounterVec
}

// newAPIMetrics returns nil when registry is nil.
func newAPIMetrics(registry *metric.MetricsRegistry) (*apiMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &apiMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"route"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected view subscribers",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total view subscriber connections",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total view subscriber disconnections",
		}, []string{"disconnect_reason"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_rejected_total",
			Help:      "Connections refused because the client limit was reached",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Views pushed to subscribers",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Bytes pushed to subscribers",
		}),
		messageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "message_size_bytes",
			Help:      "Size distribution of pushed views",
			Buckets:   []float64{500, 1000, 5000, 10000, 50000, 100000, 500000},
		}),
		websocketErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "View push errors",
		}, []string{"error_type"}),
	}

	regs := []func() error{
		func() error { return registry.RegisterCounterVec("api", "requests_total", m.requests) },
		func() error { return registry.RegisterHistogramVec("api", "request_duration_seconds", m.duration) },
		func() error { return registry.RegisterGauge("api", "clients_connected", m.clients) },
		func() error { return registry.RegisterCounter("api", "client_connections_total", m.connections) },
		func() error { return registry.RegisterCounterVec("api", "client_disconnections_total", m.disconnects) },
		func() error { return registry.RegisterCounter("api", "clients_rejected_total", m.rejected) },
		func() error { return registry.RegisterCounter("api", "messages_sent_total", m.messagesSent) },
		func() error { return registry.RegisterCounter("api", "bytes_sent_total", m.bytesSent) },
		func() error { return registry.RegisterHistogram("api", "message_size_bytes", m.messageSize) },
		func() error { return registry.RegisterCounterVec("api", "errors_total", m.websocketErrs) },
	}
	for _, register := range regs {
		if err := register(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *apiMetrics) request(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, statusLabel(code)).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *apiMetrics) clientConnected(n int) {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.clients.Set(float64(n))
}

func (m *apiMetrics) clientDisconnected(reason string, n int) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
	m.clients.Set(float64(n))
}

func (m *apiMetrics) clientRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *apiMetrics) sent(size int) {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
	m.bytesSent.Add(float64(size))
	m.messageSize.Observe(float64(size))
}

func (m *apiMetrics) wsError(kind string) {
	if m == nil {
		return
	}
	m.websocketErrs.WithLabelValues(kind).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
