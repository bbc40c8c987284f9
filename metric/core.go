package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the service.
const Namespace = "pumpview"

// Metrics contains the service-wide metrics shared by all components.
// Component-specific metrics are registered by the components themselves.
type Metrics struct {
	ServiceInfo        *prometheus.GaugeVec
	ServiceStatus      *prometheus.GaugeVec
	HealthCheckStatus  *prometheus.GaugeVec
	ErrorsTotal        *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec

	LinkConnected  prometheus.Gauge
	LinkReconnects prometheus.Counter
}

// NewMetrics creates the core metrics. They are registered by NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "info",
				Help:      "Build information, always 1",
			},
			[]string{"version", "transport"},
		),

		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of reported errors",
			},
			[]string{"service", "type"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Time spent handling one event or request",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"service", "operation"},
		),

		LinkConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "link",
				Name:      "connected",
				Help:      "Device link status (0=disconnected, 1=connected)",
			},
		),

		LinkReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "link",
				Name:      "connects_total",
				Help:      "Total number of successful link connects, first connect included",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceInfo,
		c.ServiceStatus,
		c.HealthCheckStatus,
		c.ErrorsTotal,
		c.ProcessingDuration,
		c.LinkConnected,
		c.LinkReconnects,
	}
}

// RecordServiceInfo publishes build information.
func (c *Metrics) RecordServiceInfo(version, transport string) {
	c.ServiceInfo.WithLabelValues(version, transport).Set(1)
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(service).Set(boolToFloat(healthy))
}

// RecordError increments error counter
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(service, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordLinkStatus updates the device link gauge
func (c *Metrics) RecordLinkStatus(connected bool) {
	c.LinkConnected.Set(boolToFloat(connected))
}

// RecordLinkConnect increments the connect counter
func (c *Metrics) RecordLinkConnect() {
	c.LinkReconnects.Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
