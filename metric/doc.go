// Package metric provides the Prometheus registry and HTTP exporter for the
// pump telemetry service.
//
// The package follows a three-layer design:
//
//  1. Core Metrics: service-wide metrics registered automatically (Metrics type)
//  2. Component Registry: each component registers its own collectors through
//     the MetricsRegistrar interface, keyed by component and metric name
//  3. HTTP Server: a separate listener exposing /metrics and /health
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start(ctx) }()
//
//	registry.CoreMetrics().RecordLinkStatus(true)
//
// # Component Metrics
//
// Components build their vectors and register them with the registry; a nil
// registry disables metrics for that component:
//
//	frames := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: metric.Namespace,
//	    Subsystem: "session",
//	    Name:      "frames_total",
//	}, []string{"class"})
//	if err := registry.RegisterCounterVec("session", "frames_total", frames); err != nil {
//	    return nil, err
//	}
//
// Registering the same component/metric pair twice returns an Invalid error.
//
// # Naming
//
// All metrics use the "pumpview" namespace:
//   - pumpview_link_connected
//   - pumpview_link_connects_total
//   - pumpview_service_status{service="..."}
//   - pumpview_errors_total{service="...",type="..."}
//   - pumpview_session_frames_total{class="..."}
//   - pumpview_gate_requests_total{kind="...",outcome="..."}
package metric
