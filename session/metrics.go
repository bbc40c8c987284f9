package session

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Suhridx/pump-dashboard/frame"
	"github.com/Suhridx/pump-dashboard/metric"
)

type sessionMetrics struct {
	core *metric.Metrics

	frames         *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	violations     *prometheus.CounterVec
	disconnects    *prometheus.CounterVec
	publishFailure prometheus.Counter
	staleEvents    prometheus.Counter
}

// newSessionMetrics returns nil when registry is nil; every method on a nil
// *sessionMetrics is a no-op.
func newSessionMetrics(registry *metric.MetricsRegistry) (*sessionMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &sessionMetrics{
		core: registry.CoreMetrics(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Decoded inbound frames by class",
		}, []string{"class"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "decode_errors_total",
			Help:      "Inbound messages dropped because they could not be decoded",
		}, []string{"reason"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "protocol_violations_total",
			Help:      "Stream chunks dropped because no transfer was active",
		}, []string{"stream"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Link losses, by whether the transport keeps retrying",
		}, []string{"retrying"}),
		publishFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "publish_failures_total",
			Help:      "Outbound publishes the transport reported as failed",
		}),
		staleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "stale_events_total",
			Help:      "Events dropped because their transport had been replaced",
		}),
	}

	if err := registry.RegisterCounterVec("session", "frames_total", m.frames); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("session", "decode_errors_total", m.decodeErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("session", "protocol_violations_total", m.violations); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("session", "disconnects_total", m.disconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("session", "publish_failures_total", m.publishFailure); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("session", "stale_events_total", m.staleEvents); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *sessionMetrics) frame(c frame.Class) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(c.String()).Inc()
}

func (m *sessionMetrics) decodeError(reason string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(reason).Inc()
}

func (m *sessionMetrics) violation(stream string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(stream).Inc()
}

func (m *sessionMetrics) connected() {
	if m == nil {
		return
	}
	m.core.RecordLinkConnect()
}

func (m *sessionMetrics) disconnected(retrying bool) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(strconv.FormatBool(retrying)).Inc()
}

func (m *sessionMetrics) linkStatus(up bool) {
	if m == nil {
		return
	}
	m.core.RecordLinkStatus(up)
}

func (m *sessionMetrics) publishFailed() {
	if m == nil {
		return
	}
	m.publishFailure.Inc()
}

func (m *sessionMetrics) stale() {
	if m == nil {
		return
	}
	m.staleEvents.Inc()
}

func (m *sessionMetrics) error(reason string) {
	if m == nil {
		return
	}
	m.core.RecordError("session", reason)
}

func (m *sessionMetrics) observe(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.core.RecordProcessingDuration("session", op, d)
}
