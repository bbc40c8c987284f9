package health

import (
	"regexp"
	"strings"
	"time"
)

// Health levels.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

var (
	urlRegex         = regexp.MustCompile(`(?i)\b(?:https?|wss?|nats|mqtts?|tcp|ssl|tls)://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one component, or of the whole process when it
// carries sub-statuses.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related figures.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
	LastErrorAt  time.Time     `json:"last_error_at,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, subStatus)
	return s
}

// Sanitize strips endpoints, paths, addresses and credentials from an error
// message before it leaves the process.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}

	// URLs before paths: they contain paths
	out := urlRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = windowsPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			out = credentialRegex.ReplaceAllString(out, "[REDACTED]")
			break
		}
	}
	return out
}

// Link is a point-in-time description of the device link.
type Link struct {
	State       string
	Connected   bool
	LastError   error
	LastErrorAt time.Time
	LastUpdate  time.Time
	Since       time.Time
}

// FromLink maps the link state onto a health level. A link that is
// establishing or re-establishing itself is degraded; a link with nothing
// behind it is unhealthy.
func FromLink(name string, l Link) Status {
	var s Status
	switch {
	case l.Connected:
		s = NewHealthy(name, "Device link up")
	case l.State == "connecting" || l.State == "reconnecting":
		s = NewDegraded(name, "Device link "+l.State)
	default:
		s = NewUnhealthy(name, "Device link down")
	}

	errCount := 0
	if l.LastError != nil && !l.Connected {
		s.Message = s.Message + ": " + Sanitize(l.LastError.Error())
	}
	if l.LastError != nil {
		errCount = 1
	}

	m := &Metrics{
		ErrorCount:   errCount,
		LastActivity: l.LastUpdate,
		LastErrorAt:  l.LastErrorAt,
	}
	if !l.Since.IsZero() {
		m.Uptime = s.Timestamp.Sub(l.Since)
	}
	return s.WithMetrics(m)
}
