package session

import (
	"time"

	"github.com/Suhridx/pump-dashboard/health"
)

// Health describes the link for health reporting. It is safe to call from
// any goroutine.
func (m *Manager) Health() health.Link {
	l := health.Link{
		State:       m.Status().String(),
		Connected:   m.Connected(),
		LastError:   m.LastError(),
		LastErrorAt: m.LastErrorAt(),
	}
	if ns := m.upSince.Load(); ns != 0 {
		l.Since = time.Unix(0, ns)
	}
	if v := m.View(); v != nil {
		l.LastUpdate = v.LastUpdatedAt
	}
	return l
}
