package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/Suhridx/pump-dashboard/auth"
	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/frame"
	"github.com/Suhridx/pump-dashboard/pkg/timestamp"
	"github.com/Suhridx/pump-dashboard/store"
	"github.com/Suhridx/pump-dashboard/stream"
	"github.com/Suhridx/pump-dashboard/transport"
	"github.com/Suhridx/pump-dashboard/view"
)

func (m *Manager) ready(ctx context.Context, id auth.Identity) error {
	if m.link != nil {
		m.retire(m.link)
		m.link = nil
	}
	m.connected = false

	creds, err := m.creds(id)
	if err != nil {
		m.setStatus(StatusDisconnected)
		m.recordError(err)
		m.publish()
		return err
	}

	m.gen++
	l := &link{gen: m.gen, stop: make(chan struct{})}
	tr, err := m.factory(creds, m.sinkFor(l))
	if err != nil {
		err = errors.WrapTransient(err, "Manager", "Ready", "build transport")
		m.setStatus(StatusDisconnected)
		m.recordError(err)
		m.publish()
		return err
	}
	l.tr = tr
	m.link = l
	m.setStatus(StatusConnecting)
	m.publish()

	m.logger.Info("Connecting", "identity", id.ID, "role", id.Role, "client_id", creds.ClientID, "generation", l.gen)

	if err := tr.Connect(ctx); err != nil {
		err = errors.WrapTransient(err, "Manager", "Ready", "connect transport")
		m.retire(l)
		m.link = nil
		m.setStatus(StatusDisconnected)
		m.recordError(err)
		m.publish()
		return err
	}
	return nil
}

func (m *Manager) revoke() {
	if m.link != nil {
		m.retire(m.link)
		m.link = nil
	}
	m.connected = false
	m.setStatus(StatusDisconnected)

	m.store = store.New()
	m.log.Clear()
	m.levels.Clear()
	m.lastUpdatedAt = time.Time{}

	m.logger.Info("Session revoked")
	m.publish()
}

// retire closes l and stops its sink from blocking. Events it already queued
// are dropped by the generation check.
func (m *Manager) retire(l *link) {
	close(l.stop)
	if l.tr == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opTimeout)
	defer cancel()
	if err := l.tr.Close(ctx); err != nil {
		m.logger.Warn("Transport close failed", "generation", l.gen, "error", err)
	}
}

func (m *Manager) handleEvent(gen uint64, ev transport.Event) {
	if m.link == nil || gen != m.link.gen {
		m.logger.Debug("Dropping event from retired transport", "event", ev.Kind, "generation", gen)
		m.metrics.stale()
		return
	}

	switch ev.Kind {
	case transport.EventConnected:
		m.onConnected()
	case transport.EventMessage:
		m.onMessage(ev.Topic, ev.Payload)
	case transport.EventDisconnected:
		m.onDisconnected(ev)
	case transport.EventPublishFailed:
		cause := ev.Err
		if cause == nil {
			cause = errors.ErrPublishFailed
		}
		err := errors.WrapTransient(cause, "Manager", "Publish", "deliver request")
		m.metrics.publishFailed()
		m.recordError(err)
	default:
		m.logger.Debug("Ignoring unknown transport event", "event", ev.Kind)
	}
}

func (m *Manager) onConnected() {
	first := m.Status() != StatusReconnecting
	m.connected = true
	m.setStatus(StatusConnected)
	m.metrics.connected()
	m.logger.Info("Link connected", "generation", m.link.gen, "reconnect", !first)
	m.publish()

	ctx, cancel := context.WithTimeout(m.runCtx, m.opTimeout)
	defer cancel()

	if _, err := m.gate.Send(ctx, true, m.link.tr, m.stateRequest); err != nil {
		m.recordError(err)
	}

	if err := m.link.tr.Subscribe(ctx, m.topics...); err != nil {
		m.recordError(errors.WrapTransient(err, "Manager", "onConnected", "subscribe"))
	}
}

func (m *Manager) onDisconnected(ev transport.Event) {
	m.connected = false
	m.metrics.disconnected(ev.Retrying)

	if ev.Err != nil {
		m.recordError(errors.WrapTransient(ev.Err, "Manager", "onDisconnected", "keep link"))
	}

	if ev.Retrying {
		m.setStatus(StatusReconnecting)
		m.logger.Info("Link lost, transport is reconnecting", "generation", m.link.gen)
	} else {
		m.logger.Info("Link closed", "generation", m.link.gen)
		m.retire(m.link)
		m.link = nil
		m.setStatus(StatusDisconnected)
	}
	m.publish()
}

// onMessage applies one inbound payload. Decode errors and protocol
// violations are reported and leave every buffer untouched.
func (m *Manager) onMessage(topic string, payload []byte) {
	f, err := frame.Decode(payload)
	if err != nil {
		m.metrics.decodeError(errors.Reason(err))
		m.recordError(err)
		return
	}
	m.metrics.frame(f.Class())

	mutated := false
	switch f := f.(type) {
	case frame.LogControl:
		mutated = applyControl(f.Control, m.log.Accumulator)
	case frame.LogChunk:
		mutated = m.log.AppendLine(f.Text)
		if !mutated {
			m.violation("log", m.log.Status())
		}
	case frame.LevelControl:
		mutated = applyControl(f.Control, m.levels.Accumulator)
	case frame.LevelChunk:
		mutated = m.levels.Append(f.Record)
		if !mutated {
			m.violation("level", m.levels.Status())
		}
	case frame.StateFragment:
		changed, err := m.store.ApplyFragment(f.Domains)
		if err != nil {
			m.recordError(err)
		}
		mutated = changed
	case frame.Unrecognized:
		m.logger.Debug("Ignoring unrecognized message", "topic", topic, "keys", f.Keys)
	}

	if !mutated {
		return
	}
	m.lastUpdatedAt = timestamp.Max(m.lastUpdatedAt, m.now())
	m.publish()
}

func applyControl[T any](c frame.Control, acc *stream.Accumulator[T]) bool {
	switch c {
	case frame.ControlStart:
		return acc.Start()
	case frame.ControlEnd:
		return acc.End()
	default:
		return false
	}
}

func (m *Manager) violation(name string, status stream.Status) {
	m.metrics.violation(name)
	m.logger.Debug("Dropping chunk outside an active stream", "stream", name, "status", status)
}

// publish hands a fresh view to subscribers.
func (m *Manager) publish() {
	m.seq++
	logSnap := m.log.Snapshot()
	levelSnap := m.levels.Snapshot()

	m.publisher.Publish(&view.View{
		Seq:           m.seq,
		Connected:     m.connected,
		LastUpdatedAt: m.lastUpdatedAt,
		Domains:       m.store.Snapshot(),
		Log:           view.LogView{Status: logSnap.Status, Lines: logSnap.Items},
		Levels:        view.LevelView{Status: levelSnap.Status, Records: levelSnap.Items},
	})
}

func (m *Manager) setStatus(s Status) {
	prev := Status(m.status.Swap(int32(s)))
	if prev != s {
		m.metrics.linkStatus(s == StatusConnected)
		if s == StatusConnected {
			m.upSince.Store(m.now().UnixNano())
		} else if prev == StatusConnected {
			m.upSince.Store(0)
		}
	}
}

// recordError logs err at a level matching its class and keeps it for
// LastError. Nothing here is fatal.
func (m *Manager) recordError(err error) {
	if err == nil {
		return
	}
	m.lastErr.Store(&errorRecord{err: err, at: m.now()})

	level := slog.LevelError
	if errors.IsInvalid(err) {
		level = slog.LevelWarn
	}
	m.logger.Log(context.Background(), level, "Session error", "reason", errors.Reason(err), "error", err)
	m.metrics.error(errors.Reason(err))
}
