// Package session owns the device link and reconciles everything it
// receives into a single view.
//
// All state changes happen on one dispatcher goroutine started by Run.
// Transport events and caller commands share a single queue, so inbound frames
// are processed strictly one at a time and in arrival order, and no lock
// guards the store or the stream buffers.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Suhridx/pump-dashboard/auth"
	"github.com/Suhridx/pump-dashboard/device"
	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/gate"
	"github.com/Suhridx/pump-dashboard/metric"
	"github.com/Suhridx/pump-dashboard/store"
	"github.com/Suhridx/pump-dashboard/stream"
	"github.com/Suhridx/pump-dashboard/transport"
	"github.com/Suhridx/pump-dashboard/view"
)

// Defaults
const (
	DefaultQueueSize        = 256
	DefaultOperationTimeout = 10 * time.Second
)

// DefaultStateRequest asks the device for a full snapshot of every domain.
var DefaultStateRequest = []byte(`{"key":"getState"}`)

// DefaultTopics are the inbound topics of the open variant. The authenticated
// variant subscribes to the status topic alone.
var DefaultTopics = []string{"device/status", "device/logs", "device/levels"}

// CredentialSource maps an identity to transport credentials.
type CredentialSource func(auth.Identity) (transport.Credentials, error)

// Manager is the session state machine. The zero value is not usable; build
// one with NewManager and start it with Run.
type Manager struct {
	factory   transport.Factory
	publisher *view.Publisher
	gate      *gate.Gate
	creds     CredentialSource
	logger    *slog.Logger
	metrics   *sessionMetrics
	now       func() time.Time

	stateRequest []byte
	topics       []string
	opTimeout    time.Duration
	autoReady    *auth.Identity

	queue   chan item
	done    chan struct{}
	running atomic.Bool
	status  atomic.Int32
	upSince atomic.Int64
	lastErr atomic.Pointer[errorRecord]

	// owned by the dispatcher
	runCtx        context.Context
	link          *link
	gen           uint64
	connected     bool
	lastUpdatedAt time.Time
	seq           uint64
	store         *store.Store
	log           *stream.TextLog
	levels        *stream.LevelLog
}

type errorRecord struct {
	err error
	at  time.Time
}

// link is one transport generation.
type link struct {
	gen  uint64
	tr   transport.Transport
	stop chan struct{}
}

// item is one unit of dispatcher work: a transport event or a command.
type item struct {
	gen   uint64
	event *transport.Event
	cmd   func() error
	reply chan error
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithMetrics registers the session metrics. A nil registry disables them.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) error {
		sm, err := newSessionMetrics(registry)
		if err != nil {
			return err
		}
		m.metrics = sm
		return nil
	}
}

// WithGate sets the outbound request gate.
func WithGate(g *gate.Gate) Option {
	return func(m *Manager) error {
		if g == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "WithGate", "nil gate")
		}
		m.gate = g
		return nil
	}
}

// WithCredentials sets how identities become transport credentials.
func WithCredentials(src CredentialSource) Option {
	return func(m *Manager) error {
		if src == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "WithCredentials", "nil source")
		}
		m.creds = src
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "WithClock", "nil clock")
		}
		m.now = now
		return nil
	}
}

// WithStateRequest sets the payload published right after every connect.
func WithStateRequest(payload []byte) Option {
	return func(m *Manager) error {
		var probe map[string]any
		if err := json.Unmarshal(payload, &probe); err != nil || probe == nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: state request must be a JSON object", errors.ErrInvalidConfig),
				"Manager", "WithStateRequest", "validate payload")
		}
		m.stateRequest = append([]byte(nil), payload...)
		return nil
	}
}

// WithTopics sets the inbound topics subscribed after every connect.
func WithTopics(topics ...string) Option {
	return func(m *Manager) error {
		if len(topics) == 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "WithTopics", "no topics")
		}
		m.topics = append([]string(nil), topics...)
		return nil
	}
}

// WithQueueSize sets the dispatcher queue capacity.
func WithQueueSize(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "WithQueueSize",
				fmt.Sprintf("queue size %d", n))
		}
		m.queue = make(chan item, n)
		return nil
	}
}

// WithOperationTimeout bounds transport calls made by the dispatcher itself.
func WithOperationTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "WithOperationTimeout",
				fmt.Sprintf("timeout %s", d))
		}
		m.opTimeout = d
		return nil
	}
}

// WithAutoReady connects as id as soon as Run starts.
func WithAutoReady(id auth.Identity) Option {
	return func(m *Manager) error {
		if err := id.Validate(); err != nil {
			return err
		}
		m.autoReady = &id
		return nil
	}
}

// NewManager builds a session that creates transports with factory and
// publishes views to publisher.
func NewManager(factory transport.Factory, publisher *view.Publisher, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "New", "nil transport factory")
	}
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "New", "nil view publisher")
	}

	m := &Manager{
		factory:      factory,
		publisher:    publisher,
		creds:        auth.NewProvider().Credentials,
		logger:       slog.Default(),
		now:          time.Now,
		stateRequest: DefaultStateRequest,
		topics:       DefaultTopics,
		opTimeout:    DefaultOperationTimeout,
		queue:        make(chan item, DefaultQueueSize),
		done:         make(chan struct{}),
		store:        store.New(),
		log:          stream.NewTextLog(),
		levels:       stream.NewLevelLog(),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if m.gate == nil {
		g, err := gate.New(gate.WithLogger(m.logger))
		if err != nil {
			return nil, err
		}
		m.gate = g
	}

	m.logger = m.logger.With("component", "session")
	return m, nil
}

// Run processes events until ctx is cancelled. The active transport is closed
// on every exit path. A Manager runs at most once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Run", "start dispatcher")
	}

	m.runCtx = ctx
	defer m.shutdown()

	m.logger.Info("Session dispatcher started", "topics", m.topics)
	m.publish()

	if m.autoReady != nil {
		if err := m.ready(ctx, *m.autoReady); err != nil {
			m.logger.Warn("Initial connect failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Session dispatcher stopping", "reason", ctx.Err())
			return nil
		case it := <-m.queue:
			m.dispatch(it)
		}
	}
}

func (m *Manager) shutdown() {
	close(m.done)
	if m.link != nil {
		m.retire(m.link)
		m.link = nil
	}
	m.connected = false
	m.setStatus(StatusDisconnected)
	m.publish()
}

// dispatch runs one item. A panic is recorded and never escapes the loop.
func (m *Manager) dispatch(it item) {
	start := time.Now()
	op := "command"
	if it.event != nil {
		op = it.event.Kind.String()
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errors.WrapTransient(fmt.Errorf("panic: %v", r), "Manager", "dispatch", op)
				m.recordError(err)
			}
		}()
		if it.event != nil {
			m.handleEvent(it.gen, *it.event)
			return
		}
		err = it.cmd()
	}()

	m.metrics.observe(op, time.Since(start))
	if it.reply != nil {
		it.reply <- err
	}
}

// do runs fn on the dispatcher and waits for it.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case m.queue <- item{cmd: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return errors.WrapTransient(errors.ErrShuttingDown, "Manager", "do", "enqueue command")
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		// the dispatcher may have answered just before stopping
		select {
		case err := <-reply:
			return err
		default:
			return errors.WrapTransient(errors.ErrShuttingDown, "Manager", "do", "await command")
		}
	}
}

// sinkFor returns the event sink for generation gen. A sink stops blocking
// once its link is retired or the dispatcher has stopped.
func (m *Manager) sinkFor(l *link) transport.Sink {
	return func(ev transport.Event) {
		select {
		case m.queue <- item{gen: l.gen, event: &ev}:
		case <-l.stop:
		case <-m.done:
		}
	}
}

// Ready builds a fresh transport for id and starts connecting. Any existing
// transport is closed first; state already received is kept.
func (m *Manager) Ready(ctx context.Context, id auth.Identity) error {
	return m.do(ctx, func() error {
		return m.ready(ctx, id)
	})
}

// Revoke closes the transport and forgets everything received.
func (m *Manager) Revoke(ctx context.Context) error {
	return m.do(ctx, func() error {
		m.revoke()
		return nil
	})
}

// Send validates payload and publishes it through the gate.
func (m *Manager) Send(ctx context.Context, payload []byte) (gate.Request, error) {
	var req gate.Request
	err := m.do(ctx, func() error {
		var pub gate.Publisher
		if m.link != nil {
			pub = m.link.tr
		}
		var sendErr error
		req, sendErr = m.gate.Send(ctx, m.connected, pub, payload)
		return sendErr
	})
	return req, err
}

// ClearLog discards the text log.
func (m *Manager) ClearLog(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.log.Clear() {
			m.publish()
		}
		return nil
	})
}

// ClearLevels discards the level log.
func (m *Manager) ClearLevels(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.levels.Clear() {
			m.publish()
		}
		return nil
	})
}

// Backfill loads archived level records into the level log. It fails with
// errors.ErrStreamBusy while a live level transfer is in progress.
func (m *Manager) Backfill(ctx context.Context, records []device.LevelRecord) error {
	return m.do(ctx, func() error {
		if m.levels.Status() == stream.StatusStart {
			return errors.WrapTransient(errors.ErrStreamBusy, "Manager", "Backfill", "check level stream")
		}
		m.levels.Replace(records)
		m.logger.Info("Level log backfilled", "records", len(records))
		m.publish()
		return nil
	})
}

// Status returns the current link state.
func (m *Manager) Status() Status {
	return Status(m.status.Load())
}

// Connected reports whether the link is up.
func (m *Manager) Connected() bool {
	return m.Status() == StatusConnected
}

// LastError returns the most recent reported error, or nil.
func (m *Manager) LastError() error {
	if rec := m.lastErr.Load(); rec != nil {
		return rec.err
	}
	return nil
}

// LastErrorAt returns when LastError was recorded.
func (m *Manager) LastErrorAt() time.Time {
	if rec := m.lastErr.Load(); rec != nil {
		return rec.at
	}
	return time.Time{}
}

// View returns the latest published view.
func (m *Manager) View() *view.View {
	return m.publisher.Latest()
}

// Gate returns the outbound request gate.
func (m *Manager) Gate() *gate.Gate {
	return m.gate
}

// Done is closed when Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
