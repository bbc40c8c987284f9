// Package nats implements transport.Transport on a NATS server.
//
// Topics map to subjects by replacing "/" with "." under an optional prefix,
// so "device/status" becomes "pump.device.status" with prefix "pump". The
// nats.go client owns reconnection and resubscribes on its own; the session
// still sees a Connected event after every reconnect.
package nats

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/transport"
)

// Config holds server settings.
type Config struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
	PingInterval  time.Duration
	DrainTimeout  time.Duration
	Reconnect     transport.Reconnect
	// TLS enables TLS to the server. Nil keeps the URL's defaults.
	TLS *tls.Config
}

// DefaultConfig returns the defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		Timeout:      5 * time.Second,
		PingInterval: 30 * time.Second,
		DrainTimeout: 5 * time.Second,
		Reconnect:    transport.DefaultReconnect(),
	}
}

// Transport is one NATS connection. It is built per connect attempt.
type Transport struct {
	cfg    Config
	creds  transport.Credentials
	sink   transport.Sink
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *nats.Conn
	subs   map[string]*nats.Subscription
	topics map[string]string // subject -> topic

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New builds an unconnected transport.
func New(cfg Config, creds transport.Credentials, sink transport.Sink, opts ...Option) (*Transport, error) {
	if err := transport.ValidateURL(transport.KindNATS, cfg.URL); err != nil {
		return nil, err
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "nats", "New", "nil sink")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}

	t := &Transport{
		cfg:    cfg,
		creds:  creds,
		sink:   sink,
		logger: slog.Default(),
		subs:   make(map[string]*nats.Subscription),
		topics: make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("transport", "nats", "client_id", creds.ClientID)
	return t, nil
}

// NewFactory returns a transport.Factory building connections for cfg.
func NewFactory(cfg Config, opts ...Option) transport.Factory {
	return func(creds transport.Credentials, sink transport.Sink) (transport.Transport, error) {
		return New(cfg, creds, sink, opts...)
	}
}

// Subject maps a topic onto a NATS subject.
func (t *Transport) Subject(topic string) string {
	subject := strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
	if t.cfg.SubjectPrefix == "" {
		return subject
	}
	return t.cfg.SubjectPrefix + "." + subject
}

func (t *Transport) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Timeout(t.cfg.Timeout),
		nats.DrainTimeout(t.cfg.DrainTimeout),
		nats.DisconnectErrHandler(t.handleDisconnect),
		nats.ReconnectHandler(t.handleReconnect),
		nats.ClosedHandler(t.handleClosed),
		nats.ErrorHandler(t.handleError),
	}
	if t.cfg.PingInterval > 0 {
		opts = append(opts, nats.PingInterval(t.cfg.PingInterval))
	}

	r := t.cfg.Reconnect
	if r.Enabled {
		maxReconnects := -1
		if r.MaxRetries > 0 {
			maxReconnects = r.MaxRetries
		}
		opts = append(opts,
			nats.MaxReconnects(maxReconnects),
			nats.ReconnectWait(r.InitialInterval),
			nats.CustomReconnectDelay(func(attempts int) time.Duration {
				return r.Delay(attempts)
			}),
		)
	} else {
		opts = append(opts, nats.NoReconnect())
	}

	if t.creds.Username != "" {
		opts = append(opts, nats.UserInfo(t.creds.Username, t.creds.Password))
	}
	if t.creds.ClientID != "" {
		opts = append(opts, nats.Name(t.creds.ClientID))
	}
	if t.cfg.TLS != nil {
		opts = append(opts, nats.Secure(t.cfg.TLS))
	}
	return opts
}

// Connect dials the server once and waits for the result or ctx.
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return errors.WrapTransient(errors.ErrShuttingDown, "nats", "Connect", "connect server")
	}

	opts := t.connectionOptions()
	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(t.cfg.URL, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		t.mu.Lock()
		if t.closed.Load() {
			t.mu.Unlock()
			conn.Close()
			connectDone <- errors.ErrShuttingDown
			return
		}
		t.conn = conn
		t.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return errors.WrapTransient(err, "nats", "Connect", "establish connection")
		}
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "nats", "Connect", "connection cancelled")
	}

	t.logger.Info("Connected to NATS", "url", t.cfg.URL)
	go t.emit(transport.Event{Kind: transport.EventConnected})
	return nil
}

// Subscribe subscribes each topic once; repeated topics are skipped.
func (t *Transport) Subscribe(_ context.Context, topics ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || !t.conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "nats", "Subscribe", "subscribe")
	}

	for _, topic := range topics {
		subject := t.Subject(topic)
		if _, ok := t.subs[subject]; ok {
			continue
		}
		sub, err := t.conn.Subscribe(subject, t.handleMsg)
		if err != nil {
			return errors.WrapTransient(fmt.Errorf("%w: %s: %w", errors.ErrSubscriptionFailed, subject, err),
				"nats", "Subscribe", "subscribe")
		}
		t.subs[subject] = sub
		t.topics[subject] = topic
	}
	return nil
}

// Publish hands payload to the client's outbound buffer.
func (t *Transport) Publish(_ context.Context, topic string, payload []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "nats", "Publish", "publish "+topic)
	}
	if err := conn.Publish(t.Subject(topic), payload); err != nil {
		return errors.WrapTransient(err, "nats", "Publish", "publish "+topic)
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (t *Transport) Close(ctx context.Context) error {
	var closeErr error
	t.closeOnce.Do(func() {
		t.closed.Store(true)

		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.subs = make(map[string]*nats.Subscription)
		t.mu.Unlock()

		if conn == nil {
			return
		}

		drainTimeout := t.cfg.DrainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				closeErr = errors.Wrap(err, "nats", "Close", "drain connection")
			}
		case <-time.After(drainTimeout):
			closeErr = errors.WrapTransient(fmt.Errorf("drain timeout after %v", drainTimeout),
				"nats", "Close", "drain connection")
		case <-ctx.Done():
			closeErr = errors.Wrap(ctx.Err(), "nats", "Close", "context cancelled during drain")
		}
		conn.Close()
	})
	return closeErr
}

func (t *Transport) handleMsg(msg *nats.Msg) {
	t.mu.RLock()
	topic, ok := t.topics[msg.Subject]
	t.mu.RUnlock()
	if !ok {
		topic = msg.Subject
	}
	t.emit(transport.Event{Kind: transport.EventMessage, Topic: topic, Payload: msg.Data})
}

func (t *Transport) handleDisconnect(_ *nats.Conn, err error) {
	if err == nil {
		err = errors.ErrConnectionLost
	} else {
		err = fmt.Errorf("%w: %w", errors.ErrConnectionLost, err)
	}
	t.logger.Warn("NATS connection lost", "error", err)
	t.emit(transport.Event{Kind: transport.EventDisconnected, Err: err, Retrying: t.cfg.Reconnect.Enabled})
}

func (t *Transport) handleReconnect(conn *nats.Conn) {
	t.logger.Info("Reconnected to NATS", "url", conn.ConnectedUrl())
	t.emit(transport.Event{Kind: transport.EventConnected})
}

// handleClosed fires once the client has given up reconnecting.
func (t *Transport) handleClosed(_ *nats.Conn) {
	t.emit(transport.Event{
		Kind: transport.EventDisconnected,
		Err:  fmt.Errorf("%w: connection closed", errors.ErrConnectionLost),
	})
}

// handleError reports asynchronous errors. Those without a subscription
// concern outbound traffic, for example a publish permission violation.
func (t *Transport) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	t.logger.Error("NATS error", "error", err)
	if sub != nil {
		return
	}
	t.emit(transport.Event{Kind: transport.EventPublishFailed, Err: fmt.Errorf("%w: %w", errors.ErrPublishFailed, err)})
}

func (t *Transport) emit(ev transport.Event) {
	if t.closed.Load() {
		return
	}
	t.sink(ev)
}
