// Package websocket implements transport.Transport over a plain websocket
// connection to the controller. The link has no topics: every inbound text
// frame is reported on the configured status topic, and published payloads
// are written as text frames.
package websocket

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/transport"
)

// Config holds websocket link settings.
type Config struct {
	URL string

	// StatusTopic labels inbound frames.
	StatusTopic string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is how often keepalive pings are sent. The read deadline
	// is twice this value.
	PingInterval time.Duration

	Reconnect transport.Reconnect

	// TLS is used for wss:// URLs. Nil keeps the system defaults.
	TLS *tls.Config
}

// DefaultConfig returns the defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		StatusTopic:      "device/status",
		HandshakeTimeout: 15 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		Reconnect:        transport.DefaultReconnect(),
	}
}

// Transport is one websocket link. It is built per connect attempt.
type Transport struct {
	cfg    Config
	creds  transport.Credentials
	sink   transport.Sink
	logger *slog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	started   atomic.Bool
	closeOnce sync.Once
	shutdown  chan struct{}
	wg        sync.WaitGroup
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
	if err := transport.ValidateURL(transport.KindWebsocket, cfg.URL); err != nil {
		return nil, err
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "websocket", "New", "nil sink")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	t := &Transport{
		cfg:    cfg,
		creds:  creds,
		sink:   sink,
		logger: slog.Default(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
			TLSClientConfig:  cfg.TLS,
		},
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("transport", "websocket", "client_id", creds.ClientID)
	return t, nil
}

// NewFactory returns a transport.Factory building websocket links for cfg.
func NewFactory(cfg Config, opts ...Option) transport.Factory {
	return func(creds transport.Credentials, sink transport.Sink) (transport.Transport, error) {
		return New(cfg, creds, sink, opts...)
	}
}

// Connect dials once. On success the read loop takes over and reconnects
// according to the policy; on failure the error is returned and nothing is
// left running.
func (t *Transport) Connect(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket", "Connect", "start link")
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return errors.WrapTransient(err, "websocket", "Connect", "dial "+t.cfg.URL)
	}
	if !t.setConn(conn) {
		_ = conn.Close()
		return errors.WrapTransient(errors.ErrShuttingDown, "websocket", "Connect", "store connection")
	}

	t.wg.Add(1)
	go t.run(conn)
	return nil
}

// Subscribe is a no-op: the link carries a single untagged stream.
func (t *Transport) Subscribe(_ context.Context, _ ...string) error {
	return nil
}

// Publish writes payload as one text frame. The topic is not transmitted.
func (t *Transport) Publish(_ context.Context, _ string, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "websocket", "Publish", "write frame")
	}

	if err := t.write(conn, websocket.TextMessage, payload); err != nil {
		return errors.WrapTransient(err, "websocket", "Publish", "write frame")
	}
	return nil
}

// Close stops the reconnect loop and closes the connection.
func (t *Transport) Close(_ context.Context) error {
	t.closeOnce.Do(func() {
		close(t.shutdown)

		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()

		if conn != nil {
			_ = t.write(conn, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"))
			_ = conn.Close()
		}
	})
	t.wg.Wait()
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, t.headers())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

func (t *Transport) headers() http.Header {
	h := http.Header{}
	if t.creds.Username != "" {
		auth := t.creds.Username + ":" + t.creds.Password
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}
	if t.creds.ClientID != "" {
		h.Set("X-Client-ID", t.creds.ClientID)
	}
	return h
}

// setConn stores conn unless the transport is closing.
func (t *Transport) setConn(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.shutdown:
		return false
	default:
	}
	t.conn = conn
	return true
}

func (t *Transport) clearConn(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

func (t *Transport) write(conn *websocket.Conn, messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

func (t *Transport) closing() bool {
	select {
	case <-t.shutdown:
		return true
	default:
		return false
	}
}

// run owns the connection lifecycle after the first successful dial.
func (t *Transport) run(conn *websocket.Conn) {
	defer t.wg.Done()

	for {
		t.sink(transport.Event{Kind: transport.EventConnected})
		t.logger.Info("Websocket connected", "url", t.cfg.URL)

		err := t.readLoop(conn)
		t.clearConn(conn)
		if t.closing() {
			return
		}

		t.logger.Warn("Websocket connection lost", "error", err)
		conn = t.redial(err)
		if conn == nil {
			return
		}
	}
}

// redial reconnects with backoff. It returns nil once the policy is exhausted
// or the transport is closed; the final Disconnected event is sent here.
func (t *Transport) redial(cause error) *websocket.Conn {
	lost := errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionLost, cause),
		"websocket", "run", "read frame")

	for attempt := 1; ; attempt++ {
		if !t.cfg.Reconnect.Allowed(attempt) {
			t.sink(transport.Event{Kind: transport.EventDisconnected, Err: lost, Retrying: false})
			return nil
		}
		if attempt == 1 {
			t.sink(transport.Event{Kind: transport.EventDisconnected, Err: lost, Retrying: true})
		}

		delay := t.cfg.Reconnect.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-t.shutdown:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.handshakeTimeout())
		conn, err := t.dial(ctx)
		cancel()
		if err != nil {
			t.logger.Debug("Reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		if !t.setConn(conn) {
			_ = conn.Close()
			return nil
		}
		return conn
	}
}

func (t *Transport) handshakeTimeout() time.Duration {
	if t.cfg.HandshakeTimeout > 0 {
		return t.cfg.HandshakeTimeout
	}
	return 15 * time.Second
}

// readLoop delivers frames until the connection fails. A ping goroutine keeps
// the read deadline moving while the peer answers.
func (t *Transport) readLoop(conn *websocket.Conn) error {
	pongWait := 2 * t.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(t.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := t.write(conn, websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		t.sink(transport.Event{Kind: transport.EventMessage, Topic: t.cfg.StatusTopic, Payload: data})
	}
}
