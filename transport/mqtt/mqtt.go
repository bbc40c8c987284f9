// Package mqtt implements transport.Transport on an MQTT broker, usually
// reached over websockets, using the Eclipse Paho client.
//
// Paho owns reconnection. Every (re)connect is reported as EventConnected so
// the session re-requests state and re-subscribes; a lost connection is
// reported as EventDisconnected with Retrying set while paho keeps trying.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/transport"
)

// Config holds broker settings.
type Config struct {
	BrokerURL      string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	// PublishTimeout bounds the background wait for a publish acknowledgement.
	PublishTimeout time.Duration
	Reconnect      transport.Reconnect
	// TLS is used for ssl://, mqtts:// and wss:// brokers. Nil keeps the
	// system defaults.
	TLS *tls.Config
}

// DefaultConfig returns the defaults for broker.
func DefaultConfig(broker string) Config {
	return Config{
		BrokerURL:      broker,
		QoS:            0,
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 30 * time.Second,
		PublishTimeout: 10 * time.Second,
		Reconnect:      transport.DefaultReconnect(),
	}
}

// Transport is one MQTT client. It is built per connect attempt.
type Transport struct {
	cfg    Config
	creds  transport.Credentials
	sink   transport.Sink
	logger *slog.Logger
	client paho.Client

	attempts  atomic.Int32
	closed    atomic.Bool
	closeOnce sync.Once
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

// withClient swaps the paho client built from the options.
func withClient(build func(*paho.ClientOptions) paho.Client) Option {
	return func(t *Transport) {
		t.client = build(t.clientOptions())
	}
}

// New builds an unconnected client.
func New(cfg Config, creds transport.Credentials, sink transport.Sink, opts ...Option) (*Transport, error) {
	if err := transport.ValidateURL(transport.KindMQTT, cfg.BrokerURL); err != nil {
		return nil, err
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		return nil, err
	}
	if cfg.QoS > 2 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, cfg.QoS),
			"mqtt", "New", "check qos")
	}
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "mqtt", "New", "nil sink")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	t := &Transport{
		cfg:    cfg,
		creds:  creds,
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("transport", "mqtt", "client_id", creds.ClientID)
	if t.client == nil {
		t.client = paho.NewClient(t.clientOptions())
	}
	return t, nil
}

// NewFactory returns a transport.Factory building clients for cfg.
func NewFactory(cfg Config, opts ...Option) transport.Factory {
	return func(creds transport.Credentials, sink transport.Sink) (transport.Transport, error) {
		return New(cfg, creds, sink, opts...)
	}
}

func (t *Transport) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(t.creds.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(t.cfg.Reconnect.Enabled).
		SetConnectRetry(false).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting).
		SetDefaultPublishHandler(t.onMessage)

	if t.creds.Username != "" {
		opts.SetUsername(t.creds.Username)
		opts.SetPassword(t.creds.Password)
	}
	if t.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(t.cfg.KeepAlive)
	}
	if t.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	}
	if t.cfg.Reconnect.Enabled && t.cfg.Reconnect.MaxInterval > 0 {
		opts.SetMaxReconnectInterval(t.cfg.Reconnect.MaxInterval)
	}
	if t.cfg.TLS != nil {
		opts.SetTLSConfig(t.cfg.TLS)
	}
	return opts
}

// Connect makes the first connection attempt and waits for its outcome.
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return errors.WrapTransient(errors.ErrShuttingDown, "mqtt", "Connect", "connect broker")
	}
	if err := wait(ctx, t.client.Connect()); err != nil {
		return errors.WrapTransient(err, "mqtt", "Connect", "connect "+t.cfg.BrokerURL)
	}
	return nil
}

// Subscribe subscribes every topic at the configured QoS.
func (t *Transport) Subscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = t.cfg.QoS
	}
	if err := wait(ctx, t.client.SubscribeMultiple(filters, t.onMessage)); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			"mqtt", "Subscribe", "subscribe topics")
	}
	t.logger.Debug("Subscribed", "topics", topics)
	return nil
}

// Publish hands payload to paho and returns. Failures surface later as
// EventPublishFailed.
func (t *Transport) Publish(_ context.Context, topic string, payload []byte) error {
	if t.closed.Load() || !t.client.IsConnectionOpen() {
		return errors.WrapTransient(errors.ErrNotConnected, "mqtt", "Publish", "publish "+topic)
	}

	token := t.client.Publish(topic, t.cfg.QoS, false, payload)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		var err error
		if !token.WaitTimeout(t.cfg.PublishTimeout) {
			err = fmt.Errorf("%w: no acknowledgement within %s", errors.ErrConnectionTimeout, t.cfg.PublishTimeout)
		} else {
			err = token.Error()
		}
		if err != nil && !t.closed.Load() {
			t.logger.Error("Publish failed", "topic", topic, "error", err)
			t.sink(transport.Event{
				Kind:  transport.EventPublishFailed,
				Topic: topic,
				Err:   fmt.Errorf("%w: %w", errors.ErrPublishFailed, err),
			})
		}
	}()
	return nil
}

// Close disconnects and waits for pending publish watchers. Disconnect is
// issued whatever the link state: while paho is connecting or reconnecting
// it is the only way to stop the retry loop.
func (t *Transport) Close(_ context.Context) error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.client.Disconnect(250)
	})
	t.wg.Wait()
	return nil
}

func (t *Transport) onConnect(_ paho.Client) {
	t.attempts.Store(0)
	t.logger.Info("Broker connected", "broker", t.cfg.BrokerURL)
	t.emit(transport.Event{Kind: transport.EventConnected})
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.logger.Warn("Broker connection lost", "error", err)
	t.emit(transport.Event{
		Kind:     transport.EventDisconnected,
		Err:      fmt.Errorf("%w: %w", errors.ErrConnectionLost, err),
		Retrying: t.cfg.Reconnect.Enabled,
	})
}

// onReconnecting enforces Reconnect.MaxRetries, which paho has no notion of.
func (t *Transport) onReconnecting(c paho.Client, _ *paho.ClientOptions) {
	n := int(t.attempts.Add(1))
	if t.cfg.Reconnect.Allowed(n) {
		t.logger.Debug("Reconnecting", "attempt", n)
		return
	}

	t.logger.Warn("Giving up on broker", "attempts", n-1)
	t.emit(transport.Event{
		Kind: transport.EventDisconnected,
		Err:  fmt.Errorf("%w: %d reconnect attempts failed", errors.ErrMaxRetriesExceeded, n-1),
	})
	go c.Disconnect(0)
}

func (t *Transport) onMessage(_ paho.Client, msg paho.Message) {
	t.emit(transport.Event{Kind: transport.EventMessage, Topic: msg.Topic(), Payload: msg.Payload()})
}

func (t *Transport) emit(ev transport.Event) {
	if t.closed.Load() {
		return
	}
	t.sink(ev)
}

// wait blocks until token completes or ctx ends.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
