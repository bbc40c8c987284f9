package main

import (
	"fmt"
	"log/slog"

	"github.com/Suhridx/pump-dashboard/archive"
	"github.com/Suhridx/pump-dashboard/auth"
	"github.com/Suhridx/pump-dashboard/config"
	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/gate"
	"github.com/Suhridx/pump-dashboard/metric"
	"github.com/Suhridx/pump-dashboard/pkg/tlsutil"
	"github.com/Suhridx/pump-dashboard/session"
	"github.com/Suhridx/pump-dashboard/transport"
	"github.com/Suhridx/pump-dashboard/transport/mqtt"
	"github.com/Suhridx/pump-dashboard/transport/nats"
	"github.com/Suhridx/pump-dashboard/transport/websocket"
	"github.com/Suhridx/pump-dashboard/view"
)

// newFactory picks the transport implementation named by the config.
func newFactory(cfg config.TransportConfig, logger *slog.Logger) (transport.Factory, error) {
	kind, err := transport.ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := tlsutil.LoadClient(cfg.TLS)
	if err != nil {
		return nil, err
	}

	switch kind {
	case transport.KindMQTT:
		c := mqtt.DefaultConfig(cfg.URL)
		c.QoS = byte(cfg.QoS)
		c.KeepAlive = cfg.KeepAlive.Std()
		c.ConnectTimeout = cfg.ConnectTimeout.Std()
		c.PublishTimeout = cfg.PublishTimeout.Std()
		c.Reconnect = cfg.Reconnect.Policy()
		c.TLS = tlsConfig
		return mqtt.NewFactory(c, mqtt.WithLogger(logger)), nil

	case transport.KindWebsocket:
		c := websocket.DefaultConfig(cfg.URL)
		if cfg.StatusTopic != "" {
			c.StatusTopic = cfg.StatusTopic
		}
		if d := cfg.PingInterval.Std(); d > 0 {
			c.PingInterval = d
		}
		if d := cfg.ConnectTimeout.Std(); d > 0 {
			c.HandshakeTimeout = d
		}
		c.Reconnect = cfg.Reconnect.Policy()
		c.TLS = tlsConfig
		return websocket.NewFactory(c, websocket.WithLogger(logger)), nil

	case transport.KindNATS:
		c := nats.DefaultConfig(cfg.URL)
		c.SubjectPrefix = cfg.SubjectPrefix
		if d := cfg.PingInterval.Std(); d > 0 {
			c.PingInterval = d
		}
		c.Reconnect = cfg.Reconnect.Policy()
		c.TLS = tlsConfig
		return nats.NewFactory(c, nats.WithLogger(logger)), nil
	}
	return nil, errors.WrapFatal(
		fmt.Errorf("%w: transport kind %q", errors.ErrInvalidConfig, kind),
		"main", "newFactory", "select transport")
}

func newGate(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*gate.Gate, error) {
	opts := []gate.Option{
		gate.WithTopic(cfg.Session.PublishTopic),
		gate.WithLogger(logger),
	}
	for kind, d := range cfg.Gate.Cooldowns {
		opts = append(opts, gate.WithCooldown(kind, d.Std()))
	}
	if registry != nil {
		opts = append(opts, gate.WithMetrics(registry))
	}
	return gate.New(opts...)
}

func newCredentials(cfg *config.Config) session.CredentialSource {
	opts := []auth.ProviderOption{
		auth.WithClientIDPrefix(cfg.Transport.ClientIDPrefix),
		auth.WithStaticCredentials(cfg.Transport.Username, cfg.Transport.Password),
	}
	if cfg.Auth.SecretSalt != "" {
		opts = append(opts, auth.WithSalt(cfg.Auth.SecretSalt))
	}
	return auth.NewProvider(opts...).Credentials
}

// newSession builds the session manager. With autoReady set and an identity
// configured, it connects as soon as it runs.
func newSession(
	cfg *config.Config,
	pub *view.Publisher,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
	autoReady bool,
) (*session.Manager, error) {
	factory, err := newFactory(cfg.Transport, logger)
	if err != nil {
		return nil, err
	}
	g, err := newGate(cfg, registry, logger)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithGate(g),
		session.WithCredentials(newCredentials(cfg)),
		session.WithStateRequest([]byte(cfg.Session.StateRequest)),
		session.WithQueueSize(cfg.Session.QueueSize),
		session.WithOperationTimeout(cfg.Session.OperationTimeout.Std()),
	}
	if len(cfg.Session.SubscribeTopics) > 0 {
		opts = append(opts, session.WithTopics(cfg.Session.SubscribeTopics...))
	}
	if registry != nil {
		opts = append(opts, session.WithMetrics(registry))
	}
	if autoReady && cfg.Auth.Identity != nil {
		id, err := cfg.Auth.Identity.Identity()
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithAutoReady(id))
	}
	return session.NewManager(factory, pub, opts...)
}

func newArchiveClient(cfg config.ArchiveConfig, registry *metric.MetricsRegistry, logger *slog.Logger) (*archive.Client, error) {
	opts := []archive.Option{
		archive.WithTimeout(cfg.Timeout.Std()),
		archive.WithCacheTTL(cfg.CacheTTL.Std()),
		archive.WithRetry(cfg.Retry.Policy()),
		archive.WithLogger(logger),
	}
	if registry != nil {
		opts = append(opts, archive.WithMetrics(registry))
	}
	return archive.NewClient(cfg.BaseURL, opts...)
}
