package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Suhridx/pump-dashboard/archive"
	"github.com/Suhridx/pump-dashboard/auth"
	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/gate"
	"github.com/Suhridx/pump-dashboard/pkg/retry"
	"github.com/Suhridx/pump-dashboard/pkg/tlsutil"
	"github.com/Suhridx/pump-dashboard/session"
	"github.com/Suhridx/pump-dashboard/transport"
)

// Config is the complete process configuration.
type Config struct {
	Transport TransportConfig `json:"transport"`
	Session   SessionConfig   `json:"session"`
	Gate      GateConfig      `json:"gate"`
	Archive   ArchiveConfig   `json:"archive"`
	HTTP      HTTPConfig      `json:"http"`
	Metrics   MetricsConfig   `json:"metrics"`
	Auth      AuthConfig      `json:"auth"`
	Log       LogConfig       `json:"log"`
}

// TransportConfig selects and tunes the device link.
type TransportConfig struct {
	Kind           string          `json:"kind"`
	URL            string          `json:"url"`
	Username       string          `json:"username,omitempty"`
	Password       string          `json:"password,omitempty"`
	ClientIDPrefix string          `json:"client_id_prefix,omitempty"`
	Reconnect      ReconnectConfig `json:"reconnect"`

	// mqtt
	QoS            int      `json:"qos"`
	KeepAlive      Duration `json:"keep_alive"`
	ConnectTimeout Duration `json:"connect_timeout"`
	PublishTimeout Duration `json:"publish_timeout"`

	// websocket
	StatusTopic  string   `json:"status_topic,omitempty"`
	PingInterval Duration `json:"ping_interval"`

	// nats
	SubjectPrefix string `json:"subject_prefix,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls"`
}

// ReconnectConfig mirrors transport.Reconnect with readable durations.
type ReconnectConfig struct {
	Enabled         bool     `json:"enabled"`
	MaxRetries      int      `json:"max_retries"`
	InitialInterval Duration `json:"initial_interval"`
	MaxInterval     Duration `json:"max_interval"`
	Multiplier      float64  `json:"multiplier"`
}

// Policy converts to the transport form.
func (r ReconnectConfig) Policy() transport.Reconnect {
	return transport.Reconnect{
		Enabled:         r.Enabled,
		MaxRetries:      r.MaxRetries,
		InitialInterval: r.InitialInterval.Std(),
		MaxInterval:     r.MaxInterval.Std(),
		Multiplier:      r.Multiplier,
	}
}

// SessionConfig tunes the session dispatcher.
type SessionConfig struct {
	StateRequest     string   `json:"state_request"`
	QueueSize        int      `json:"queue_size"`
	OperationTimeout Duration `json:"operation_timeout"`
	SubscribeTopics  []string `json:"subscribe_topics"`
	PublishTopic     string   `json:"publish_topic"`
}

// GateConfig holds per-kind cooldowns. A zero cooldown disables it.
type GateConfig struct {
	Cooldowns map[string]Duration `json:"cooldowns"`
}

// ArchiveConfig points at the historical log archive. An empty BaseURL
// disables it.
type ArchiveConfig struct {
	BaseURL  string         `json:"base_url,omitempty"`
	Timeout  Duration       `json:"timeout"`
	CacheTTL Duration       `json:"cache_ttl"`
	Retry    RetryConfig    `json:"retry"`
	Backfill BackfillConfig `json:"backfill"`
}

// Enabled reports whether an archive is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.BaseURL != ""
}

// RetryConfig is the archive request retry policy.
type RetryConfig struct {
	MaxAttempts  int      `json:"max_attempts"`
	InitialDelay Duration `json:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"`
}

// Policy converts to a retry.Config with jitter.
func (r RetryConfig) Policy() retry.Config {
	return retry.Config{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay.Std(),
		MaxDelay:     r.MaxDelay.Std(),
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// BackfillConfig controls loading archived level logs into the session.
type BackfillConfig struct {
	Enabled  bool   `json:"enabled"`
	Folder   string `json:"folder,omitempty"`
	File     string `json:"file,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// Archive converts to the archive form.
func (b BackfillConfig) Archive() archive.BackfillConfig {
	return archive.BackfillConfig{Folder: b.Folder, File: b.File, Schedule: b.Schedule}
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string   `json:"addr"`
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	MaxClients      int      `json:"max_ws_clients"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`

	TLS tlsutil.ServerConfig `json:"tls"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// AuthConfig configures credential derivation. With Identity set the
// session connects at start-up without waiting for a ready call.
type AuthConfig struct {
	SecretSalt string          `json:"secret_salt,omitempty"`
	Identity   *IdentityConfig `json:"identity,omitempty"`
}

// IdentityConfig is a configured identity.
type IdentityConfig struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
}

// Identity converts and validates.
func (i IdentityConfig) Identity() (auth.Identity, error) {
	role, err := auth.ParseRole(i.Role)
	if err != nil {
		return auth.Identity{}, err
	}
	id := auth.Identity{ID: i.ID, Name: i.Name, Role: role}
	return id, id.Validate()
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// SlogLevel maps Level onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the built-in configuration. Transport.URL has no default.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:           string(transport.KindMQTT),
			ClientIDPrefix: auth.DefaultClientIDPrefix,
			Reconnect: ReconnectConfig{
				Enabled:         true,
				InitialInterval: Duration(time.Second),
				MaxInterval:     Duration(30 * time.Second),
				Multiplier:      2.0,
			},
			KeepAlive:      Duration(60 * time.Second),
			ConnectTimeout: Duration(30 * time.Second),
			PublishTimeout: Duration(10 * time.Second),
			StatusTopic:    "device/status",
			PingInterval:   Duration(30 * time.Second),
		},
		Session: SessionConfig{
			StateRequest:     string(session.DefaultStateRequest),
			QueueSize:        session.DefaultQueueSize,
			OperationTimeout: Duration(session.DefaultOperationTimeout),
			SubscribeTopics:  append([]string(nil), session.DefaultTopics...),
			PublishTopic:     gate.DefaultTopic,
		},
		Gate: GateConfig{
			Cooldowns: map[string]Duration{
				gate.KindSendLog:      Duration(gate.DefaultCooldown),
				gate.KindSendLevelLog: Duration(gate.DefaultCooldown),
			},
		},
		Archive: ArchiveConfig{
			Timeout:  Duration(archive.DefaultTimeout),
			CacheTTL: Duration(archive.DefaultCacheTTL),
			Retry: RetryConfig{
				MaxAttempts:  4,
				InitialDelay: Duration(250 * time.Millisecond),
				MaxDelay:     Duration(4 * time.Second),
			},
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MaxClients:      64,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func invalid(section, format string, args ...any) error {
	return errors.WrapFatal(
		fmt.Errorf("%w: %s: %s", errors.ErrInvalidConfig, section, fmt.Sprintf(format, args...)),
		"Config", "Validate", "validate "+section)
}

// Validate checks every section and normalizes the transport kind.
func (c *Config) Validate() error {
	kind, err := transport.ParseKind(c.Transport.Kind)
	if err != nil {
		return errors.WrapFatal(err, "Config", "Validate", "validate transport")
	}
	c.Transport.Kind = string(kind)

	if c.Transport.URL == "" {
		return errors.WrapFatal(fmt.Errorf("%w: transport.url is required", errors.ErrMissingConfig),
			"Config", "Validate", "validate transport")
	}
	if err := transport.ValidateURL(kind, c.Transport.URL); err != nil {
		return errors.WrapFatal(err, "Config", "Validate", "validate transport")
	}
	if err := c.Transport.Reconnect.Policy().Validate(); err != nil {
		return errors.WrapFatal(err, "Config", "Validate", "validate transport.reconnect")
	}
	if c.Transport.QoS < 0 || c.Transport.QoS > 2 {
		return invalid("transport", "qos %d out of range", c.Transport.QoS)
	}
	if _, err := tlsutil.LoadClient(c.Transport.TLS); err != nil {
		return errors.WrapFatal(err, "Config", "Validate", "validate transport.tls")
	}

	if err := c.validateSession(kind); err != nil {
		return err
	}

	for k, d := range c.Gate.Cooldowns {
		if k == "" || d < 0 {
			return invalid("gate", "cooldown %q=%s", k, d.Std())
		}
	}

	if err := c.validateArchive(); err != nil {
		return err
	}

	if c.HTTP.Addr == "" {
		return invalid("http", "addr is required")
	}
	if c.HTTP.MaxClients <= 0 {
		return invalid("http", "max_ws_clients must be positive")
	}
	if _, err := tlsutil.LoadServer(c.HTTP.TLS); err != nil {
		return errors.WrapFatal(err, "Config", "Validate", "validate http.tls")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid("metrics", "port %d out of range", c.Metrics.Port)
	}

	if c.Auth.Identity != nil {
		if _, err := c.Auth.Identity.Identity(); err != nil {
			return errors.WrapFatal(err, "Config", "Validate", "validate auth.identity")
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid("log", "format %q (want json or text)", c.Log.Format)
	}
	return nil
}

func (c *Config) validateSession(kind transport.Kind) error {
	s := c.Session
	var probe map[string]any
	if err := json.Unmarshal([]byte(s.StateRequest), &probe); err != nil || probe == nil {
		return invalid("session", "state_request must be a JSON object")
	}
	if s.QueueSize <= 0 {
		return invalid("session", "queue_size must be positive")
	}
	if s.OperationTimeout <= 0 {
		return invalid("session", "operation_timeout must be positive")
	}
	if s.PublishTopic == "" {
		return invalid("session", "publish_topic is required")
	}
	if kind != transport.KindWebsocket && len(s.SubscribeTopics) == 0 {
		return invalid("session", "subscribe_topics is required for %s", kind)
	}
	return nil
}

func (c *Config) validateArchive() error {
	a := c.Archive
	if !a.Enabled() {
		if a.Backfill.Enabled {
			return invalid("archive", "backfill requires base_url")
		}
		return nil
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("archive", "base_url %q must be an absolute http(s) url", a.BaseURL)
	}
	if a.Timeout <= 0 || a.CacheTTL <= 0 {
		return invalid("archive", "timeout and cache_ttl must be positive")
	}
	if a.Retry.MaxAttempts < 0 || a.Retry.MaxDelay < a.Retry.InitialDelay {
		return invalid("archive", "retry policy is inconsistent")
	}
	if err := archive.ValidateSchedule(a.Backfill.Schedule); err != nil {
		return errors.WrapFatal(err, "Config", "Validate", "validate archive.backfill")
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Redacted returns a copy with secrets masked.
func (c *Config) Redacted() *Config {
	out := c.Clone()
	if out.Transport.Password != "" {
		out.Transport.Password = "[REDACTED]"
	}
	if out.Auth.SecretSalt != "" {
		out.Auth.SecretSalt = "[REDACTED]"
	}
	return out
}

// String returns the redacted configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil config", errors.ErrMissingConfig),
			"SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
