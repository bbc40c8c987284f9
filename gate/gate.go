// Package gate validates and rate-limits outbound requests to the device.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/metric"
)

// DefaultCooldown applies to the log export kinds.
const DefaultCooldown = 5 * time.Minute

// DefaultTopic is the well-known outbound topic.
const DefaultTopic = "user/request"

// Publisher is the part of a transport the gate forwards to.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Request is a validated outbound payload.
type Request struct {
	Kind    string
	Payload []byte
}

// CooldownError reports a request rejected because its kind was sent too
// recently. It unwraps to errors.ErrCooldown.
type CooldownError struct {
	Kind       string
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %s is cooling down, retry in %s", errors.ErrCooldown, e.Kind, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Unwrap() error {
	return errors.ErrCooldown
}

type cooldown struct {
	window   time.Duration
	limiter  *rate.Limiter
	lastSent time.Time
}

// Gate checks, in order: the payload is well formed, the link is up, the kind
// is not cooling down. Only then is the request published. A rejected request
// never consumes the cooldown.
type Gate struct {
	topic     string
	now       func() time.Time
	logger    *slog.Logger
	metrics   *gateMetrics
	schemas   map[string]*gojsonschema.Schema
	windows   map[string]time.Duration
	mu        sync.Mutex
	cooldowns map[string]*cooldown
}

// Option configures a Gate.
type Option func(*Gate) error

// WithTopic sets the outbound topic.
func WithTopic(topic string) Option {
	return func(g *Gate) error {
		if topic == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Gate", "WithTopic", "empty topic")
		}
		g.topic = topic
		return nil
	}
}

// WithCooldown sets the cooldown for kind. Zero removes it.
func WithCooldown(kind string, window time.Duration) Option {
	return func(g *Gate) error {
		if kind == "" || window < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Gate", "WithCooldown",
				fmt.Sprintf("invalid cooldown %q=%s", kind, window))
		}
		if window == 0 {
			delete(g.windows, kind)
			return nil
		}
		g.windows[kind] = window
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) error {
		if now == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Gate", "WithClock", "nil clock")
		}
		g.now = now
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithMetrics registers the gate's metrics. A nil registry disables them.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gate) error {
		m, err := newGateMetrics(registry)
		if err != nil {
			return err
		}
		g.metrics = m
		return nil
	}
}

// New builds a gate publishing to DefaultTopic with 5 minute cooldowns on
// sendlog and sendLevelLog.
func New(opts ...Option) (*Gate, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, errors.WrapFatal(err, "Gate", "New", "compile request schemas")
	}

	g := &Gate{
		topic:   DefaultTopic,
		now:     time.Now,
		logger:  slog.Default(),
		schemas: schemas,
		windows: map[string]time.Duration{
			KindSendLog:      DefaultCooldown,
			KindSendLevelLog: DefaultCooldown,
		},
		cooldowns: make(map[string]*cooldown),
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Topic returns the outbound topic.
func (g *Gate) Topic() string {
	return g.topic
}

// Parse validates payload without sending it.
func (g *Gate) Parse(payload []byte) (Request, error) {
	payload = bytes.TrimSpace(payload)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Request{}, errors.WrapInvalid(
			fmt.Errorf("%w: payload is not a JSON object", errors.ErrInvalidRequest),
			"Gate", "Parse", "decode payload")
	}

	var kind string
	raw, ok := fields["key"]
	if !ok || json.Unmarshal(raw, &kind) != nil || kind == "" {
		return Request{}, errors.WrapInvalid(
			fmt.Errorf("%w: payload needs a non-empty string key", errors.ErrInvalidRequest),
			"Gate", "Parse", "read key")
	}

	if schema, ok := g.schemas[kind]; ok {
		if err := validateAgainst(schema, payload); err != nil {
			return Request{}, errors.WrapInvalid(
				fmt.Errorf("%w: %s: %v", errors.ErrInvalidRequest, kind, err),
				"Gate", "Parse", "validate payload")
		}
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)
	return Request{Kind: kind, Payload: owned}, nil
}

// Send validates payload and publishes it when the link is up and the kind
// is not cooling down. Rejections are returned synchronously; the caller may
// retry later. Publish errors are reported, never retried here.
func (g *Gate) Send(ctx context.Context, connected bool, pub Publisher, payload []byte) (Request, error) {
	req, err := g.Parse(payload)
	if err != nil {
		g.reject("invalid", "invalid", err)
		return Request{}, err
	}

	if !connected || pub == nil {
		err := errors.WrapTransient(errors.ErrNotConnected, "Gate", "Send", "check link")
		g.reject(req.Kind, "not_connected", err)
		return req, err
	}

	if err := g.admit(req.Kind); err != nil {
		g.reject(req.Kind, "cooldown", err)
		return req, err
	}

	if err := pub.Publish(ctx, g.topic, req.Payload); err != nil {
		g.logger.Error("Publish failed", "kind", req.Kind, "topic", g.topic, "error", err)
		g.metrics.record(req.Kind, "publish_failed")
		return req, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrPublishFailed, err), "Gate", "Send", "publish request")
	}

	g.logger.Debug("Request forwarded", "kind", req.Kind, "topic", g.topic)
	g.metrics.record(req.Kind, "accepted")
	return req, nil
}

// admit consumes the cooldown for kind, if it has one.
func (g *Gate) admit(kind string) error {
	window, ok := g.windows[kind]
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cd, ok := g.cooldowns[kind]
	if !ok {
		cd = &cooldown{
			window:  window,
			limiter: rate.NewLimiter(rate.Every(window), 1),
		}
		g.cooldowns[kind] = cd
	}

	now := g.now()
	inWindow := !cd.lastSent.IsZero() && now.Sub(cd.lastSent) < cd.window
	if inWindow || !cd.limiter.AllowN(now, 1) {
		retry := cd.lastSent.Add(cd.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return errors.WrapTransient(&CooldownError{Kind: kind, RetryAfter: retry}, "Gate", "Send", "check cooldown")
	}
	cd.lastSent = now
	return nil
}

func (g *Gate) reject(kind, reason string, err error) {
	g.logger.Warn("Request rejected", "kind", kind, "reason", reason, "error", err)
	g.metrics.record(kind, reason)
}

// LastSent returns when kind was last accepted, if ever. Only kinds with a
// cooldown are tracked.
func (g *Gate) LastSent(kind string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cd, ok := g.cooldowns[kind]
	if !ok || cd.lastSent.IsZero() {
		return time.Time{}, false
	}
	return cd.lastSent, true
}

// Cooldowns returns the configured cooldown windows by kind.
func (g *Gate) Cooldowns() map[string]time.Duration {
	out := make(map[string]time.Duration, len(g.windows))
	for k, v := range g.windows {
		out[k] = v
	}
	return out
}
