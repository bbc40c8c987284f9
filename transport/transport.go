// Package transport defines the boundary between the session and a concrete
// pub/sub link (MQTT, plain websocket, NATS).
//
// A Transport reports everything through its Sink: connects, inbound
// messages, disconnects and asynchronous publish failures. Implementations
// call the sink from their own goroutines; the session serializes the events.
// A Transport is built once per connect attempt and never reused after Close.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Suhridx/pump-dashboard/errors"
)

// EventKind identifies a transport lifecycle or data event.
type EventKind int

// Event kinds
const (
	EventConnected EventKind = iota + 1
	EventMessage
	EventDisconnected
	EventPublishFailed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	case EventPublishFailed:
		return "publish_failed"
	default:
		return "unknown"
	}
}

// Event is one notification from a transport.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error

	// Retrying is set on EventDisconnected when the transport will try to
	// reconnect by itself.
	Retrying bool
}

// Sink receives transport events. It must not block for long.
type Sink func(Event)

// Credentials are handed to the transport at construction. They are never
// logged.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// String redacts the password.
func (c Credentials) String() string {
	pw := ""
	if c.Password != "" {
		pw = "****"
	}
	return fmt.Sprintf("Credentials{ClientID:%s Username:%s Password:%s}", c.ClientID, c.Username, pw)
}

// Transport is one duplex pub/sub link.
type Transport interface {
	// Connect starts the link. It returns after the first attempt has been
	// initiated; success is reported by EventConnected.
	Connect(ctx context.Context) error

	// Subscribe is idempotent per topic.
	Subscribe(ctx context.Context, topics ...string) error

	// Publish is fire-and-forget. Failures detected later arrive as
	// EventPublishFailed.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close releases the link. It is idempotent and safe before Connect.
	Close(ctx context.Context) error
}

// Factory builds a fresh, unconnected transport.
type Factory func(creds Credentials, sink Sink) (Transport, error)

// Kind names a transport implementation.
type Kind string

// Supported transport kinds
const (
	KindMQTT      Kind = "mqtt"
	KindWebsocket Kind = "websocket"
	KindNATS      Kind = "nats"
)

var allowedSchemes = map[Kind][]string{
	KindMQTT:      {"ws", "wss", "tcp", "ssl", "mqtt", "mqtts"},
	KindWebsocket: {"ws", "wss"},
	KindNATS:      {"nats", "tls", "ws", "wss"},
}

// ParseKind validates a configured transport kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := allowedSchemes[k]; !ok {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unknown transport kind %q", errors.ErrInvalidConfig, s),
			"transport", "ParseKind", "parse kind")
	}
	return k, nil
}

// ValidateURL checks that raw is an absolute URL with a scheme the transport
// kind can dial.
func ValidateURL(kind Kind, raw string) error {
	schemes, ok := allowedSchemes[kind]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown transport kind %q", errors.ErrInvalidConfig, kind),
			"transport", "ValidateURL", "check kind")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"transport", "ValidateURL", "parse url")
	}
	if u.Host == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: url %q has no host", errors.ErrInvalidConfig, raw),
			"transport", "ValidateURL", "parse url")
	}

	scheme := strings.ToLower(u.Scheme)
	for _, s := range schemes {
		if s == scheme {
			return nil
		}
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: scheme %q not allowed for %s (want one of %s)",
			errors.ErrInvalidConfig, u.Scheme, kind, strings.Join(schemes, ", ")),
		"transport", "ValidateURL", "check scheme")
}
