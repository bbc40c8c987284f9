package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Suhridx/pump-dashboard/transport"
)

// Published is one recorded outbound publish.
type Published struct {
	Topic   string
	Payload []byte
}

// FakeTransport is an in-memory transport.Transport. Tests drive inbound
// traffic with the Emit helpers; everything the session sends is recorded.
// Thread-safe for concurrent use from multiple goroutines.
type FakeTransport struct {
	mu sync.RWMutex

	Creds transport.Credentials
	sink  transport.Sink

	// ConnectErr, SubscribeErr and PublishErr are returned by the matching call.
	ConnectErr   error
	SubscribeErr error
	PublishErr   error

	// AutoConnect emits EventConnected from Connect.
	AutoConnect bool

	connects   int
	closes     int
	closed     bool
	subscribed []string
	published  []Published
	calls      []string
}

// NewFakeTransport returns a transport that reports events to sink.
func NewFakeTransport(creds transport.Credentials, sink transport.Sink) *FakeTransport {
	return &FakeTransport{Creds: creds, sink: sink}
}

// Connect records the call and, with AutoConnect, reports the link as up.
func (f *FakeTransport) Connect(_ context.Context) error {
	f.mu.Lock()
	f.connects++
	f.calls = append(f.calls, "connect")
	err := f.ConnectErr
	auto := f.AutoConnect && err == nil
	f.mu.Unlock()

	if auto {
		go f.EmitConnected()
	}
	return err
}

// Subscribe records topics.
func (f *FakeTransport) Subscribe(ctx context.Context, topics ...string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "subscribe")
	if f.closed {
		return fmt.Errorf("transport is closed")
	}
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.subscribed = append(f.subscribed, topics...)
	return nil
}

// Publish records the payload.
func (f *FakeTransport) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "publish:"+topic)
	if f.closed {
		return fmt.Errorf("transport is closed")
	}
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.published = append(f.published, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Close marks the transport closed. Later emits still reach the sink so
// tests can exercise stale-generation handling.
func (f *FakeTransport) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.closed = true
	f.calls = append(f.calls, "close")
	return nil
}

// Emit hands ev to the sink on the calling goroutine.
func (f *FakeTransport) Emit(ev transport.Event) {
	f.mu.RLock()
	sink := f.sink
	f.mu.RUnlock()
	if sink != nil {
		sink(ev)
	}
}

// EmitConnected reports the link as up.
func (f *FakeTransport) EmitConnected() {
	f.Emit(transport.Event{Kind: transport.EventConnected})
}

// EmitMessage delivers payload on topic.
func (f *FakeTransport) EmitMessage(topic, payload string) {
	f.Emit(transport.Event{Kind: transport.EventMessage, Topic: topic, Payload: []byte(payload)})
}

// EmitDisconnected reports a lost link.
func (f *FakeTransport) EmitDisconnected(err error, retrying bool) {
	f.Emit(transport.Event{Kind: transport.EventDisconnected, Err: err, Retrying: retrying})
}

// Published returns a copy of every recorded publish.
func (f *FakeTransport) Published() []Published {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Published, len(f.published))
	copy(out, f.published)
	return out
}

// Subscribed returns the topics subscribed so far.
func (f *FakeTransport) Subscribed() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.subscribed...)
}

// Calls returns the order of Connect, Subscribe, Publish and Close calls.
func (f *FakeTransport) Calls() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.calls...)
}

// Connects returns how often Connect was called.
func (f *FakeTransport) Connects() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connects
}

// Closes returns how often Close was called.
func (f *FakeTransport) Closes() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closes
}

// IsClosed reports whether Close was called.
func (f *FakeTransport) IsClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// FakeFactory builds FakeTransports and remembers each one in order.
type FakeFactory struct {
	mu sync.Mutex

	// Err fails the next builds.
	Err error
	// Configure runs on every new transport before it is returned.
	Configure func(*FakeTransport)

	built   []*FakeTransport
	created chan *FakeTransport
}

// NewFakeFactory returns an empty factory.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{created: make(chan *FakeTransport, 16)}
}

// Factory satisfies transport.Factory.
func (f *FakeFactory) Factory(creds transport.Credentials, sink transport.Sink) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	tr := NewFakeTransport(creds, sink)
	if f.Configure != nil {
		f.Configure(tr)
	}
	f.built = append(f.built, tr)
	select {
	case f.created <- tr:
	default:
	}
	return tr, nil
}

// Built returns every transport created so far.
func (f *FakeFactory) Built() []*FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeTransport(nil), f.built...)
}

// Last returns the most recent transport, or nil.
func (f *FakeFactory) Last() *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

// Next waits for the next transport to be built.
func (f *FakeFactory) Next(timeout time.Duration) (*FakeTransport, error) {
	select {
	case tr := <-f.created:
		return tr, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no transport built within %s", timeout)
	}
}
