package nats

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/transport"
)

type recorder struct {
	events []transport.Event
}

func (r *recorder) sink(ev transport.Event) { r.events = append(r.events, ev) }

func newTransport(t *testing.T, cfg Config) (*Transport, *recorder) {
	t.Helper()
	rec := &recorder{}
	tr, err := New(cfg, transport.Credentials{ClientID: "pumpview_deadbeef", Username: "u", Password: "p"}, rec.sink)
	require.NoError(t, err)
	return tr, rec
}

func applied(t *testing.T, tr *Transport) nats.Options {
	t.Helper()
	opts := nats.GetDefaultOptions()
	for _, o := range tr.connectionOptions() {
		require.NoError(t, o(&opts))
	}
	return opts
}

func TestTransport_Subject(t *testing.T) {
	tr, _ := newTransport(t, DefaultConfig("nats://localhost:4222"))
	assert.Equal(t, "device.status", tr.Subject("device/status"))
	assert.Equal(t, "user.request", tr.Subject("/user/request/"))

	cfg := DefaultConfig("nats://localhost:4222")
	cfg.SubjectPrefix = "pump"
	tr, _ = newTransport(t, cfg)
	assert.Equal(t, "pump.device.levels", tr.Subject("device/levels"))
}

func TestTransport_ConnectionOptions(t *testing.T) {
	cfg := DefaultConfig("nats://localhost:4222")
	cfg.Reconnect.MaxRetries = 7
	tr, _ := newTransport(t, cfg)

	opts := applied(t, tr)
	assert.Equal(t, "pumpview_deadbeef", opts.Name)
	assert.Equal(t, "u", opts.User)
	assert.Equal(t, "p", opts.Password)
	assert.True(t, opts.AllowReconnect)
	assert.Equal(t, 7, opts.MaxReconnect)
	require.NotNil(t, opts.CustomReconnectDelayCB)
	assert.Equal(t, 2*time.Second, opts.CustomReconnectDelayCB(2))

	assert.False(t, opts.Secure)

	cfg.Reconnect.Enabled = false
	cfg.TLS = &tls.Config{ServerName: "nats.example.com"}
	tr, _ = newTransport(t, cfg)
	opts = applied(t, tr)
	assert.False(t, opts.AllowReconnect)
	assert.True(t, opts.Secure)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "nats.example.com", opts.TLSConfig.ServerName)
}

func TestTransport_Handlers(t *testing.T) {
	tr, rec := newTransport(t, DefaultConfig("nats://localhost:4222"))
	tr.topics["device.status"] = "device/status"

	tr.handleMsg(&nats.Msg{Subject: "device.status", Data: []byte(`{"pump":{}}`)})
	tr.handleDisconnect(nil, stderrors.New("EOF"))
	tr.handleReconnect(&nats.Conn{})
	tr.handleError(nil, nil, stderrors.New("permissions violation"))
	tr.handleClosed(nil)

	require.Len(t, rec.events, 5)
	assert.Equal(t, transport.EventMessage, rec.events[0].Kind)
	assert.Equal(t, "device/status", rec.events[0].Topic)

	assert.Equal(t, transport.EventDisconnected, rec.events[1].Kind)
	assert.True(t, rec.events[1].Retrying)
	assert.ErrorIs(t, rec.events[1].Err, errors.ErrConnectionLost)

	assert.Equal(t, transport.EventConnected, rec.events[2].Kind)
	assert.Equal(t, transport.EventPublishFailed, rec.events[3].Kind)

	assert.Equal(t, transport.EventDisconnected, rec.events[4].Kind)
	assert.False(t, rec.events[4].Retrying)
}

func TestTransport_NotConnected(t *testing.T) {
	tr, rec := newTransport(t, DefaultConfig("nats://localhost:4222"))
	ctx := context.Background()

	assert.ErrorIs(t, tr.Publish(ctx, "user/request", []byte(`{}`)), errors.ErrNotConnected)
	assert.ErrorIs(t, tr.Subscribe(ctx, "device/status"), errors.ErrNotConnected)

	require.NoError(t, tr.Close(ctx))
	require.NoError(t, tr.Close(ctx))
	assert.Error(t, tr.Connect(ctx))

	tr.handleDisconnect(nil, nil)
	assert.Empty(t, rec.events, "no events after close")
}

func TestTransport_ConnectRefused(t *testing.T) {
	cfg := DefaultConfig("nats://127.0.0.1:1")
	cfg.Timeout = 200 * time.Millisecond
	tr, _ := newTransport(t, cfg)

	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestNew_Validation(t *testing.T) {
	sink := func(transport.Event) {}

	_, err := New(DefaultConfig("http://localhost:4222"), transport.Credentials{}, sink)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = New(DefaultConfig("nats://localhost:4222"), transport.Credentials{}, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	tr, err := NewFactory(DefaultConfig("tls://localhost:4222"))(transport.Credentials{}, sink)
	require.NoError(t, err)
	assert.NotNil(t, tr)
}
