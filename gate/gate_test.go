package gate

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/metric"
)

type published struct {
	topic   string
	payload string
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, payload: string(payload)})
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGate(t *testing.T, opts ...Option) (*Gate, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	g, err := New(append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return g, clock
}

func TestGate_ForwardsWhileConnected(t *testing.T) {
	g, _ := newTestGate(t)
	pub := &recordingPublisher{}

	req, err := g.Send(context.Background(), true, pub, []byte(`{"key":"pump","name":"pump_state"}`))
	require.NoError(t, err)
	assert.Equal(t, KindPump, req.Kind)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, DefaultTopic, pub.sent[0].topic)
	assert.JSONEq(t, `{"key":"pump","name":"pump_state"}`, pub.sent[0].payload)
}

func TestGate_RejectsWhileDisconnected(t *testing.T) {
	g, _ := newTestGate(t)
	pub := &recordingPublisher{}

	_, err := g.Send(context.Background(), false, pub, []byte(`{"key":"update"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 0, pub.count())

	_, err = g.Send(context.Background(), true, nil, []byte(`{"key":"update"}`))
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestGate_CooldownWindow(t *testing.T) {
	g, clock := newTestGate(t)
	pub := &recordingPublisher{}
	ctx := context.Background()
	payload := []byte(`{"key":"sendlog"}`)

	_, err := g.Send(ctx, true, pub, payload)
	require.NoError(t, err)
	first, ok := g.LastSent(KindSendLog)
	require.True(t, ok)

	clock.Advance(5*time.Minute - time.Nanosecond)
	_, err = g.Send(ctx, true, pub, payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCooldown)

	var cd *CooldownError
	require.True(t, stderrors.As(err, &cd))
	assert.Equal(t, KindSendLog, cd.Kind)
	assert.Equal(t, time.Second, cd.RetryAfter)

	last, _ := g.LastSent(KindSendLog)
	assert.Equal(t, first, last, "rejection must not reset the cooldown clock")

	clock.Advance(time.Nanosecond)
	_, err = g.Send(ctx, true, pub, payload)
	require.NoError(t, err)

	last, _ = g.LastSent(KindSendLog)
	assert.Equal(t, first.Add(5*time.Minute), last)
	assert.Equal(t, 2, pub.count())

	// The window is exact on every later send too, not only the first.
	clock.Advance(5*time.Minute - time.Nanosecond)
	_, err = g.Send(ctx, true, pub, payload)
	assert.ErrorIs(t, err, errors.ErrCooldown)
	assert.Equal(t, 2, pub.count())

	clock.Advance(time.Nanosecond)
	_, err = g.Send(ctx, true, pub, payload)
	require.NoError(t, err)
	assert.Equal(t, 3, pub.count())

	clock.Advance(4 * time.Minute)
	_, err = g.Send(ctx, true, pub, payload)
	assert.ErrorIs(t, err, errors.ErrCooldown)
	assert.True(t, stderrors.As(err, &cd))
	assert.Equal(t, time.Minute, cd.RetryAfter)
}

func TestGate_CooldownKindsAreIndependent(t *testing.T) {
	g, _ := newTestGate(t)
	pub := &recordingPublisher{}
	ctx := context.Background()

	_, err := g.Send(ctx, true, pub, []byte(`{"key":"sendlog"}`))
	require.NoError(t, err)
	_, err = g.Send(ctx, true, pub, []byte(`{"key":"sendLevelLog"}`))
	require.NoError(t, err)
	_, err = g.Send(ctx, true, pub, []byte(`{"key":"sendLevelLog"}`))
	assert.ErrorIs(t, err, errors.ErrCooldown)
}

func TestGate_NoCooldownForOtherKinds(t *testing.T) {
	g, _ := newTestGate(t)
	pub := &recordingPublisher{}

	for i := 0; i < 5; i++ {
		_, err := g.Send(context.Background(), true, pub, []byte(`{"key":"updateServer"}`))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, pub.count())

	_, ok := g.LastSent(KindUpdateServer)
	assert.False(t, ok)
}

func TestGate_DisconnectedDoesNotConsumeCooldown(t *testing.T) {
	g, _ := newTestGate(t)
	pub := &recordingPublisher{}
	ctx := context.Background()

	_, err := g.Send(ctx, false, pub, []byte(`{"key":"sendlog"}`))
	require.Error(t, err)

	_, err = g.Send(ctx, true, pub, []byte(`{"key":"sendlog"}`))
	assert.NoError(t, err)
}

func TestGate_ConfiguredCooldown(t *testing.T) {
	g, clock := newTestGate(t,
		WithCooldown(KindSendLog, time.Minute),
		WithCooldown(KindSendLevelLog, 0),
		WithCooldown("reboot", 10*time.Second),
	)
	pub := &recordingPublisher{}
	ctx := context.Background()

	_, err := g.Send(ctx, true, pub, []byte(`{"key":"sendlog"}`))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = g.Send(ctx, true, pub, []byte(`{"key":"sendlog"}`))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = g.Send(ctx, true, pub, []byte(`{"key":"sendLevelLog"}`))
		require.NoError(t, err)
	}

	_, err = g.Send(ctx, true, pub, []byte(`{"key":"reboot"}`))
	require.NoError(t, err)
	_, err = g.Send(ctx, true, pub, []byte(`{"key":"reboot"}`))
	assert.ErrorIs(t, err, errors.ErrCooldown)

	assert.Equal(t, map[string]time.Duration{KindSendLog: time.Minute, "reboot": 10 * time.Second}, g.Cooldowns())
}

func TestGate_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"pump", `{"key":"pump","name":"pump_state"}`, false},
		{"pump without name", `{"key":"pump"}`, true},
		{"settings with value", `{"key":"settings","name":"max_level","value":90}`, false},
		{"settings without value", `{"key":"settings","name":"reset"}`, false},
		{"settings name not string", `{"key":"settings","name":5}`, true},
		{"timer update", `{"key":"timer_update","index":0,"time":"06:30","duration":15,"enabled":true}`, false},
		{"timer update negative index", `{"key":"timer_update","index":-1,"time":"06:30","duration":15,"enabled":true}`, true},
		{"timer update bad time", `{"key":"timer_update","index":1,"time":"6.30pm","duration":15,"enabled":true}`, true},
		{"timer update missing enabled", `{"key":"timer_update","index":1,"time":"06:30","duration":15}`, true},
		{"firmware trigger", `{"key":"updateTankController"}`, false},
		{"state request", `{"key":"getState"}`, false},
		{"unknown kind passes", `{"key":"calibrate","sensor":"tank"}`, false},
		{"not json", `sendlog`, true},
		{"array", `[{"key":"pump"}]`, true},
		{"null", `null`, true},
		{"missing key", `{"name":"pump_state"}`, true},
		{"empty key", `{"key":""}`, true},
		{"numeric key", `{"key":7}`, true},
	}

	g, _ := newTestGate(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			_, err := g.Send(context.Background(), true, pub, []byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidRequest)
				assert.True(t, errors.IsInvalid(err))
				assert.Equal(t, 0, pub.count())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, pub.count())
		})
	}
}

func TestGate_InvalidBeatsDisconnected(t *testing.T) {
	g, _ := newTestGate(t)
	_, err := g.Send(context.Background(), false, nil, []byte(`{"key":"pump"}`))
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestGate_PublishFailure(t *testing.T) {
	g, _ := newTestGate(t)
	boom := stderrors.New("broker went away")
	pub := &recordingPublisher{err: boom}

	_, err := g.Send(context.Background(), true, pub, []byte(`{"key":"sendlog"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPublishFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errors.IsTransient(err))
}

func TestGate_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	g, _ := newTestGate(t, WithMetrics(registry))
	pub := &recordingPublisher{}
	ctx := context.Background()

	_, _ = g.Send(ctx, true, pub, []byte(`{"key":"sendlog"}`))
	_, _ = g.Send(ctx, true, pub, []byte(`{"key":"sendlog"}`))
	_, _ = g.Send(ctx, false, pub, []byte(`{"key":"update"}`))

	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.requests.WithLabelValues(KindSendLog, "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.requests.WithLabelValues(KindSendLog, "cooldown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.requests.WithLabelValues(KindUpdate, "not_connected")))

	_, err := New(WithMetrics(registry))
	assert.Error(t, err, "registering twice on one registry")
}

func TestGate_Options(t *testing.T) {
	g, err := New(WithTopic("device/request"), WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, "device/request", g.Topic())
	assert.Contains(t, g.schemas, KindTimerUpdate)

	_, err = New(WithTopic(""))
	assert.Error(t, err)
	_, err = New(WithCooldown("", time.Second))
	assert.Error(t, err)
	_, err = New(WithCooldown("x", -time.Second))
	assert.Error(t, err)
	_, err = New(WithClock(nil))
	assert.Error(t, err)
}
