package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suhridx/pump-dashboard/device"
	"github.com/Suhridx/pump-dashboard/errors"
)

func TestStore_LastWriteWins(t *testing.T) {
	s := New()
	fragments := []map[device.Domain]json.RawMessage{
		{device.DomainPump: json.RawMessage(`{"pump_state":false}`)},
		{device.DomainSettings: json.RawMessage(`{"mode":"auto"}`)},
		{device.DomainPump: json.RawMessage(`{"pump_state":true}`), device.DomainTimer: json.RawMessage(`[1,2]`)},
		{device.DomainSettings: json.RawMessage(`{"mode":"manual"}`)},
	}

	for _, f := range fragments {
		changed, err := s.ApplyFragment(f)
		require.NoError(t, err)
		assert.True(t, changed)
	}

	want := map[device.Domain]string{
		device.DomainPump:     `{"pump_state":true}`,
		device.DomainSettings: `{"mode":"manual"}`,
		device.DomainTimer:    `[1,2]`,
	}
	snap := s.Snapshot()
	require.Len(t, snap, len(want))
	for d, v := range want {
		assert.JSONEq(t, v, string(snap[d]), "domain %s", d)
	}
}

func TestStore_DomainsAreIndependent(t *testing.T) {
	s := New()
	_, err := s.ApplyFragment(map[device.Domain]json.RawMessage{device.DomainPump: json.RawMessage(`{"pump_state": true}`)})
	require.NoError(t, err)
	_, err = s.ApplyFragment(map[device.Domain]json.RawMessage{device.DomainWireless: json.RawMessage(`{"tank_level": 42}`)})
	require.NoError(t, err)

	pump, ok := s.Get(device.DomainPump)
	require.True(t, ok)
	assert.JSONEq(t, `{"pump_state":true}`, string(pump))

	wireless, ok := s.Get(device.DomainWireless)
	require.True(t, ok)
	assert.JSONEq(t, `{"tank_level":42}`, string(wireless))
}

func TestStore_ReplaceIsWholesale(t *testing.T) {
	s := New()
	_, _ = s.Apply(device.DomainSettings, json.RawMessage(`{"a":1,"b":2}`))
	_, _ = s.Apply(device.DomainSettings, json.RawMessage(`{"c":3}`))

	v, _ := s.Get(device.DomainSettings)
	assert.JSONEq(t, `{"c":3}`, string(v))
}

func TestStore_NullClearsDomain(t *testing.T) {
	s := New()
	_, _ = s.Apply(device.DomainRoutine, json.RawMessage(`{"clock":"12:00"}`))

	changed, err := s.Apply(device.DomainRoutine, json.RawMessage(`null`))
	require.NoError(t, err)
	assert.True(t, changed)

	_, ok := s.Get(device.DomainRoutine)
	assert.False(t, ok)

	changed, err = s.Apply(device.DomainRoutine, json.RawMessage(` null `))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStore_UnknownDomainIgnored(t *testing.T) {
	s := New()
	changed, err := s.Apply(device.Domain("firmware"), json.RawMessage(`{"v":2}`))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, s.Len())
}

func TestStore_InvalidSnapshot(t *testing.T) {
	s := New()
	changed, err := s.ApplyFragment(map[device.Domain]json.RawMessage{
		device.DomainPump:     json.RawMessage(`{broken`),
		device.DomainSchedule: json.RawMessage(`{"slots":[]}`),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.True(t, changed)

	_, ok := s.Get(device.DomainPump)
	assert.False(t, ok)
	_, ok = s.Get(device.DomainSchedule)
	assert.True(t, ok)
}

func TestStore_CopiesInput(t *testing.T) {
	s := New()
	buf := []byte(`{"x":1}`)
	_, _ = s.Apply(device.DomainTimer, buf)
	buf[5] = '9'

	v, _ := s.Get(device.DomainTimer)
	assert.JSONEq(t, `{"x":1}`, string(v))
}
