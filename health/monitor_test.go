package health

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_PushedStatus(t *testing.T) {
	m := NewMonitor()
	m.Update("archive", Status{Component: "wrong", Status: StateHealthy})

	got, ok := m.Get("archive")
	require.True(t, ok)
	assert.Equal(t, "archive", got.Component)
	assert.False(t, got.Timestamp.IsZero())

	m.UpdateDegraded("archive", "backfill failed")
	got, _ = m.Get("archive")
	assert.True(t, got.IsDegraded())

	m.Remove("archive")
	_, ok = m.Get("archive")
	assert.False(t, ok)
	assert.Zero(t, m.Count())
}

func TestMonitor_ProbeIsEvaluatedOnRead(t *testing.T) {
	m := NewMonitor()
	var up atomic.Bool
	m.UpdateHealthy("session", "pushed")
	m.Register("session", func() Status {
		if up.Load() {
			return NewHealthy("", "up")
		}
		return NewUnhealthy("", "down")
	})
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get("session")
	require.True(t, ok)
	assert.True(t, got.IsUnhealthy())
	assert.Equal(t, "session", got.Component)

	up.Store(true)
	assert.True(t, m.AggregateHealth("pumpview").IsHealthy())

	m.UpdateUnhealthy("archive", "unreachable")
	all := m.GetAll()
	assert.Len(t, all, 2)
	assert.True(t, m.AggregateHealth("pumpview").IsUnhealthy())
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	m.Register("session", func() Status { return NewHealthy("", "") })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.UpdateHealthy("archive", "ok")
		}()
		go func() {
			defer wg.Done()
			_ = m.AggregateHealth("pumpview")
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, m.Count())
}
