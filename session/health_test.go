package session

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Suhridx/pump-dashboard/health"
	"github.com/Suhridx/pump-dashboard/testutil"
)

func TestManager_Health(t *testing.T) {
	h := newHarness(t)

	l := h.m.Health()
	assert.Equal(t, "disconnected", l.State)
	assert.True(t, l.Since.IsZero())
	assert.True(t, health.FromLink("session", l).IsUnhealthy())

	tr := h.connect(t)
	tr.EmitMessage("device/status", testutil.PumpState)
	h.barrier(t)

	l = h.m.Health()
	assert.True(t, l.Connected)
	assert.False(t, l.Since.IsZero())
	assert.False(t, l.LastUpdate.IsZero())
	assert.True(t, health.FromLink("session", l).IsHealthy())

	tr.EmitDisconnected(stderrors.New("read: connection reset by peer"), true)
	h.barrier(t)

	l = h.m.Health()
	assert.Equal(t, "reconnecting", l.State)
	assert.True(t, l.Since.IsZero())
	assert.Error(t, l.LastError)
	assert.True(t, health.FromLink("session", l).IsDegraded())
}
