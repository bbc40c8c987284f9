package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Suhridx/pump-dashboard/device"
)

func TestTextLog_Scenario(t *testing.T) {
	log := NewTextLog()

	require.True(t, log.Start())
	require.True(t, log.AppendLine("line1"))
	require.True(t, log.AppendLine("line2"))
	require.True(t, log.End())

	snap := log.Snapshot()
	assert.Equal(t, StatusEnd, snap.Status)
	assert.Equal(t, "line1\nline2\n\n\n--- End of Log File ---", Text(snap))
}

func TestAccumulator_StartResetsBuffer(t *testing.T) {
	acc := New[int]()
	acc.Start()
	acc.Append(1)
	acc.Append(2)

	acc.Start()
	assert.Equal(t, 0, acc.Len())
	assert.Equal(t, StatusStart, acc.Status())

	acc.Append(3)
	assert.Equal(t, []int{3}, acc.Snapshot().Items)
}

func TestAccumulator_AppendOutsideTransferIsDropped(t *testing.T) {
	acc := New[int]()
	assert.False(t, acc.Append(1), "append while empty")
	assert.Equal(t, StatusEmpty, acc.Status())
	assert.Equal(t, 0, acc.Len())

	acc.Start()
	acc.Append(7)
	acc.End()

	assert.False(t, acc.Append(8), "append after end")
	snap := acc.Snapshot()
	assert.Equal(t, StatusEnd, snap.Status)
	assert.Equal(t, []int{7}, snap.Items)
}

func TestAccumulator_EndIsIdempotent(t *testing.T) {
	log := NewTextLog()
	log.Start()
	log.AppendLine("only")
	require.True(t, log.End())

	assert.False(t, log.End())
	assert.Equal(t, "only\n\n\n--- End of Log File ---", Text(log.Snapshot()))
}

func TestAccumulator_EndWithoutStart(t *testing.T) {
	log := NewTextLog()
	require.True(t, log.End())

	snap := log.Snapshot()
	assert.Equal(t, StatusEnd, snap.Status)
	assert.Equal(t, "\n\n--- End of Log File ---", Text(snap))
}

func TestAccumulator_Clear(t *testing.T) {
	acc := New[string]()
	assert.False(t, acc.Clear(), "clearing an empty stream changes nothing")

	acc.Start()
	acc.Append("a")
	assert.True(t, acc.Clear())

	snap := acc.Snapshot()
	assert.Equal(t, StatusEmpty, snap.Status)
	assert.NotNil(t, snap.Items)
	assert.Empty(t, snap.Items)
}

func TestAccumulator_ClearDoesNotAffectOtherStream(t *testing.T) {
	text := NewTextLog()
	levels := NewLevelLog()

	text.Start()
	text.AppendLine("x")
	levels.Start()
	levels.Append(record(t, `{"tank_level":1}`))

	text.Clear()
	assert.Equal(t, StatusStart, levels.Status())
	assert.Equal(t, 1, levels.Len())
}

func TestSnapshot_IsolatedFromLaterAppends(t *testing.T) {
	acc := New[int]()
	acc.Start()
	acc.Append(1)
	acc.Append(2)

	snap := acc.Snapshot()
	acc.Append(3)
	acc.Start()
	acc.Append(9)

	assert.Equal(t, StatusStart, snap.Status)
	assert.Equal(t, []int{1, 2}, snap.Items)
	assert.Equal(t, 2, cap(snap.Items))
}

func TestLevelLog_NoTrailer(t *testing.T) {
	levels := NewLevelLog()
	levels.Start()
	rec := record(t, `{"timestamp":"2024-01-01T00:00:00Z","tank_level":55,"res_level":80,"pump_state":"ON"}`)
	levels.Append(rec)
	levels.End()

	snap := levels.Snapshot()
	assert.Equal(t, []device.LevelRecord{rec}, snap.Items)
	assert.True(t, snap.Status.Final())
}

func TestAccumulator_Replace(t *testing.T) {
	levels := NewLevelLog()
	first := record(t, `{"tank_level":1}`)
	src := []device.LevelRecord{first, record(t, `{"tank_level":2}`)}
	levels.Replace(src)
	src[0] = record(t, `{"tank_level":100}`)

	snap := levels.Snapshot()
	assert.Equal(t, StatusEnd, snap.Status)
	assert.Equal(t, first, snap.Items[0])
}

func record(t *testing.T, s string) device.LevelRecord {
	t.Helper()
	rec, err := device.ParseLevelRecord([]byte(s))
	require.NoError(t, err)
	return rec
}

func TestStatus_Text(t *testing.T) {
	for _, s := range []Status{StatusEmpty, StatusStart, StatusEnd} {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var got Status
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("receiving")))
	assert.Equal(t, "status(7)", Status(7).String())
}
