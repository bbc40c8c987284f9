// Package stream implements the start/accumulate/end protocol shared by the
// text-log and level-log transfers.
//
// An Accumulator is not safe for concurrent use. The session dispatcher is its
// only writer; readers receive immutable Snapshots.
package stream

import (
	"fmt"
)

// Status is the externally visible state of a stream.
type Status int

// Stream states. Receiving is Start with a non-empty buffer.
const (
	StatusEmpty Status = iota
	StatusStart
	StatusEnd
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusStart:
		return "start"
	case StatusEnd:
		return "end"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "empty", "":
		*s = StatusEmpty
	case "start":
		*s = StatusStart
	case "end":
		*s = StatusEnd
	default:
		return fmt.Errorf("unknown stream status %q", b)
	}
	return nil
}

// Final reports whether the buffer may be treated as complete.
func (s Status) Final() bool {
	return s == StatusEnd
}

// Snapshot is a read-only view of an Accumulator at one point in time.
// Items shares storage with the accumulator but is capacity-clipped, so later
// appends never become visible through it.
type Snapshot[T any] struct {
	Status Status
	Items  []T
}

// Accumulator buffers one chunked transfer.
type Accumulator[T any] struct {
	status  Status
	items   []T
	trailer *T
}

// Option configures an Accumulator.
type Option[T any] func(*Accumulator[T])

// WithTrailer appends item to the buffer when the stream ends.
func WithTrailer[T any](item T) Option[T] {
	return func(a *Accumulator[T]) {
		a.trailer = &item
	}
}

// New returns an empty accumulator.
func New[T any](opts ...Option[T]) *Accumulator[T] {
	a := &Accumulator[T]{items: []T{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start discards any buffered items and begins a new transfer. A repeated
// start mid-transfer restarts it.
func (a *Accumulator[T]) Start() bool {
	a.items = []T{}
	a.status = StatusStart
	return true
}

// Append adds one chunk. It returns false, leaving the buffer untouched, when
// no transfer is active.
func (a *Accumulator[T]) Append(item T) bool {
	if a.status != StatusStart {
		return false
	}
	a.items = append(a.items, item)
	return true
}

// End completes the transfer. Ending an already ended stream is a no-op.
// Ending an empty stream marks it ended so consumers stop waiting.
func (a *Accumulator[T]) End() bool {
	if a.status == StatusEnd {
		return false
	}
	a.status = StatusEnd
	if a.trailer != nil {
		a.items = append(a.items, *a.trailer)
	}
	return true
}

// Clear resets the stream to empty. It reports whether anything changed.
func (a *Accumulator[T]) Clear() bool {
	changed := a.status != StatusEmpty || len(a.items) > 0
	a.items = []T{}
	a.status = StatusEmpty
	return changed
}

// Replace loads a complete buffer from elsewhere, leaving the stream ended.
func (a *Accumulator[T]) Replace(items []T) {
	a.items = make([]T, len(items))
	copy(a.items, items)
	a.status = StatusEnd
}

// Status returns the current state.
func (a *Accumulator[T]) Status() Status {
	return a.status
}

// Len returns the number of buffered items, trailer included.
func (a *Accumulator[T]) Len() int {
	return len(a.items)
}

// Snapshot returns the current state without copying the buffer.
func (a *Accumulator[T]) Snapshot() Snapshot[T] {
	n := len(a.items)
	return Snapshot[T]{Status: a.status, Items: a.items[:n:n]}
}
