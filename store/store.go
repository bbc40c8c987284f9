// Package store holds the latest snapshot for each device domain.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Suhridx/pump-dashboard/device"
	"github.com/Suhridx/pump-dashboard/errors"
)

// Store maps each known domain to its last received snapshot. Snapshots are
// opaque JSON and always replaced wholesale. Not safe for concurrent use.
type Store struct {
	values map[device.Domain]json.RawMessage
}

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[device.Domain]json.RawMessage)}
}

var nullValue = []byte("null")

// Apply replaces the snapshot for d. A JSON null removes it. It reports
// whether the store was written; an identical snapshot still counts, since
// the device has confirmed it.
func (s *Store) Apply(d device.Domain, value json.RawMessage) (bool, error) {
	if _, ok := device.ParseDomain(string(d)); !ok {
		return false, nil
	}

	value = bytes.TrimSpace(value)
	if !json.Valid(value) {
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: domain %s", errors.ErrInvalidData, d),
			"Store", "Apply", "validate snapshot")
	}

	if bytes.Equal(value, nullValue) {
		if _, ok := s.values[d]; !ok {
			return false, nil
		}
		delete(s.values, d)
		return true, nil
	}

	// the raw message may alias a transport buffer
	owned := make(json.RawMessage, len(value))
	copy(owned, value)
	s.values[d] = owned
	return true, nil
}

// ApplyFragment applies every domain in fragment. Domains are applied
// independently; an invalid one does not block the others.
func (s *Store) ApplyFragment(fragment map[device.Domain]json.RawMessage) (bool, error) {
	var (
		changed  bool
		firstErr error
	)
	for _, d := range device.Domains() {
		value, ok := fragment[d]
		if !ok {
			continue
		}
		c, err := s.Apply(d, value)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		changed = changed || c
	}
	return changed, firstErr
}

// Get returns the snapshot for d, or false when none has arrived.
func (s *Store) Get(d device.Domain) (json.RawMessage, bool) {
	v, ok := s.values[d]
	return v, ok
}

// Snapshot returns a copy of the domain map. The raw values are shared and
// must not be modified.
func (s *Store) Snapshot() map[device.Domain]json.RawMessage {
	out := make(map[device.Domain]json.RawMessage, len(s.values))
	for d, v := range s.values {
		out[d] = v
	}
	return out
}

// Len returns the number of populated domains.
func (s *Store) Len() int {
	return len(s.values)
}
