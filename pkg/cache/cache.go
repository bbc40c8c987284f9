package cache

import (
	"github.com/Suhridx/pump-dashboard/errors"
)

// Cache is the read/write surface callers depend on.
type Cache[V any] interface {
	// Get returns the value and true when key is present and fresh.
	Get(key string) (V, bool)

	// Set stores value under key. It returns true when a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes key. It returns true when the key existed.
	Delete(key string) (bool, error)

	// Clear removes every entry.
	Clear()

	// Size returns the number of stored entries, fresh or not yet purged.
	Size() int

	// Stats returns the running statistics.
	Stats() *Statistics
}

// EvictCallback is called when an entry expires or is removed.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
