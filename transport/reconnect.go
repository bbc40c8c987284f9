package transport

import (
	"fmt"
	"time"

	"github.com/Suhridx/pump-dashboard/errors"
)

// Reconnect holds the reconnection policy a transport applies after it has
// been connected once.
type Reconnect struct {
	Enabled         bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries" toml:"max_retries"` // 0 = unlimited
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval" toml:"max_interval"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier" toml:"multiplier"`
}

// DefaultReconnect retries forever, backing off from 1s to 30s.
func DefaultReconnect() Reconnect {
	return Reconnect{
		Enabled:         true,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// Validate checks the intervals are usable.
func (r Reconnect) Validate() error {
	if !r.Enabled {
		return nil
	}
	switch {
	case r.MaxRetries < 0:
		return errors.WrapInvalid(fmt.Errorf("%w: max_retries %d", errors.ErrInvalidConfig, r.MaxRetries),
			"Reconnect", "Validate", "check retries")
	case r.InitialInterval <= 0:
		return errors.WrapInvalid(fmt.Errorf("%w: initial_interval must be positive", errors.ErrInvalidConfig),
			"Reconnect", "Validate", "check intervals")
	case r.MaxInterval < r.InitialInterval:
		return errors.WrapInvalid(fmt.Errorf("%w: max_interval below initial_interval", errors.ErrInvalidConfig),
			"Reconnect", "Validate", "check intervals")
	case r.Multiplier < 1:
		return errors.WrapInvalid(fmt.Errorf("%w: multiplier %.2f", errors.ErrInvalidConfig, r.Multiplier),
			"Reconnect", "Validate", "check multiplier")
	}
	return nil
}

// Allowed reports whether attempt (1-based) may run.
func (r Reconnect) Allowed(attempt int) bool {
	if !r.Enabled {
		return false
	}
	return r.MaxRetries == 0 || attempt <= r.MaxRetries
}

// Delay returns the wait before attempt (1-based): initial * multiplier^(attempt-1),
// capped at MaxInterval.
func (r Reconnect) Delay(attempt int) time.Duration {
	delay := r.InitialInterval
	for j := 1; j < attempt; j++ {
		delay = time.Duration(float64(delay) * r.Multiplier)
		if delay >= r.MaxInterval {
			return r.MaxInterval
		}
	}
	if delay > r.MaxInterval {
		return r.MaxInterval
	}
	return delay
}
