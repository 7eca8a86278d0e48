package admission

import (
	"fmt"
	"time"
)

// Config carries the lease and reaper timings. Build it explicitly; nothing is read from the environment here.
type Config struct {
	// LeaseTimeout is how long a bound lease survives without a renewal.
	LeaseTimeout time.Duration
	// HeartbeatInterval is the cadence clients renew at. It must be shorter than LeaseTimeout.
	HeartbeatInterval time.Duration
	// ExpiryGrace is added to a code's lifetime before the reaper deletes it.
	ExpiryGrace time.Duration
	// SweepInterval is the reaper's timer cadence.
	SweepInterval time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		LeaseTimeout:      300 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		ExpiryGrace:       12 * time.Hour,
		SweepInterval:     60 * time.Second,
	}
}

// Validate checks the timings against each other.
func (c Config) Validate() error {
	switch {
	case c.LeaseTimeout <= 0:
		return fmt.Errorf("%w: lease timeout must be positive", ErrConfig)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrConfig)
	case c.HeartbeatInterval >= c.LeaseTimeout:
		return fmt.Errorf("%w: heartbeat interval %s must be shorter than lease timeout %s", ErrConfig, c.HeartbeatInterval, c.LeaseTimeout)
	case c.ExpiryGrace < 0:
		return fmt.Errorf("%w: expiry grace must not be negative", ErrConfig)
	case c.SweepInterval <= 0:
		return fmt.Errorf("%w: sweep interval must be positive", ErrConfig)
	}
	return nil
}
