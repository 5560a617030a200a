package scheduler

import (
	"time"
)

// Config controls the reconciliation sweep interval and batch size.
type Config struct {
	RunInterval time.Duration
	BatchSize   int

	// MarkerAge is how old a success marker must be before the sweep treats
	// its missing order as a real gap rather than an in-flight finalization.
	MarkerAge time.Duration

	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		MarkerAge:   5 * time.Minute,
		LockTTL:     2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MarkerAge <= 0 {
		c.MarkerAge = defaults.MarkerAge
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
