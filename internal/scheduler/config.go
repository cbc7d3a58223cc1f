package scheduler

import (
	"strings"
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	// JobTimeout bounds one run of a single job.
	JobTimeout time.Duration
	// MaxRelayBatches caps how many outbox batches one tick drains.
	MaxRelayBatches int
	// EnabledJobs restricts the run to the named jobs. Empty runs all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     30 * time.Second,
		BatchSize:       50,
		JobTimeout:      30 * time.Second,
		MaxRelayBatches: 10,
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
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MaxRelayBatches <= 0 {
		c.MaxRelayBatches = defaults.MaxRelayBatches
	}
	return c
}

func (c Config) isJobEnabled(name string) bool {
	if len(c.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range c.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), name) {
			return true
		}
	}
	return false
}
