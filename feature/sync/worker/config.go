package worker

// Config holds configuration for the background worker pool.
type Config struct {
	// Concurrency is the number of concurrent batch consumers.
	Concurrency int `mapstructure:"concurrency" default:"4"`
	// RateLimit is the number of jobs started per window, 0 disables.
	RateLimit int `mapstructure:"rate_limit" default:"10"`
	// RateWindowSeconds is the rate limit window.
	RateWindowSeconds int `mapstructure:"rate_window_seconds" default:"1"`
	// MaxAttempts bounds retries of a failing batch before it is marked
	// failed for good.
	MaxAttempts int `mapstructure:"max_attempts" default:"5"`
	// BackoffBaseSeconds is the first retry delay; it doubles per attempt.
	BackoffBaseSeconds int `mapstructure:"backoff_base_seconds" default:"2"`
	// BackoffMaxSeconds caps the retry delay.
	BackoffMaxSeconds int `mapstructure:"backoff_max_seconds" default:"60"`
	// PollIntervalMS is the idle sleep between dequeue attempts.
	PollIntervalMS int `mapstructure:"poll_interval_ms" default:"500"`
	// LockTTLSeconds is the lifetime of the per-batch claim lock.
	LockTTLSeconds int `mapstructure:"lock_ttl_seconds" default:"300"`
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBaseSeconds <= 0 {
		c.BackoffBaseSeconds = 2
	}
	if c.BackoffMaxSeconds <= 0 {
		c.BackoffMaxSeconds = 60
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = 500
	}
	if c.RateWindowSeconds <= 0 {
		c.RateWindowSeconds = 1
	}
	if c.LockTTLSeconds <= 0 {
		c.LockTTLSeconds = 300
	}
	return c
}
