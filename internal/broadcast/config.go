// Package broadcast implements the composition and delivery engine that
// turns one approved moment into attributed outbound messages, resolves
// and bounds its audience, partitions it into rate-limited batches,
// dispatches them concurrently with retry, and keeps an idempotent,
// resumable progress record.
package broadcast

import "time"

// Config carries every tunable of the engine. It is built once in main
// from the environment and threaded into the coordinator at construction;
// nothing in this package reads ambient state.
type Config struct {
	// BatchSize is the fixed partition size for delivery batches.
	BatchSize int

	// MaxAttempts is the total number of send attempts per message,
	// including the first (so 3 means up to 2 retries).
	MaxAttempts int

	// RetryBase is the backoff delay before the first retry; it doubles
	// per attempt, with random jitter added on top.
	RetryBase time.Duration

	// RecipientRate bounds sends per second within one batch.
	RecipientRate float64

	// DefaultBlastRadius caps the audience of moments whose creator has
	// no (valid) authority profile.
	DefaultBlastRadius int

	// HighAuthorityLevel is the ordinal at or above which a creator gets
	// the official-announcement template variant.
	HighAuthorityLevel int

	// PublicBaseURL is the base of canonical moment links.
	PublicBaseURL string

	// StaleAfter is how long a broadcast may sit non-terminal before the
	// sweeper considers it stuck.
	StaleAfter time.Duration
}

// DefaultConfig returns the engine defaults used when a knob is unset.
func DefaultConfig() Config {
	return Config{
		BatchSize:          50,
		MaxAttempts:        3,
		RetryBase:          200 * time.Millisecond,
		RecipientRate:      10,
		DefaultBlastRadius: 100,
		HighAuthorityLevel: 60,
		PublicBaseURL:      "https://moments.local",
		StaleAfter:         15 * time.Minute,
	}
}

// withDefaults fills zero-valued knobs from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RecipientRate <= 0 {
		c.RecipientRate = d.RecipientRate
	}
	if c.DefaultBlastRadius <= 0 {
		c.DefaultBlastRadius = d.DefaultBlastRadius
	}
	if c.HighAuthorityLevel <= 0 {
		c.HighAuthorityLevel = d.HighAuthorityLevel
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = d.PublicBaseURL
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	return c
}
