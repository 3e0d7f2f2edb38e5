// Package retry wraps cenkalti/backoff/v4 for the core's "Transient"
// error class: network timeouts, vector DB busy, LLM 5xx, DB lock
// contention, retried with exponential backoff, base 0.5s, factor 2,
// capped at a configured attempt count.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mofoxlab/corebot/pkg/logger"
)

// Config parameterizes the backoff policy. A zero BaseDelay selects
// DefaultConfig as a whole; a zero Multiplier alone falls back to factor 2.
type Config struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
	MaxElapsed  time.Duration
}

// DefaultConfig returns the policy: base 0.5s, factor 2, 5 attempts.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxAttempts: 5,
		MaxElapsed:  30 * time.Second,
	}
}

// Permanent marks err as non-retriable, short-circuiting the backoff loop.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do retries op using exponential backoff until it succeeds, returns a
// Permanent error, exhausts MaxAttempts, or ctx is cancelled. component is
// used only for logging.
func Do(ctx context.Context, cfg Config, component string, op func() error) error {
	if cfg.BaseDelay <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.Multiplier = cfg.Multiplier
	b.MaxElapsedTime = cfg.MaxElapsed

	var policy backoff.BackOff = b
	if cfg.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil {
			logger.WarnCF(component, "transient op failed, retrying", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
		return err
	}, policy)
}
