// Package retry implements bounded exponential backoff for the
// transient I/O failures named in spec.md §7, adapted from the
// teacher's own internal/retry package.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/neur0map/yinx/internal/errs"
)

// Config controls a retry sequence.
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// DefaultConfig is the backoff used for blob and metadata store I/O:
// three attempts, starting at 100ms, capped at 2s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.2,
	}
}

// Operation is a unit of retryable work.
type Operation func(ctx context.Context) error

// Do runs op up to cfg.MaxAttempts times, retrying only on errors tagged
// errs.Transient, with jittered exponential backoff between attempts. A
// non-transient error, or context cancellation, returns immediately.
func Do(ctx context.Context, cfg Config, op Operation) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errs.Cancelledf("retry.Do", "context cancelled after %d attempts: %v", attempt-1, err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errs.Is(err, errs.Transient) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := jitter(delay, cfg.RandomizeFactor)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return errs.Cancelledf("retry.Do", "context cancelled while waiting to retry: %v", ctx.Err())
		}
		delay = nextDelay(delay, cfg)
	}
	return lastErr
}

func nextDelay(delay time.Duration, cfg Config) time.Duration {
	next := time.Duration(float64(delay) * cfg.Multiplier)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func jitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	delta := float64(delay) * factor
	offset := (rand.Float64()*2 - 1) * delta
	result := float64(delay) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(math.Round(result))
}
