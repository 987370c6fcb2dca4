package retry

import (
	"context"
	"math"
	"time"

	"github.com/AJM432/racing/pkg/apperr"
)

// Func is one attempt of a retried operation
type Func func(ctx context.Context) error

// Classifier reports whether an error is worth another attempt
type Classifier func(error) bool

// Options configures Do
type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Classifier      Classifier

	// OnRetry is called before waiting for the next attempt
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Transient retries everything except classified caller errors (validation, not found, decode)
func Transient(err error) bool {
	return !apperr.IsPermanent(err)
}

// DefaultOptions returns the options used for event publishing and startup connections
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Classifier:      Transient,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, attempts run out or ctx is done
func Do(ctx context.Context, fn Func, opts Options) error {
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if opts.Classifier != nil && !opts.Classifier(err) {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		wait := Backoff(attempt, opts)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// Backoff returns the wait after the given attempt number, capped at MaxInterval
func Backoff(attempt int, opts Options) time.Duration {
	if attempt <= 1 {
		return capped(opts.InitialInterval, opts)
	}

	interval := float64(opts.InitialInterval) * math.Pow(opts.Multiplier, float64(attempt-1))
	if interval > float64(opts.MaxInterval) {
		return opts.MaxInterval
	}
	return time.Duration(interval)
}

func capped(d time.Duration, opts Options) time.Duration {
	if opts.MaxInterval > 0 && d > opts.MaxInterval {
		return opts.MaxInterval
	}
	return d
}
