package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited marks a provider 429 / quota response.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient marks a provider 5xx or a network timeout.
	ErrTransient = errors.New("transient upstream error")
)

// RateLimited wraps err so that errors.Is(err, ErrRateLimited) holds.
func RateLimited(err error) error {
	return fmt.Errorf("%w: %w", ErrRateLimited, err)
}

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsRetryable reports whether err is worth another attempt after backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// FromStatus classifies err by the HTTP status code a provider answered with.
func FromStatus(code int, err error) error {
	switch {
	case code == 429:
		return RateLimited(err)
	case code >= 500 && code <= 599:
		return Transient(err)
	default:
		return err
	}
}

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool // delay grows linearly with the attempt number

	// Retryable decides whether an error is retried. Nil retries everything.
	Retryable func(error) bool
}

func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err

			if config.Retryable != nil && !config.Retryable(err) {
				return err
			}
			if attempt == config.MaxAttempts {
				return fmt.Errorf("failed after %d attempts: %w", config.MaxAttempts, err)
			}

			if err := Sleep(ctx, BackoffDelay(config.Delay, attempt, config.Backoff)); err != nil {
				return err
			}
			continue
		}
		return nil
	}

	return lastErr
}

// BackoffDelay returns the sleep before the next attempt.
func BackoffDelay(base time.Duration, attempt int, linear bool) time.Duration {
	if !linear || attempt < 1 {
		return base
	}
	return time.Duration(attempt) * base
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
