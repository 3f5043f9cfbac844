// Package retry wraps connection acquisition in exponential backoff. Nothing
// else in a migration is retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// maxDelay caps a single wait between attempts.
const maxDelay = 30 * time.Second

// Connect calls fn until it succeeds, retrying at most attempts times with
// exponential backoff starting at delay. Every failure is logged. The error of
// the last attempt is returned wrapped.
func Connect(ctx context.Context, what string, attempts int, delay time.Duration, log *zap.Logger, fn func(context.Context) error) error {
	if attempts < 0 {
		attempts = 0
	}
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	backoff := goretry.WithMaxRetries(uint64(attempts),
		goretry.WithCappedDuration(maxDelay, goretry.NewExponential(delay)))

	try := 0
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		try++
		if err := fn(ctx); err != nil {
			var p *permanentError
			if errors.As(err, &p) {
				return p.err
			}
			log.Warn("connection attempt failed",
				zap.String("target", what),
				zap.Int("attempt", try),
				zap.Int("max_attempts", attempts+1),
				zap.Error(err))
			return goretry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect to %s after %d attempts: %w", what, try, err)
	}
	if try > 1 {
		log.Info("connected", zap.String("target", what), zap.Int("attempt", try))
	}
	return nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Connect gives up at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
