package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy bounds a retried operation. The wait after failed attempt n
// (0-based) is BaseDelay * 2^n.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, ctx ends or
// the policy runs out of attempts. The last error is returned unwrapped.
func Retry(ctx context.Context, p RetryPolicy, log zerolog.Logger, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, KindCancelled) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		wait := p.delay(attempt)
		log.Warn().Err(err).Int("attempt", attempt+1).Int("of", attempts).Dur("wait", wait).Msg("Attempt failed, retrying")
		if serr := sleepCtx(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
