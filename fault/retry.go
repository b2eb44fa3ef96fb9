package fault

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls Retry behaviour.
type Policy struct {
	// MaxRetries is the number of retry attempts after the first call.
	// 0 means no retry.
	MaxRetries int
	// BaseBackoff is the wait before the first retry, doubled each
	// attempt. Default: 100ms.
	BaseBackoff time.Duration
}

func (p *Policy) defaults() {
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 100 * time.Millisecond
	}
}

// Retry runs fn, retrying failures with exponential backoff. It respects
// context cancellation between attempts and never retries after a
// CircuitOpenError — the breaker will not change its mind mid-backoff.
func Retry(ctx context.Context, policy Policy, logger *slog.Logger, fn func(context.Context) error) error {
	policy.defaults()

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		var open *CircuitOpenError
		if errors.As(err, &open) {
			return err
		}

		if attempt < policy.MaxRetries {
			wait := policy.BaseBackoff * (1 << uint(attempt))
			if logger != nil {
				logger.WarnContext(ctx, "fault: retrying operation",
					"attempt", attempt+1,
					"max_retries", policy.MaxRetries,
					"backoff_ms", wait.Milliseconds(),
					"error", err)
			}
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}
