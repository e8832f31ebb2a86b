package dberr

import (
	"context"
	"time"

	"github.com/writeflow/writeflow-backend/internal/logger"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 5 * time.Second
)

// RetryPolicy governs WithRetry. Backoff is linear: attempt×Base.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Base <= 0 {
		p.Base = DefaultBackoffBase
	}
	return p
}

// WithRetry runs op, retrying KindRetryable failures with linear backoff and
// logging each delay. KindIgnorable failures resolve to success immediately.
// Any other failure (and retry exhaustion) returns the last error unchanged so
// the caller keeps the typed cause.
func WithRetry(ctx context.Context, log *logger.Logger, policy RetryPolicy, op func() error) error {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := op()
		switch Classify(err) {
		case KindNone:
			return nil
		case KindIgnorable:
			if log != nil {
				log.Warn("Ignorable storage error, treating as success", "error", err)
			}
			return nil
		case KindRetryable:
			lastErr = err
			if attempt == policy.MaxAttempts {
				break
			}
			delay := time.Duration(attempt) * policy.Base
			if log != nil {
				log.Warn("Transient storage error, retrying",
					"attempt", attempt,
					"max_attempts", policy.MaxAttempts,
					"delay", delay.String(),
					"error", err,
				)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		default:
			return err
		}
		break
	}
	return lastErr
}
