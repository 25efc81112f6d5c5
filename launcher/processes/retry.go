package processes

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts       = 30
	defaultPerAttemptTimeout = 1 * time.Second
	defaultInterAttemptDelay = 1 * time.Second
)

// RetryPolicy bounds a readiness check: at most MaxAttempts tries, each
// limited to PerAttemptTimeout, with InterAttemptDelay between them.
// InitialDelay is waited once before the first attempt.
type RetryPolicy struct {
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	InterAttemptDelay time.Duration
	InitialDelay      time.Duration
}

// DefaultRetryPolicy allows roughly a minute for the backend to come up.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       defaultMaxAttempts,
		PerAttemptTimeout: defaultPerAttemptTimeout,
		InterAttemptDelay: defaultInterAttemptDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.PerAttemptTimeout <= 0 {
		p.PerAttemptTimeout = defaultPerAttemptTimeout
	}
	if p.InterAttemptDelay < 0 {
		p.InterAttemptDelay = 0
	}
	return p
}

// Abort wraps err so that Do stops retrying and returns it immediately.
func Abort(err error) error {
	return backoff.Permanent(err)
}

// Do calls attempt until it returns nil, returns an error wrapped with Abort,
// the attempts run out, or ctx is cancelled. Cancellation is observed between
// attempts and cuts the current attempt short. It returns how many attempts
// were made and the final error, which is ctx.Err() after cancellation.
func (p RetryPolicy) Do(ctx context.Context, attempt func(ctx context.Context) error) (int, error) {
	p = p.withDefaults()

	if p.InitialDelay > 0 {
		timer := time.NewTimer(p.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}

	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, p.PerAttemptTimeout)
		defer cancel()
		return struct{}{}, attempt(attemptCtx)
	}

	budget := time.Duration(p.MaxAttempts)*(p.PerAttemptTimeout+p.InterAttemptDelay) + time.Minute
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.InterAttemptDelay)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(budget),
	)
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return attempts, ctxErr
	}
	return attempts, err
}
