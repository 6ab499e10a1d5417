package usecase

import (
	"context"
	"errors"
	"time"
)

// ErrRetryExhausted is returned when a retry policy hits its max wait
// without the done predicate succeeding.
var ErrRetryExhausted = errors.New("retry: max wait exceeded")

// RetryPolicy is a generic retry-with-interval loop. It replaces ad hoc
// sleep loops inline with business logic: liquidation retries, boot-time
// reconciliation and similar bounded waits all share it.
type RetryPolicy struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// Do calls fn until it reports done, the context is cancelled, or MaxWait
// elapses. fn runs once immediately; attempts are spaced by Interval.
// The last error from fn is wrapped into the exhaustion error.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(p.MaxWait)
	var lastErr error

	for {
		done, err := fn(ctx)
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		if time.Now().Add(p.Interval).After(deadline) {
			if lastErr != nil {
				return errors.Join(ErrRetryExhausted, lastErr)
			}
			return ErrRetryExhausted
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
}
