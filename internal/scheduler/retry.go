package scheduler

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultConflictRetries = 3

// retryConflicts runs op until it succeeds, returns a permanent error, or
// has been retried retries times. op wraps non-retryable errors with
// backoff.Permanent.
func retryConflicts(ctx context.Context, retries int, op func() error) error {
	if retries < 0 {
		retries = 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 250 * time.Millisecond
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
	return backoff.Retry(op, b)
}
