package llm

import (
	"context"
	"errors"
	"time"
)

const (
	retryBaseDelay   = 250 * time.Millisecond
	retryFactor      = 2
	retryMaxAttempts = 3
)

// delayForAttempt returns the backoff before retry attempt n (1-based count
// of completed attempts): 250ms, 500ms.
func delayForAttempt(completed int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < completed; i++ {
		d *= retryFactor
	}
	return d
}

// executeWithRetry performs up to retryMaxAttempts calls against one adapter,
// backing off exponentially between attempts. Only retryable ProviderError
// kinds are retried; a Retry-After hint extends the computed delay.
func executeWithRetry(ctx context.Context, a Adapter, req Request) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		resp, err := a.Execute(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var pe *ProviderError
		if !errors.As(err, &pe) || !pe.Retryable() || attempt == retryMaxAttempts {
			return Response{}, err
		}
		delay := delayForAttempt(attempt)
		if pe.RetryAfter != nil && *pe.RetryAfter > delay {
			delay = *pe.RetryAfter
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return Response{}, err
		}
	}
	return Response{}, lastErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
