package upstream

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds how often and how long a failed upstream call is
// retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseWait    time.Duration
	MaxWait     time.Duration
}

// PolicyFromConfig derives the retry policy from upstream configuration.
func PolicyFromConfig(maxAttempts int, baseWait, maxWait time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseWait <= 0 {
		baseWait = time.Second
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return RetryPolicy{MaxAttempts: maxAttempts, BaseWait: baseWait, MaxWait: maxWait}
}

// Delay returns the wait before the given retry. Attempt 1 is the first
// retry: base, then doubling, capped at MaxWait.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseWait << (attempt - 1)
	if d > p.MaxWait || d <= 0 {
		return p.MaxWait
	}
	return d
}

// StreamWithRetry opens the upstream stream, retrying transient failures
// with exponential backoff. The loop is deliberately flat: cancellation is
// checked before every attempt and during every backoff wait, so a caller
// that disconnects never triggers another attempt. Client errors and
// cancellations return immediately; after the attempt budget is spent the
// last transient error is returned.
func (c *Client) StreamWithRetry(ctx context.Context, req *Request, policy RetryPolicy, onRetry func(attempt int, err error)) (*Stream, error) {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stream, err := c.Stream(ctx, req)
		if err == nil {
			return stream, nil
		}
		if IsCancellation(err) || IsClientError(err) {
			return nil, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		c.logger.Warn("upstream call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}
