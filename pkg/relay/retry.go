package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy bounds how often a failed request is reissued. Only failures
// that can plausibly resolve on their own (network, timeout, 5xx) are retried;
// unauthorized, not-found and validation failures fail on the first attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// BaseDelay is the backoff for the first retry; attempt n waits
	// BaseDelay * 2^(n-1), capped at MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when the config leaves retry
// settings zero.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   300 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// normalized fills zero fields with defaults so a partially configured policy
// behaves sensibly.
func (p *RetryPolicy) normalized() RetryPolicy {
	out := *p
	def := DefaultRetryPolicy()

	if out.MaxAttempts < 1 {
		out.MaxAttempts = def.MaxAttempts
	}

	if out.BaseDelay <= 0 {
		out.BaseDelay = def.BaseDelay
	}

	if out.MaxDelay <= 0 {
		out.MaxDelay = def.MaxDelay
	}

	return out
}

// Do runs op until it succeeds, fails terminally, or attempts are exhausted,
// in which case the last observed error is returned. Backoff sleeps honor
// context cancellation.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	policy := p.normalized()

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		body, err := op(ctx)
		if err == nil {
			return body, nil
		}

		lastErr = err

		if !IsRetryable(err) || attempt == policy.MaxAttempts {
			return nil, lastErr
		}

		delay := retryablehttp.DefaultBackoff(policy.BaseDelay, policy.MaxDelay, attempt-1, nil)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, NewAPIError(ErrorKindNetwork, 0, "request canceled during backoff", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, lastErr
}

// Retryable reports whether the policy applies to a request at all. Creates
// are not idempotent: a retried POST can duplicate the resource server-side,
// so they only retry when the descriptor opts in.
func (p *RetryPolicy) Retryable(d *Descriptor) bool {
	if d.Method == http.MethodPost {
		return d.IdempotentWrite
	}

	return true
}
