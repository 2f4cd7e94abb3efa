package anthropicengine

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

const (
	defaultRetryMaxRetries = 3
	defaultRetryBaseDelay  = 300 * time.Millisecond
	defaultRetryMaxDelay   = 5 * time.Second
)

// RetryPolicy configures backoff behavior for transport-level failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// normalizeRetryPolicy fills unset retry settings with defaults.
// A negative MaxRetries explicitly disables retries.
func normalizeRetryPolicy(policy RetryPolicy) RetryPolicy {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	} else if policy.MaxRetries == 0 {
		policy.MaxRetries = defaultRetryMaxRetries
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultRetryBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultRetryMaxDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	return policy
}

// isRetryableAPIError reports whether an SDK error is worth retrying:
// rate limits, server errors, and transport failures.
func isRetryableAPIError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// backoffDelay returns exponential backoff with jitter for a retry attempt.
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(delay) * jitter)
}

// sleepContext waits for delay unless the context is cancelled first.
func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
