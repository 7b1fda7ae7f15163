package providers

import (
	"context"
	"errors"
	"time"
)

// rateLimitError marks an HTTP 429. It is the only error class worth
// retrying: batch submission is a once-a-day event, so anything else
// should surface immediately.
type rateLimitError struct{}

func (e *rateLimitError) Error() string { return "rate limited" }

type authError struct {
	message string
}

func (e *authError) Error() string {
	return "authentication error: " + e.message
}

// IsAuthError reports whether err is a credential failure (HTTP 401
// or 403 from a provider). Callers map these to a distinct exit code.
func IsAuthError(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

// retryWithBackoff retries fn on rate limiting with exponential
// backoff, honoring ctx between attempts. Auth and other errors are
// returned as-is on the first occurrence.
func retryWithBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	backoff := time.Second
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var rle *rateLimitError
		if !errors.As(lastErr, &rle) || attempt >= maxRetries {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
