package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/groupshare/metrics"
)

// RetryPolicy bounds the retry loop of a content store request.
// The delay before retry n (0-based) is BaseDelay * 2^n.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  time.Second,
}

// Validate checks the policy settings.
func (p RetryPolicy) Validate() error {
	if p.BaseDelay <= 0 {
		return errors.New("retry base delay must be positive")
	}
	return nil
}

// Delays returns the backoff intervals the policy will wait between attempts.
func (p RetryPolicy) Delays() []time.Duration {
	delays := make([]time.Duration, 0, p.MaxRetries)
	d := p.BaseDelay
	for i := uint64(0); i < p.MaxRetries; i++ {
		delays = append(delays, d)
		d *= 2
	}
	return delays
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.BaseDelay << 20
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// StatusError is a non-2xx response from the content store.
type StatusError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Op, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Retryable reports whether the status is rate limiting or a server error.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// withRetry runs fn under the policy. fn marks terminal failures with
// backoff.Permanent; everything else is retried until the policy is exhausted,
// after which the last error is returned.
func withRetry[T any](ctx context.Context, p RetryPolicy, op string, log *slog.Logger, fn func() (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		return fn()
	}, p.backOff(ctx), func(err error, next time.Duration) {
		metrics.IncStoreRetry(op)
		log.Warn("Content store request failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", next),
			"err", err)
	})
}
