// Package netretry retries registry and chart repository requests that fail
// with transient network errors.
package netretry

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// httpStatusCodePattern matches HTTP 5xx status codes at word boundaries
// to avoid false positives on port numbers like ":5000".
var httpStatusCodePattern = regexp.MustCompile(`\b50[0-4]\b`)

// textPatterns are HTTP 5xx status texts and TCP-level transient failures.
var textPatterns = []string{
	"Internal Server Error", "Bad Gateway",
	"Service Unavailable", "Gateway Timeout",
	"connection reset by peer", "connection refused",
	"i/o timeout", "TLS handshake timeout",
	"unexpected EOF", "no such host",
}

type temporary interface {
	Temporary() bool
}

// IsRetryable returns true if the error indicates a transient network error
// that should be retried. Errors exposing Temporary() (as registry transport
// errors do) are trusted; otherwise the message is matched against known
// transient failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}

	errMsg := err.Error()

	for _, pattern := range textPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return httpStatusCodePattern.MatchString(errMsg)
}

// ExponentialDelay returns the delay for the given retry attempt
// using the formula min(baseWait * 2^(attempt-1), maxWait).
func ExponentialDelay(attempt int, baseWait, maxWait time.Duration) time.Duration {
	return min(baseWait*time.Duration(1<<(attempt-1)), maxWait)
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	BaseWait time.Duration
	MaxWait  time.Duration
}

// DefaultPolicy retries three times starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseWait: 500 * time.Millisecond, MaxWait: 5 * time.Second}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error is returned.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	attempts := max(policy.Attempts, 1)

	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(ExponentialDelay(attempt, policy.BaseWait, policy.MaxWait))

		select {
		case <-ctx.Done():
			timer.Stop()

			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}

	return err
}
