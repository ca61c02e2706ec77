package agentgateway

import (
	"context"
	"errors"
	"strings"
	"time"
)

// AttemptState tracks one operation's retry count against a ceiling, the
// in-memory equivalent of the teacher's RetryState: same Count/MaxRetries/
// CanRetry shape, but scoped to a single process lifetime rather than
// persisted to a state file, since Reviewer retries never need to survive a
// crash mid-Spec.
type AttemptState struct {
	Count      int
	MaxRetries int
}

// CanRetry reports whether another attempt is permitted.
func (s *AttemptState) CanRetry() bool { return s.Count < s.MaxRetries }

// Increment records a failed attempt.
func (s *AttemptState) Increment() { s.Count++ }

// Reset clears the attempt count after a successful attempt.
func (s *AttemptState) Reset() { s.Count = 0 }

// ErrorKind classifies an error from an agent invocation for retry purposes:
// only RateLimit is ever retried, the rest propagate after exactly one call.
type ErrorKind string

const (
	ErrKindRateLimit  ErrorKind = "rate_limit"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindParseError ErrorKind = "parse_error"
	ErrKindUnknown    ErrorKind = "unknown"
)

// rateLimitMarkers are substrings observed in agent CLI/HTTP error text that
// indicate a rate limit rather than a hard failure.
var rateLimitMarkers = []string{"rate limit", "rate_limit", "429", "too many requests"}

// timeoutMarkers indicate the failure was a deadline or connection hiccup.
// These are classified, not retried: only a rate limit earns another attempt.
var timeoutMarkers = []string{"timeout", "deadline exceeded", "connection reset", "temporarily unavailable", "eof", "broken pipe"}

// parseErrorMarkers indicate the failure was malformed output rather than a
// transport or quota problem.
var parseErrorMarkers = []string{"parse failed", "parseable", "unmarshal", "invalid json", "malformed"}

// DetectRateLimit reports whether err's text matches a known rate-limit
// signature.
func DetectRateLimit(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), rateLimitMarkers)
}

// ClassifyError buckets an agent-invocation error for RetryWithBackoff.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrKindUnknown
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, rateLimitMarkers) {
		return ErrKindRateLimit
	}
	if containsAny(msg, timeoutMarkers) {
		return ErrKindTimeout
	}
	if containsAny(msg, parseErrorMarkers) {
		return ErrKindParseError
	}
	return ErrKindUnknown
}

func containsAny(haystack string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}

// ErrRetriesExhausted is returned by RetryWithBackoff once the first call
// and all MaxRetries retries have failed.
var ErrRetriesExhausted = errors.New("agentgateway: retries exhausted")

// BackoffOptions configures RetryWithBackoff.
type BackoffOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultBackoffOptions mirrors config.Configuration.MaxRetries' default.
func DefaultBackoffOptions() BackoffOptions {
	return BackoffOptions{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// RetryWithBackoff invokes fn until it succeeds, a non-rate-limit error is
// classified, the context is cancelled, or MaxRetries retries are spent
// (at most MaxRetries+1 calls in all).
// Delay doubles per attempt, capped at MaxDelay. Only ErrKindRateLimit is
// retried; every other kind propagates after exactly one call.
func RetryWithBackoff(ctx context.Context, opts BackoffOptions, fn func(ctx context.Context) error) error {
	state := &AttemptState{MaxRetries: opts.MaxRetries}
	delay := opts.BaseDelay

	var lastErr error
	for {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ClassifyError(lastErr) != ErrKindRateLimit {
			return lastErr
		}
		if !state.CanRetry() {
			return errors.Join(ErrRetriesExhausted, lastErr)
		}
		state.Increment()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}
