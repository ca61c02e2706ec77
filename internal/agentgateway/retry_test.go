package agentgateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptStateCanRetry(t *testing.T) {
	cases := map[string]struct {
		count      int
		maxRetries int
		want       bool
	}{
		"below ceiling":  {count: 1, maxRetries: 3, want: true},
		"at ceiling":     {count: 3, maxRetries: 3, want: false},
		"zero ceiling":   {count: 0, maxRetries: 0, want: false},
		"fresh state":    {count: 0, maxRetries: 3, want: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := &AttemptState{Count: tc.count, MaxRetries: tc.maxRetries}
			assert.Equal(t, tc.want, s.CanRetry())
		})
	}
}

func TestAttemptStateResetAndIncrement(t *testing.T) {
	s := &AttemptState{MaxRetries: 2}
	s.Increment()
	s.Increment()
	assert.False(t, s.CanRetry())
	s.Reset()
	assert.True(t, s.CanRetry())
}

func TestDetectRateLimit(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil error":            {err: nil, want: false},
		"explicit rate limit":  {err: errors.New("received 429 Too Many Requests"), want: true},
		"rate_limit substring": {err: errors.New("rate_limit_error from provider"), want: true},
		"unrelated error":      {err: errors.New("file not found"), want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectRateLimit(tc.err))
		})
	}
}

func TestClassifyError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want ErrorKind
	}{
		"nil is unknown":       {err: nil, want: ErrKindUnknown},
		"rate limit":           {err: errors.New("429 too many requests"), want: ErrKindRateLimit},
		"timeout":              {err: errors.New("context deadline exceeded: timeout"), want: ErrKindTimeout},
		"connection reset is timeout": {err: errors.New("connection reset by peer"), want: ErrKindTimeout},
		"parse error":          {err: errors.New("failed to unmarshal reviewer output"), want: ErrKindParseError},
		"unknown":              {err: errors.New("invalid chunk id"), want: ErrKindUnknown},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestRetryWithBackoffSucceedsAfterRateLimitFailures(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), BackoffOptions{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("429 too many requests")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoffStopsImmediatelyOnNonRateLimitError(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), BackoffOptions{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(ctx context.Context) error {
			attempts++
			return errors.New("invalid configuration")
		})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoffStopsImmediatelyOnTimeout(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), BackoffOptions{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(ctx context.Context) error {
			attempts++
			return errors.New("timeout waiting for response")
		})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoffExhausted(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), BackoffOptions{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(ctx context.Context) error {
			attempts++
			return errors.New("429 too many requests")
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryWithBackoff(ctx, BackoffOptions{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Second},
		func(ctx context.Context) error {
			return errors.New("429 too many requests")
		})
	require.Error(t, err)
}
