package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfDefaultsToTransient(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(errors.New("plain error")))
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("stage failed: %w", Permanent(errors.New("bad api key")))
	assert.Equal(t, KindPermanent, KindOf(err))
	assert.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Transient(errors.New("timeout"))))
	assert.True(t, Retryable(RateLimited(errors.New("429"), time.Minute)))
	assert.False(t, Retryable(Permanent(errors.New("401"))))
	assert.False(t, Retryable(NotFound(errors.New("gone"))))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 90*time.Second, RetryAfter(RateLimited(errors.New("429"), 90*time.Second)))
	assert.Equal(t, time.Duration(0), RetryAfter(Transient(errors.New("timeout"))))
	assert.Equal(t, time.Duration(0), RetryAfter(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := Transient(fmt.Errorf("wrapped: %w", sentinel))
	assert.True(t, errors.Is(err, sentinel))
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{BaseDelay: 10 * time.Second, MaxDelay: 5 * time.Minute}

	assert.Equal(t, 10*time.Second, b.Delay(0))
	assert.Equal(t, 20*time.Second, b.Delay(1))
	assert.Equal(t, 40*time.Second, b.Delay(2))
	assert.Equal(t, 5*time.Minute, b.Delay(10), "capped at MaxDelay")
	assert.Equal(t, 10*time.Second, b.Delay(-1), "negative attempts treated as zero")
}

func TestBackoffJitterStaysNearSchedule(t *testing.T) {
	b := Backoff{BaseDelay: 10 * time.Second, MaxDelay: 5 * time.Minute, Jitter: true}

	for attempt := 0; attempt < 5; attempt++ {
		exact := Backoff{BaseDelay: b.BaseDelay, MaxDelay: b.MaxDelay}.Delay(attempt)
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(exact)*0.9))
			assert.LessOrEqual(t, d, time.Duration(float64(exact)*1.1))
		}
	}
}

func TestQueuePolicyPicksScheduleByQueue(t *testing.T) {
	policy := &QueuePolicy{
		ByQueue: map[string]Backoff{
			"ai":       {BaseDelay: 15 * time.Second, MaxDelay: time.Hour},
			"platform": {BaseDelay: 10 * time.Second, MaxDelay: 5 * time.Minute},
		},
		Fallback: Backoff{BaseDelay: time.Second, MaxDelay: time.Minute},
	}

	cases := []struct {
		queue   string
		attempt int
		want    time.Duration
	}{
		{"ai", 1, 15 * time.Second},
		{"ai", 3, 60 * time.Second},
		{"platform", 1, 10 * time.Second},
		{"platform", 20, 5 * time.Minute},
		{"other", 1, time.Second},
	}

	for _, tc := range cases {
		job := &rivertype.JobRow{Queue: tc.queue, Attempt: tc.attempt}
		next := policy.NextRetry(job)
		got := time.Until(next)
		require.InDelta(t, float64(tc.want), float64(got), float64(2*time.Second),
			"queue %s attempt %d", tc.queue, tc.attempt)
	}
}
