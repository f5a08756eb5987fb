// Package retry classifies failures and schedules exponential backoff.
// Stage code wraps collaborator errors with a Kind; the job layer consults
// the kind to decide redelivery, and River's retry policy consults the
// backoff for timing.
package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/riverqueue/river/rivertype"
)

// Kind classifies a failure for retry purposes.
type Kind int

const (
	// KindTransient covers timeouts, 5xx responses and connection errors.
	// Retried with generic backoff. The default for unclassified errors.
	KindTransient Kind = iota
	// KindRateLimited means the collaborator asked us to slow down.
	// Retried with the provider-specified or a short capped delay.
	KindRateLimited
	// KindPermanent covers validation, auth and malformed-response
	// failures. Never retried.
	KindPermanent
	// KindNotFound means a referenced record does not exist. Never retried.
	KindNotFound
)

// Error attaches a Kind (and optionally a provider-requested delay) to a
// collaborator failure.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) *Error { return &Error{Kind: KindTransient, Err: err} }

// RateLimited wraps err with the delay the provider requested (0 if none).
func RateLimited(err error, after time.Duration) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: after, Err: err}
}

// Permanent wraps err as a failure that must not be retried.
func Permanent(err error) *Error { return &Error{Kind: KindPermanent, Err: err} }

// NotFound wraps err as a missing-record failure.
func NotFound(err error) *Error { return &Error{Kind: KindNotFound, Err: err} }

// Permanentf is Permanent over a formatted error.
func Permanentf(format string, args ...any) *Error {
	return Permanent(fmt.Errorf(format, args...))
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// transient: a failure is retryable unless it is in the non-retryable set.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// Retryable reports whether err should be redelivered.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindPermanent, KindNotFound:
		return false
	}
	return true
}

// RetryAfter returns the provider-requested delay, or 0.
func RetryAfter(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// Backoff computes capped exponential delays: BaseDelay * 2^attempt.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
}

// AIBackoff is the schedule for AI-bound stages.
func AIBackoff() Backoff {
	return Backoff{BaseDelay: 15 * time.Second, MaxDelay: 1 * time.Hour, Jitter: true}
}

// PlatformBackoff is the schedule for platform sends, capped short so
// rate-limited replies recover quickly.
func PlatformBackoff() Backoff {
	return Backoff{BaseDelay: 10 * time.Second, MaxDelay: 5 * time.Minute, Jitter: true}
}

// Delay returns the wait before the given attempt (0-based) is redelivered.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter {
		// Up to 10% random jitter to avoid thundering herds
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(b.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// QueuePolicy maps River queues onto backoff schedules. It implements
// river.ClientRetryPolicy.
type QueuePolicy struct {
	ByQueue  map[string]Backoff
	Fallback Backoff
}

// NextRetry schedules the next delivery of an errored job.
func (p *QueuePolicy) NextRetry(job *rivertype.JobRow) time.Time {
	backoff := p.Fallback
	if b, ok := p.ByQueue[job.Queue]; ok {
		backoff = b
	}
	// job.Attempt is 1-based at the time the error is recorded
	return time.Now().Add(backoff.Delay(job.Attempt - 1))
}
