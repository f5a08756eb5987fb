// Package pipeline implements the comment-processing stages: classification,
// answer generation and reply dispatch, plus the hide and media-analysis
// side stages. Stages return a tagged Result instead of raising errors for
// retry control flow; the job layer is the single place that maps results
// onto queue behaviour.
package pipeline

import "time"

// Status is the outcome class of a stage execution.
type Status string

const (
	// StatusSuccess means the stage completed and committed its transition.
	StatusSuccess Status = "success"
	// StatusSkipped means a policy mismatch or a concurrency race resolved
	// silently. Never retried, never an error.
	StatusSkipped Status = "skipped"
	// StatusRetry asks the queue to redeliver the job.
	StatusRetry Status = "retry"
	// StatusFatal terminates the job without further attempts.
	StatusFatal Status = "fatal"
)

// Skip and fatal reason codes.
const (
	ReasonCommentNotFound              = "comment_not_found"
	ReasonNotAQuestion                 = "not_a_question"
	ReasonAlreadyCompleted             = "already_completed"
	ReasonAlreadyProcessing            = "already_processing"
	ReasonAlreadySent                  = "already_sent"
	ReasonAlreadyProcessedOrProcessing = "already_processed_or_processing"
	ReasonDuplicateReplyID             = "duplicate_reply_id"
	ReasonNestedComment                = "nested_comment"
	ReasonNoAnswer                     = "no_answer_available"
	ReasonContextReady                 = "context_already_present"
	ReasonWaitingForMedia              = "waiting_for_media_context"
)

// Result is the tagged outcome of a stage execution.
type Result struct {
	Status Status
	Reason string

	// Retry scheduling. ConsumeAttempt=false marks a scheduling delay
	// (e.g. waiting for media context) that must not eat the retry budget.
	Delay          time.Duration
	ConsumeAttempt bool

	// Err carries the underlying failure for Retry and Fatal results.
	Err error

	// Stage payloads, for logging and chaining.
	Category string
	Answer   string
	ReplyID  string
}

// Success returns a success result.
func Success() Result {
	return Result{Status: StatusSuccess}
}

// Skipped returns a silent no-op result with a reason code.
func Skipped(reason string) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}

// RetryIn asks for redelivery after delay, consuming one attempt.
func RetryIn(err error, delay time.Duration) Result {
	return Result{Status: StatusRetry, Err: err, Delay: delay, ConsumeAttempt: true}
}

// WaitFor asks for redelivery after delay without consuming an attempt:
// a scheduling delay, not a failure.
func WaitFor(reason string, delay time.Duration) Result {
	return Result{Status: StatusRetry, Reason: reason, Delay: delay, ConsumeAttempt: false}
}

// Fatal terminates the job with a reason code.
func Fatal(reason string, err error) Result {
	return Result{Status: StatusFatal, Reason: reason, Err: err}
}
