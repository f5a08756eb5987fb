package jobqueue

import (
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentflow/internal/pipeline"
)

func TestResultToRiverCompletesOnSuccessAndSkip(t *testing.T) {
	assert.NoError(t, resultToRiver(pipeline.Success()))
	assert.NoError(t, resultToRiver(pipeline.Skipped(pipeline.ReasonAlreadySent)))
}

func TestResultToRiverReturnsErrorForConsumingRetry(t *testing.T) {
	cause := errors.New("model timeout")
	err := resultToRiver(pipeline.RetryIn(cause, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause, "the stage error reaches the retry policy unwrapped")
}

func TestResultToRiverSnoozesNonConsumingWaits(t *testing.T) {
	err := resultToRiver(pipeline.WaitFor(pipeline.ReasonWaitingForMedia, 30*time.Second))
	require.Error(t, err, "snooze is expressed as a control-flow error")

	cause := errors.New("should not appear")
	assert.NotErrorIs(t, err, cause)
}

func TestResultToRiverCancelsFatalResults(t *testing.T) {
	cause := errors.New("comment deleted upstream")
	err := resultToRiver(pipeline.Fatal(pipeline.ReasonCommentNotFound, cause))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), pipeline.ReasonCommentNotFound)
}

func TestUniqueInsertsIgnoreFinalizedJobs(t *testing.T) {
	// A retained completed dispatch job must not absorb the sweeper's
	// re-enqueue of a reply that is still unsent.
	require.True(t, uniqueInFlight.ByArgs)

	for _, state := range []rivertype.JobState{
		rivertype.JobStateAvailable,
		rivertype.JobStatePending,
		rivertype.JobStateRetryable,
		rivertype.JobStateRunning,
		rivertype.JobStateScheduled,
	} {
		assert.Contains(t, uniqueInFlight.ByState, state)
	}
	assert.NotContains(t, uniqueInFlight.ByState, rivertype.JobStateCompleted)
	assert.NotContains(t, uniqueInFlight.ByState, rivertype.JobStateCancelled)
	assert.NotContains(t, uniqueInFlight.ByState, rivertype.JobStateDiscarded)
}

func TestJobKindsAreStable(t *testing.T) {
	// Kinds are wire identifiers persisted in the jobs table; renaming one
	// orphans queued jobs.
	assert.Equal(t, "comment_classify", ClassifyArgs{}.Kind())
	assert.Equal(t, "answer_generate", AnswerArgs{}.Kind())
	assert.Equal(t, "reply_send", ReplyArgs{}.Kind())
	assert.Equal(t, "comment_hide", HideArgs{}.Kind())
	assert.Equal(t, "media_analyze", MediaAnalyzeArgs{}.Kind())
	assert.Equal(t, "notify_operator", NotifyArgs{}.Kind())
	assert.Equal(t, "sweep_retry_classifications", SweepClassificationsArgs{}.Kind())
	assert.Equal(t, "sweep_retry_answers", SweepAnswersArgs{}.Kind())
	assert.Equal(t, "sweep_pending_replies", SweepRepliesArgs{}.Kind())
}
