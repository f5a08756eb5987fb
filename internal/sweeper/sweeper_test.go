package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentflow/internal/store"
)

type sweepStore struct {
	retryableClassifications []*store.Classification
	retryableAnswers         []*store.Answer
	unsentAnswers            []*store.Answer

	rearmedClassifications []int64
	rearmedAnswers         []int64
	seenLimits             []int
}

func (s *sweepStore) ListRetryableClassifications(ctx context.Context, limit int) ([]*store.Classification, error) {
	s.seenLimits = append(s.seenLimits, limit)
	return s.retryableClassifications, nil
}

func (s *sweepStore) RearmClassification(ctx context.Context, id int64) error {
	s.rearmedClassifications = append(s.rearmedClassifications, id)
	return nil
}

func (s *sweepStore) ListRetryableAnswers(ctx context.Context, limit int) ([]*store.Answer, error) {
	s.seenLimits = append(s.seenLimits, limit)
	return s.retryableAnswers, nil
}

func (s *sweepStore) RearmAnswer(ctx context.Context, id int64) error {
	s.rearmedAnswers = append(s.rearmedAnswers, id)
	return nil
}

func (s *sweepStore) ListUnsentAnswers(ctx context.Context, limit int) ([]*store.Answer, error) {
	s.seenLimits = append(s.seenLimits, limit)
	return s.unsentAnswers, nil
}

type sweepLocker struct {
	held     map[string]bool
	acquired []string
	released []string
}

func (l *sweepLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.held[key] {
		return false, nil
	}
	l.acquired = append(l.acquired, key)
	return true, nil
}

func (l *sweepLocker) Release(ctx context.Context, key string) error {
	l.released = append(l.released, key)
	return nil
}

type sweepEnqueuer struct {
	classifies []string
	answers    []string
	replies    []string
}

func (e *sweepEnqueuer) EnqueueClassify(ctx context.Context, commentID string) error {
	e.classifies = append(e.classifies, commentID)
	return nil
}

func (e *sweepEnqueuer) EnqueueAnswer(ctx context.Context, commentID string) error {
	e.answers = append(e.answers, commentID)
	return nil
}

func (e *sweepEnqueuer) EnqueueReply(ctx context.Context, commentID string) error {
	e.replies = append(e.replies, commentID)
	return nil
}

func newSweepHarness(st *sweepStore, locks *sweepLocker) (*Sweeper, *sweepEnqueuer) {
	queue := &sweepEnqueuer{}
	s := New(Options{
		Store:      st,
		Locks:      locks,
		Queue:      queue,
		BatchLimit: 25,
		Logger:     zerolog.Nop(),
	})
	return s, queue
}

func TestRetryFailedClassificationsRearmsAndQueues(t *testing.T) {
	st := &sweepStore{
		retryableClassifications: []*store.Classification{
			{ID: 1, CommentID: "c1", Status: store.StatusFailed, RetryCount: 1, MaxRetries: 3},
			{ID: 2, CommentID: "c2", Status: store.StatusRetry, RetryCount: 0, MaxRetries: 3},
		},
	}
	locks := &sweepLocker{held: map[string]bool{}}
	s, queue := newSweepHarness(st, locks)

	require.NoError(t, s.RetryFailedClassifications(context.Background()))

	assert.Equal(t, []int64{1, 2}, st.rearmedClassifications)
	assert.Equal(t, []string{"c1", "c2"}, queue.classifies)
	assert.Equal(t, []int{25}, st.seenLimits)
	assert.Equal(t, []string{"retry_failed_classifications_lock"}, locks.acquired)
	assert.Equal(t, []string{"retry_failed_classifications_lock"}, locks.released)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	st := &sweepStore{
		retryableClassifications: []*store.Classification{{ID: 1, CommentID: "c1"}},
	}
	locks := &sweepLocker{held: map[string]bool{"retry_failed_classifications_lock": true}}
	s, queue := newSweepHarness(st, locks)

	require.NoError(t, s.RetryFailedClassifications(context.Background()))

	assert.Empty(t, st.rearmedClassifications)
	assert.Empty(t, queue.classifies)
	assert.Empty(t, st.seenLimits, "a held lock means no table scan at all")
}

func TestRetryFailedAnswersRearmsAndQueues(t *testing.T) {
	st := &sweepStore{
		retryableAnswers: []*store.Answer{
			{ID: 7, CommentID: "c7", Status: store.StatusFailed, RetryCount: 2, MaxRetries: 5},
		},
	}
	locks := &sweepLocker{held: map[string]bool{}}
	s, queue := newSweepHarness(st, locks)

	require.NoError(t, s.RetryFailedAnswers(context.Background()))

	assert.Equal(t, []int64{7}, st.rearmedAnswers)
	assert.Equal(t, []string{"c7"}, queue.answers)
}

func TestProcessPendingRepliesQueuesWithoutRearming(t *testing.T) {
	st := &sweepStore{
		unsentAnswers: []*store.Answer{
			{ID: 3, CommentID: "c3", Status: store.StatusCompleted},
			{ID: 4, CommentID: "c4", Status: store.StatusCompleted},
		},
	}
	locks := &sweepLocker{held: map[string]bool{}}
	s, queue := newSweepHarness(st, locks)

	require.NoError(t, s.ProcessPendingReplies(context.Background()))

	assert.Equal(t, []string{"c3", "c4"}, queue.replies)
	assert.Empty(t, st.rearmedAnswers, "completed answers keep their state")
	assert.Equal(t, []string{"process_pending_replies_lock"}, locks.acquired)
}
