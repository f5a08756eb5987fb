// Package sweeper recovers stalled pipeline work. Each sweep re-arms
// records that failed transiently or fell through the cracks (worker crash
// between commit and enqueue) and queues them again. Sweeps are
// lock-guarded so overlapping runs across processes do not double-scan.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/commentflow/internal/store"
)

// Sweep lock TTL. Longer than any realistic sweep so a crashed run
// self-heals within one interval.
const sweepLockTTL = 5 * time.Minute

const (
	classificationSweepLock = "retry_failed_classifications_lock"
	answerSweepLock         = "retry_failed_answers_lock"
	replySweepLock          = "process_pending_replies_lock"
)

// Store is the persistence surface the sweeps read and re-arm through.
type Store interface {
	ListRetryableClassifications(ctx context.Context, limit int) ([]*store.Classification, error)
	RearmClassification(ctx context.Context, id int64) error
	ListRetryableAnswers(ctx context.Context, limit int) ([]*store.Answer, error)
	RearmAnswer(ctx context.Context, id int64) error
	ListUnsentAnswers(ctx context.Context, limit int) ([]*store.Answer, error)
}

// Locker serializes sweeps across worker processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Enqueuer re-inserts pipeline jobs for swept records.
type Enqueuer interface {
	EnqueueClassify(ctx context.Context, commentID string) error
	EnqueueAnswer(ctx context.Context, commentID string) error
	EnqueueReply(ctx context.Context, commentID string) error
}

// Sweeper executes the periodic recovery sweeps.
type Sweeper struct {
	store      Store
	locks      Locker
	queue      Enqueuer
	batchLimit int
	logger     zerolog.Logger
}

// Options configures a Sweeper.
type Options struct {
	Store Store
	Locks Locker
	Queue Enqueuer
	// BatchLimit bounds how many records one sweep touches. Zero means 100.
	BatchLimit int
	Logger     zerolog.Logger
}

// New wires a Sweeper.
func New(opts Options) *Sweeper {
	limit := opts.BatchLimit
	if limit <= 0 {
		limit = 100
	}
	return &Sweeper{
		store:      opts.Store,
		locks:      opts.Locks,
		queue:      opts.Queue,
		batchLimit: limit,
		logger:     opts.Logger.With().Str("component", "sweeper").Logger(),
	}
}

// RetryFailedClassifications re-arms classifications that failed inside
// their retry budget and queues them again.
func (s *Sweeper) RetryFailedClassifications(ctx context.Context) error {
	return s.guarded(ctx, classificationSweepLock, "retry_failed_classifications", func(ctx context.Context, logger zerolog.Logger) error {
		records, err := s.store.ListRetryableClassifications(ctx, s.batchLimit)
		if err != nil {
			return err
		}

		swept := 0
		for _, rec := range records {
			if err := s.store.RearmClassification(ctx, rec.ID); err != nil {
				logger.Error().Err(err).Str("comment_id", rec.CommentID).Msg("failed to re-arm classification")
				continue
			}
			if err := s.queue.EnqueueClassify(ctx, rec.CommentID); err != nil {
				logger.Error().Err(err).Str("comment_id", rec.CommentID).Msg("failed to queue classification")
				continue
			}
			swept++
		}

		if swept > 0 {
			logger.Info().Int("swept", swept).Int("candidates", len(records)).Msg("classifications re-armed")
		}
		return nil
	})
}

// RetryFailedAnswers re-arms failed answer generations inside their budget.
func (s *Sweeper) RetryFailedAnswers(ctx context.Context) error {
	return s.guarded(ctx, answerSweepLock, "retry_failed_answers", func(ctx context.Context, logger zerolog.Logger) error {
		records, err := s.store.ListRetryableAnswers(ctx, s.batchLimit)
		if err != nil {
			return err
		}

		swept := 0
		for _, rec := range records {
			if err := s.store.RearmAnswer(ctx, rec.ID); err != nil {
				logger.Error().Err(err).Str("comment_id", rec.CommentID).Msg("failed to re-arm answer")
				continue
			}
			if err := s.queue.EnqueueAnswer(ctx, rec.CommentID); err != nil {
				logger.Error().Err(err).Str("comment_id", rec.CommentID).Msg("failed to queue answer generation")
				continue
			}
			swept++
		}

		if swept > 0 {
			logger.Info().Int("swept", swept).Int("candidates", len(records)).Msg("answers re-armed")
		}
		return nil
	})
}

// ProcessPendingReplies queues dispatch for completed answers whose reply
// was never recorded. Duplicate inserts collapse against the in-flight
// reply job's uniqueness, and the dispatch stage itself skips rows another
// worker already claimed.
func (s *Sweeper) ProcessPendingReplies(ctx context.Context) error {
	return s.guarded(ctx, replySweepLock, "process_pending_replies", func(ctx context.Context, logger zerolog.Logger) error {
		records, err := s.store.ListUnsentAnswers(ctx, s.batchLimit)
		if err != nil {
			return err
		}

		queued := 0
		for _, rec := range records {
			if err := s.queue.EnqueueReply(ctx, rec.CommentID); err != nil {
				logger.Error().Err(err).Str("comment_id", rec.CommentID).Msg("failed to queue reply dispatch")
				continue
			}
			queued++
		}

		if queued > 0 {
			logger.Info().Int("queued", queued).Msg("pending replies queued")
		}
		return nil
	})
}

// guarded runs one sweep under its advisory lock. A held lock means
// another process is already sweeping; that is success, not failure.
func (s *Sweeper) guarded(ctx context.Context, lockKey, name string, sweep func(context.Context, zerolog.Logger) error) error {
	logger := s.logger.With().Str("sweep", name).Logger()

	acquired, err := s.locks.Acquire(ctx, lockKey, sweepLockTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("sweep lock unavailable, skipping run")
		return nil
	}
	if !acquired {
		logger.Debug().Msg("sweep already running elsewhere")
		return nil
	}
	defer func() {
		if err := s.locks.Release(ctx, lockKey); err != nil {
			logger.Warn().Err(err).Msg("failed to release sweep lock")
		}
	}()

	return sweep(ctx, logger)
}
