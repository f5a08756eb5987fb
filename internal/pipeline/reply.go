package pipeline

import (
	"context"
	"errors"

	"github.com/commentflow/internal/retry"
	"github.com/commentflow/internal/store"
)

// SendReply posts the generated answer to the platform at most once.
// Defense in depth, each layer a cheap short-circuit before the network
// call: advisory lock, read-check, then the authoritative row claim
// (FOR UPDATE SKIP LOCKED) held across the send.
func (s *Stages) SendReply(ctx context.Context, commentID string, attempt int) Result {
	logger := s.logger.With().Str("stage", "reply").Str("comment_id", commentID).Logger()

	lockKey := replyLockKey(commentID)
	acquired, err := s.locks.Acquire(ctx, lockKey, ReplyLockTTL)
	if err != nil {
		// The advisory lock is an optimization; the row claim below is the
		// correctness mechanism. Proceed without it.
		logger.Warn().Err(err).Msg("advisory lock unavailable, relying on row claim")
	} else if !acquired {
		logger.Info().Msg("reply already processing elsewhere")
		return Skipped(ReasonAlreadyProcessing)
	}
	if acquired {
		defer func() {
			if err := s.locks.Release(ctx, lockKey); err != nil {
				logger.Warn().Err(err).Msg("failed to release advisory lock")
			}
		}()
	}

	answer, err := s.store.GetAnswer(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return Fatal(ReasonNoAnswer, err)
	}
	if err != nil {
		return RetryIn(err, 0)
	}

	// Read-check before any network traffic.
	if answer.ReplySent || answer.ReplyID != nil {
		return Skipped(ReasonAlreadySent)
	}
	if answer.Status != store.StatusCompleted || answer.Answer == nil || *answer.Answer == "" {
		return Fatal(ReasonNoAnswer, errors.New("answer not completed"))
	}

	// Nested comments keep their answer for the operator but never get a
	// platform reply. The answer stage withholds dispatch; this guard holds
	// the same line for sweep-driven and hand-inserted jobs.
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return Fatal(ReasonCommentNotFound, err)
	}
	if err != nil {
		return RetryIn(err, 0)
	}
	if comment.ParentID != nil && *comment.ParentID != "" {
		logger.Info().Str("parent_id", *comment.ParentID).Msg("nested comment, reply suppressed")
		return Skipped(ReasonNestedComment)
	}

	var sentReplyID string
	claim, err := s.store.ClaimUnsentReply(ctx, commentID, func(ctx context.Context, a *store.Answer) (store.ReplyReceipt, error) {
		replyID, sendErr := s.replier.SendReply(ctx, commentID, *a.Answer)
		if sendErr != nil {
			return store.ReplyReceipt{}, sendErr
		}
		sentReplyID = replyID
		return store.ReplyReceipt{ReplyID: replyID}, nil
	})

	switch claim {
	case store.ClaimUnavailable:
		logger.Info().Msg("reply row already claimed or recorded")
		return Skipped(ReasonAlreadyProcessedOrProcessing)

	case store.ClaimDuplicate:
		// A concurrent winner recorded the reply first; ours was rejected
		// by the reply_id unique constraint.
		logger.Info().Msg("duplicate reply id, concurrent winner recorded the send")
		return Skipped(ReasonDuplicateReplyID)

	case store.ClaimSendFailed:
		if !retry.Retryable(err) {
			logger.Error().Err(err).Msg("reply send failed permanently")
			return Fatal("provider_failure", err)
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("reply send failed, will retry")
		return RetryIn(err, retry.RetryAfter(err))

	case store.ClaimSent:
		logger.Info().Str("reply_id", sentReplyID).Msg("reply sent")
		out := Success()
		out.ReplyID = sentReplyID
		return out

	default:
		// Infrastructure failure before or during the claim.
		return RetryIn(err, 0)
	}
}

// HideComment hides a toxic or urgent comment on the platform. Hiding is
// idempotent on the platform side, so the guards here only avoid wasted
// calls.
func (s *Stages) HideComment(ctx context.Context, commentID string) Result {
	logger := s.logger.With().Str("stage", "hide").Str("comment_id", commentID).Logger()

	lockKey := hideLockKey(commentID)
	acquired, err := s.locks.Acquire(ctx, lockKey, HideLockTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("advisory lock unavailable")
	} else if !acquired {
		return Skipped(ReasonAlreadyProcessing)
	}
	if acquired {
		defer func() {
			if err := s.locks.Release(ctx, lockKey); err != nil {
				logger.Warn().Err(err).Msg("failed to release advisory lock")
			}
		}()
	}

	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return Fatal(ReasonCommentNotFound, err)
	}
	if err != nil {
		return RetryIn(err, 0)
	}
	if comment.Hidden {
		return Skipped(ReasonAlreadyCompleted)
	}

	if err := s.replier.HideComment(ctx, commentID, true); err != nil {
		if !retry.Retryable(err) {
			logger.Error().Err(err).Msg("hide failed permanently")
			return Fatal("provider_failure", err)
		}
		return RetryIn(err, retry.RetryAfter(err))
	}

	if err := s.store.SetCommentHidden(ctx, commentID, true); err != nil {
		return RetryIn(err, 0)
	}

	logger.Info().Msg("comment hidden")
	return Success()
}

// AnalyzeMedia describes a media image and stores the result, unblocking
// classifications waiting on media context.
func (s *Stages) AnalyzeMedia(ctx context.Context, mediaID string) Result {
	logger := s.logger.With().Str("stage", "media").Str("media_id", mediaID).Logger()

	media, err := s.store.GetMedia(ctx, mediaID)
	if errors.Is(err, store.ErrNotFound) {
		return Fatal(ReasonCommentNotFound, err)
	}
	if err != nil {
		return RetryIn(err, 0)
	}
	if media.MediaContext != nil && *media.MediaContext != "" {
		return Skipped(ReasonContextReady)
	}

	description, err := s.analyzer.Describe(ctx, media)
	if err != nil {
		if !retry.Retryable(err) {
			logger.Error().Err(err).Msg("media analysis failed permanently")
			return Fatal("provider_failure", err)
		}
		return RetryIn(err, retry.RetryAfter(err))
	}

	if err := s.store.SetMediaContext(ctx, mediaID, description); err != nil {
		return RetryIn(err, 0)
	}

	logger.Info().Msg("media context stored")
	return Success()
}
