package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/commentflow/internal/retry"
	"github.com/commentflow/internal/store"
)

// Classify assigns a category to a comment and triggers the follow-up
// stages its category calls for. The attempt count comes from the queue's
// redelivery counter.
func (s *Stages) Classify(ctx context.Context, commentID string, attempt int) Result {
	logger := s.logger.With().Str("stage", "classify").Str("comment_id", commentID).Logger()

	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("comment not found")
		return Fatal(ReasonCommentNotFound, err)
	}
	if err != nil {
		return RetryIn(err, 0)
	}

	classification, err := s.store.EnsureClassification(ctx, commentID)
	if err != nil {
		return RetryIn(err, 0)
	}
	if classification.Status == store.StatusCompleted {
		return Skipped(ReasonAlreadyCompleted)
	}

	// Media context gate: a scheduling delay, not a failure, so it must
	// not consume the retry budget.
	media, err := s.store.GetMedia(ctx, comment.MediaID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return RetryIn(err, 0)
	}
	if media != nil && media.NeedsContext() {
		if err := s.queue.EnqueueMediaAnalysis(ctx, media.ID); err != nil {
			logger.Error().Err(err).Str("media_id", media.ID).Msg("failed to queue media analysis")
		}
		logger.Info().Str("media_id", media.ID).Msg("media context not ready")
		return WaitFor(ReasonWaitingForMedia, MediaWaitDelay)
	}

	// The PROCESSING commit makes the in-progress state visible to the
	// sweeper and blocks a concurrent duplicate from re-classifying.
	if err := s.store.MarkClassificationProcessing(ctx, classification.ID, attempt); err != nil {
		return RetryIn(err, 0)
	}

	conversationID := ConversationID(comment.ID, comment.ParentID)
	if comment.ConversationID == nil || *comment.ConversationID == "" {
		if err := s.store.SetConversationID(ctx, comment.ID, conversationID); err != nil {
			return RetryIn(err, 0)
		}
	} else {
		conversationID = *comment.ConversationID
	}

	result, err := s.classifier.Classify(ctx, ClassifyRequest{
		Text:           comment.Text,
		ConversationID: conversationID,
		Username:       comment.Username,
		Media:          media,
	})
	if err != nil {
		if ferr := s.store.FailClassification(ctx, classification.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record classification failure")
		}
		if !retry.Retryable(err) {
			logger.Error().Err(err).Msg("classification failed permanently")
			return Fatal("provider_failure", err)
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("classification failed, will retry")
		return RetryIn(err, retry.RetryAfter(err))
	}

	if err := s.store.CompleteClassification(ctx, classification.ID,
		result.Category, result.Confidence, result.Reasoning,
		result.InputTokens, result.OutputTokens); err != nil {
		return RetryIn(err, 0)
	}

	logger.Info().
		Str("category", result.Category).
		Int("confidence", result.Confidence).
		Msg("comment classified")

	s.triggerPostClassification(ctx, comment, result.Category, logger)

	out := Success()
	out.Category = result.Category
	return out
}

// triggerPostClassification enqueues follow-up work for a category. Enqueue
// failures are logged and left to the sweeper; the classification itself is
// already committed.
func (s *Stages) triggerPostClassification(ctx context.Context, comment *store.Comment, category string, logger zerolog.Logger) {
	if category == CategoryQuestion {
		if err := s.queue.EnqueueAnswer(ctx, comment.ID); err != nil {
			logger.Error().Err(err).Msg("failed to queue answer generation")
		}
	}

	if category == CategoryUrgentIssue || category == CategoryToxic {
		if err := s.queue.EnqueueHide(ctx, comment.ID); err != nil {
			logger.Error().Err(err).Msg("failed to queue comment hide")
		}
	}

	switch category {
	case CategoryUrgentIssue, CategoryCriticalFeedback, CategoryPartnership:
		if err := s.queue.EnqueueNotify(ctx, comment.ID, category); err != nil {
			logger.Error().Err(err).Msg("failed to queue operator notification")
		}
	}
}
