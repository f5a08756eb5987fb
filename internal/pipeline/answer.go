package pipeline

import (
	"context"
	"errors"

	"github.com/commentflow/internal/retry"
	"github.com/commentflow/internal/store"
)

// GenerateAnswer produces an answer for a classified question comment and
// enqueues reply dispatch. Idempotent: a comment whose answer is already
// COMPLETED is skipped without a second provider call.
func (s *Stages) GenerateAnswer(ctx context.Context, commentID string, attempt int) Result {
	logger := s.logger.With().Str("stage", "answer").Str("comment_id", commentID).Logger()

	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("comment not found")
		return Fatal(ReasonCommentNotFound, err)
	}
	if err != nil {
		return RetryIn(err, 0)
	}

	// Policy gate, not an error: only completed question classifications
	// get answers.
	classification, err := s.store.GetClassification(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return Skipped(ReasonNotAQuestion)
	}
	if err != nil {
		return RetryIn(err, 0)
	}
	if classification.Status != store.StatusCompleted ||
		classification.Category == nil || *classification.Category != CategoryQuestion {
		return Skipped(ReasonNotAQuestion)
	}

	answer, err := s.store.EnsureAnswer(ctx, commentID)
	if err != nil {
		return RetryIn(err, 0)
	}
	if answer.Status == store.StatusCompleted {
		// Duplicate trigger (direct call and sweeper firing close together)
		return Skipped(ReasonAlreadyCompleted)
	}

	if err := s.store.MarkAnswerProcessing(ctx, answer.ID, attempt); err != nil {
		return RetryIn(err, 0)
	}

	conversationID := ConversationID(comment.ID, comment.ParentID)
	if comment.ConversationID != nil && *comment.ConversationID != "" {
		conversationID = *comment.ConversationID
	}

	media, err := s.store.GetMedia(ctx, comment.MediaID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return RetryIn(err, 0)
	}

	result, err := s.answerer.Generate(ctx, AnswerRequest{
		Question:       comment.Text,
		ConversationID: conversationID,
		Username:       comment.Username,
		Media:          media,
	})
	if err != nil {
		if ferr := s.store.FailAnswer(ctx, answer.ID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record answer failure")
		}
		if !retry.Retryable(err) {
			logger.Error().Err(err).Msg("answer generation failed permanently")
			return Fatal("provider_failure", err)
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("answer generation failed, will retry")
		return RetryIn(err, retry.RetryAfter(err))
	}

	if err := s.store.CompleteAnswer(ctx, answer.ID,
		result.Answer, result.Confidence, result.QualityScore,
		result.InputTokens, result.OutputTokens); err != nil {
		return RetryIn(err, 0)
	}

	logger.Info().
		Float64("confidence", result.Confidence).
		Int("quality_score", result.QualityScore).
		Msg("answer generated")

	// Never reply to replies: nested comments get an answer record for the
	// operator but no platform send.
	if comment.ParentID != nil && *comment.ParentID != "" {
		logger.Info().Str("parent_id", *comment.ParentID).Msg("nested comment, reply not dispatched")
	} else if err := s.queue.EnqueueReply(ctx, commentID); err != nil {
		logger.Error().Err(err).Msg("failed to queue reply dispatch")
	}

	out := Success()
	out.Answer = result.Answer
	return out
}
