package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/commentflow/internal/notify"
	"github.com/commentflow/internal/pipeline"
	"github.com/commentflow/internal/retry"
	"github.com/commentflow/internal/store"
)

// resultToRiver translates a stage result into River control flow.
// Success and Skipped complete the job. A non-consuming retry snoozes,
// which does not touch the attempt counter. A consuming retry returns the
// error so the per-queue retry policy schedules the next attempt. Fatal
// cancels the job outright.
func resultToRiver(res pipeline.Result) error {
	switch res.Status {
	case pipeline.StatusSuccess, pipeline.StatusSkipped:
		return nil
	case pipeline.StatusRetry:
		if !res.ConsumeAttempt {
			delay := res.Delay
			if delay <= 0 {
				delay = 30 * time.Second
			}
			return river.JobSnooze(delay)
		}
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("stage requested retry: %s", res.Reason)
	case pipeline.StatusFatal:
		err := res.Err
		if err == nil {
			err = errors.New(res.Reason)
		}
		return river.JobCancel(fmt.Errorf("%s: %w", res.Reason, err))
	default:
		return fmt.Errorf("unknown stage status %q", res.Status)
	}
}

// ClassifyWorker runs the classification stage.
type ClassifyWorker struct {
	river.WorkerDefaults[ClassifyArgs]
	stages *pipeline.Stages
}

func (w *ClassifyWorker) Timeout(*river.Job[ClassifyArgs]) time.Duration { return 2 * time.Minute }

func (w *ClassifyWorker) Work(ctx context.Context, job *river.Job[ClassifyArgs]) error {
	return resultToRiver(w.stages.Classify(ctx, job.Args.CommentID, job.Attempt-1))
}

// AnswerWorker runs the answer-generation stage.
type AnswerWorker struct {
	river.WorkerDefaults[AnswerArgs]
	stages *pipeline.Stages
}

func (w *AnswerWorker) Timeout(*river.Job[AnswerArgs]) time.Duration { return 3 * time.Minute }

func (w *AnswerWorker) Work(ctx context.Context, job *river.Job[AnswerArgs]) error {
	return resultToRiver(w.stages.GenerateAnswer(ctx, job.Args.CommentID, job.Attempt-1))
}

// ReplyWorker runs the reply-dispatch stage.
type ReplyWorker struct {
	river.WorkerDefaults[ReplyArgs]
	stages *pipeline.Stages
}

func (w *ReplyWorker) Timeout(*river.Job[ReplyArgs]) time.Duration { return time.Minute }

func (w *ReplyWorker) Work(ctx context.Context, job *river.Job[ReplyArgs]) error {
	return resultToRiver(w.stages.SendReply(ctx, job.Args.CommentID, job.Attempt-1))
}

// HideWorker hides flagged comments.
type HideWorker struct {
	river.WorkerDefaults[HideArgs]
	stages *pipeline.Stages
}

func (w *HideWorker) Timeout(*river.Job[HideArgs]) time.Duration { return time.Minute }

func (w *HideWorker) Work(ctx context.Context, job *river.Job[HideArgs]) error {
	return resultToRiver(w.stages.HideComment(ctx, job.Args.CommentID))
}

// MediaAnalyzeWorker describes post images.
type MediaAnalyzeWorker struct {
	river.WorkerDefaults[MediaAnalyzeArgs]
	stages *pipeline.Stages
}

func (w *MediaAnalyzeWorker) Timeout(*river.Job[MediaAnalyzeArgs]) time.Duration {
	return 3 * time.Minute
}

func (w *MediaAnalyzeWorker) Work(ctx context.Context, job *river.Job[MediaAnalyzeArgs]) error {
	return resultToRiver(w.stages.AnalyzeMedia(ctx, job.Args.MediaID))
}

// notifyStore is the read surface the notify worker needs.
type notifyStore interface {
	GetComment(ctx context.Context, id string) (*store.Comment, error)
	GetClassification(ctx context.Context, commentID string) (*store.Classification, error)
	GetMedia(ctx context.Context, id string) (*store.Media, error)
}

// NotifyWorker sends operator alerts. The alert is assembled from stored
// state at send time so a delayed retry still reports fresh data.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	store    notifyStore
	notifier notify.Notifier
	logger   zerolog.Logger
}

func (w *NotifyWorker) Timeout(*river.Job[NotifyArgs]) time.Duration { return 30 * time.Second }

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	comment, err := w.store.GetComment(ctx, job.Args.CommentID)
	if errors.Is(err, store.ErrNotFound) {
		return river.JobCancel(fmt.Errorf("comment %s not found", job.Args.CommentID))
	}
	if err != nil {
		return err
	}

	alert := notify.Alert{
		CommentID: comment.ID,
		Username:  comment.Username,
		Text:      comment.Text,
		Category:  job.Args.Category,
	}

	if classification, err := w.store.GetClassification(ctx, comment.ID); err == nil {
		if classification.Confidence != nil {
			alert.Confidence = *classification.Confidence
		}
		if classification.Reasoning != nil {
			alert.Reasoning = *classification.Reasoning
		}
	}
	if media, err := w.store.GetMedia(ctx, comment.MediaID); err == nil {
		if media.Permalink != nil {
			alert.Permalink = *media.Permalink
		}
	}

	if err := w.notifier.Send(ctx, alert); err != nil {
		if !retry.Retryable(err) {
			w.logger.Error().Err(err).Str("comment_id", comment.ID).Msg("operator alert failed permanently")
			return river.JobCancel(err)
		}
		return err
	}
	return nil
}
