package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"

	"github.com/commentflow/internal/notify"
	"github.com/commentflow/internal/pipeline"
	"github.com/commentflow/internal/retry"
	"github.com/commentflow/internal/store"
	"github.com/commentflow/internal/sweeper"
)

// Options configures a Queue.
type Options struct {
	Pool     *pgxpool.Pool
	Store    *store.Store
	Notifier notify.Notifier
	Logger   zerolog.Logger

	// Worker counts per queue. Zero falls back to defaults.
	AIWorkers          int
	PlatformWorkers    int
	MaintenanceWorkers int

	// SweepInterval schedules the periodic recovery sweeps. Zero disables
	// them (insert-only clients).
	SweepInterval   time.Duration
	SweepBatchLimit int
}

// Queue owns the River client and implements the enqueue surfaces the
// pipeline and sweeper depend on.
type Queue struct {
	client *river.Client[pgx.Tx]
	logger zerolog.Logger
}

// New builds the River client with all pipeline workers registered. The
// stages and the queue reference each other (stages enqueue follow-up
// jobs), so stage dependencies arrive separately and the queue closes the
// loop by injecting itself as the Enqueuer.
func New(opts Options, stageDeps pipeline.Deps) (*Queue, *pipeline.Stages, error) {
	q := &Queue{
		logger: opts.Logger.With().Str("component", "jobqueue").Logger(),
	}

	stageDeps.Queue = q
	stages := pipeline.New(stageDeps)

	sweep := sweeper.New(sweeper.Options{
		Store:      opts.Store,
		Locks:      stageDeps.Locks,
		Queue:      q,
		BatchLimit: opts.SweepBatchLimit,
		Logger:     opts.Logger,
	})

	workers := river.NewWorkers()
	river.AddWorker(workers, &ClassifyWorker{stages: stages})
	river.AddWorker(workers, &AnswerWorker{stages: stages})
	river.AddWorker(workers, &ReplyWorker{stages: stages})
	river.AddWorker(workers, &HideWorker{stages: stages})
	river.AddWorker(workers, &MediaAnalyzeWorker{stages: stages})
	river.AddWorker(workers, &NotifyWorker{store: opts.Store, notifier: opts.Notifier, logger: opts.Logger})
	river.AddWorker(workers, &sweepClassificationsWorker{sweeper: sweep})
	river.AddWorker(workers, &sweepAnswersWorker{sweeper: sweep})
	river.AddWorker(workers, &sweepRepliesWorker{sweeper: sweep})

	aiWorkers := opts.AIWorkers
	if aiWorkers <= 0 {
		aiWorkers = 4
	}
	platformWorkers := opts.PlatformWorkers
	if platformWorkers <= 0 {
		platformWorkers = 8
	}
	maintenanceWorkers := opts.MaintenanceWorkers
	if maintenanceWorkers <= 0 {
		maintenanceWorkers = 2
	}

	config := &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueAI:          {MaxWorkers: aiWorkers},
			QueuePlatform:    {MaxWorkers: platformWorkers},
			QueueMaintenance: {MaxWorkers: maintenanceWorkers},
		},
		Workers: workers,
		RetryPolicy: &retry.QueuePolicy{
			ByQueue: map[string]retry.Backoff{
				QueueAI:       retry.AIBackoff(),
				QueuePlatform: retry.PlatformBackoff(),
			},
			Fallback: retry.PlatformBackoff(),
		},
		PeriodicJobs: periodicJobs(opts.SweepInterval),
	}

	client, err := river.NewClient(riverpgxv5.New(opts.Pool), config)
	if err != nil {
		return nil, nil, fmt.Errorf("create river client: %w", err)
	}
	q.client = client

	return q, stages, nil
}

func periodicJobs(interval time.Duration) []*river.PeriodicJob {
	if interval <= 0 {
		return nil
	}
	opts := &river.PeriodicJobOpts{RunOnStart: true}
	insertOpts := &river.InsertOpts{Queue: QueueMaintenance}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return SweepClassificationsArgs{}, insertOpts
			}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return SweepAnswersArgs{}, insertOpts
			}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return SweepRepliesArgs{}, insertOpts
			}, opts),
	}
}

// uniqueInFlight dedupes inserts against queued and running jobs only.
// Completed jobs are retained for a while, and a dispatch job can complete
// as a skip while the record is still unsent (advisory lock held by a
// holder that then crashed); deduping against the retained completed job
// would swallow the sweeper's re-enqueue until retention expires.
var uniqueInFlight = river.UniqueOpts{
	ByArgs: true,
	ByState: []rivertype.JobState{
		rivertype.JobStateAvailable,
		rivertype.JobStatePending,
		rivertype.JobStateRetryable,
		rivertype.JobStateRunning,
		rivertype.JobStateScheduled,
	},
}

// Start begins job processing.
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop drains running jobs and shuts the client down.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// EnqueueClassify inserts a classification job. Duplicate webhook
// deliveries collapse onto the one pending job.
func (q *Queue) EnqueueClassify(ctx context.Context, commentID string) error {
	_, err := q.client.Insert(ctx, ClassifyArgs{CommentID: commentID}, &river.InsertOpts{
		Queue:       QueueAI,
		MaxAttempts: classifyMaxAttempts,
		UniqueOpts:  uniqueInFlight,
	})
	return err
}

// EnqueueAnswer inserts an answer-generation job.
func (q *Queue) EnqueueAnswer(ctx context.Context, commentID string) error {
	_, err := q.client.Insert(ctx, AnswerArgs{CommentID: commentID}, &river.InsertOpts{
		Queue:       QueueAI,
		MaxAttempts: answerMaxAttempts,
		UniqueOpts:  uniqueInFlight,
	})
	return err
}

// EnqueueReply inserts a reply-dispatch job. Uniqueness by args keeps the
// sweeper from stacking duplicate dispatch jobs behind an in-flight one.
func (q *Queue) EnqueueReply(ctx context.Context, commentID string) error {
	_, err := q.client.Insert(ctx, ReplyArgs{CommentID: commentID}, &river.InsertOpts{
		Queue:       QueuePlatform,
		MaxAttempts: replyMaxAttempts,
		UniqueOpts:  uniqueInFlight,
	})
	return err
}

// EnqueueHide inserts a comment-hide job.
func (q *Queue) EnqueueHide(ctx context.Context, commentID string) error {
	_, err := q.client.Insert(ctx, HideArgs{CommentID: commentID}, &river.InsertOpts{
		Queue:       QueuePlatform,
		MaxAttempts: hideMaxAttempts,
		UniqueOpts:  uniqueInFlight,
	})
	return err
}

// EnqueueNotify inserts an operator-alert job.
func (q *Queue) EnqueueNotify(ctx context.Context, commentID, category string) error {
	_, err := q.client.Insert(ctx, NotifyArgs{CommentID: commentID, Category: category}, &river.InsertOpts{
		Queue:       QueuePlatform,
		MaxAttempts: notifyMaxAttempts,
	})
	return err
}

// EnqueueMediaAnalysis inserts a media-analysis job.
func (q *Queue) EnqueueMediaAnalysis(ctx context.Context, mediaID string) error {
	_, err := q.client.Insert(ctx, MediaAnalyzeArgs{MediaID: mediaID}, &river.InsertOpts{
		Queue:       QueueAI,
		MaxAttempts: mediaMaxAttempts,
		UniqueOpts:  uniqueInFlight,
	})
	return err
}

// Sweep workers delegate to the sweeper; sweeps report their own partial
// failures and only bubble up infrastructure errors.

type sweepClassificationsWorker struct {
	river.WorkerDefaults[SweepClassificationsArgs]
	sweeper *sweeper.Sweeper
}

func (w *sweepClassificationsWorker) Work(ctx context.Context, job *river.Job[SweepClassificationsArgs]) error {
	return w.sweeper.RetryFailedClassifications(ctx)
}

type sweepAnswersWorker struct {
	river.WorkerDefaults[SweepAnswersArgs]
	sweeper *sweeper.Sweeper
}

func (w *sweepAnswersWorker) Work(ctx context.Context, job *river.Job[SweepAnswersArgs]) error {
	return w.sweeper.RetryFailedAnswers(ctx)
}

type sweepRepliesWorker struct {
	river.WorkerDefaults[SweepRepliesArgs]
	sweeper *sweeper.Sweeper
}

func (w *sweepRepliesWorker) Work(ctx context.Context, job *river.Job[SweepRepliesArgs]) error {
	return w.sweeper.ProcessPendingReplies(ctx)
}
