// Package jobqueue runs the comment pipeline on a River job queue backed
// by Postgres. Each stage is one job kind; stages chain by inserting the
// next kind after committing their own state transition.
package jobqueue

// Queue names. AI-bound work is isolated from platform calls so a slow
// model cannot starve reply dispatch, and maintenance sweeps never compete
// with either.
const (
	QueueAI          = "ai"
	QueuePlatform    = "platform"
	QueueMaintenance = "maintenance"
)

// Attempt budgets per kind, one above the stored retry ceiling so the
// first attempt is not counted as a retry.
const (
	classifyMaxAttempts = 4
	answerMaxAttempts   = 6
	replyMaxAttempts    = 6
	hideMaxAttempts     = 4
	mediaMaxAttempts    = 4
	notifyMaxAttempts   = 4
)

// ClassifyArgs triggers comment classification.
type ClassifyArgs struct {
	CommentID string `json:"comment_id"`
}

func (ClassifyArgs) Kind() string { return "comment_classify" }

// AnswerArgs triggers answer generation for a question comment.
type AnswerArgs struct {
	CommentID string `json:"comment_id"`
}

func (AnswerArgs) Kind() string { return "answer_generate" }

// ReplyArgs triggers reply dispatch to the platform.
type ReplyArgs struct {
	CommentID string `json:"comment_id"`
}

func (ReplyArgs) Kind() string { return "reply_send" }

// HideArgs triggers hiding a toxic or urgent comment.
type HideArgs struct {
	CommentID string `json:"comment_id"`
}

func (HideArgs) Kind() string { return "comment_hide" }

// MediaAnalyzeArgs triggers image analysis for a post.
type MediaAnalyzeArgs struct {
	MediaID string `json:"media_id"`
}

func (MediaAnalyzeArgs) Kind() string { return "media_analyze" }

// NotifyArgs triggers an operator alert.
type NotifyArgs struct {
	CommentID string `json:"comment_id"`
	Category  string `json:"category"`
}

func (NotifyArgs) Kind() string { return "notify_operator" }

// Sweep job args. The periodic scheduler inserts these; they carry no
// payload because each sweep scans the whole table bounded by the batch
// limit.
type SweepClassificationsArgs struct{}

func (SweepClassificationsArgs) Kind() string { return "sweep_retry_classifications" }

type SweepAnswersArgs struct{}

func (SweepAnswersArgs) Kind() string { return "sweep_retry_answers" }

type SweepRepliesArgs struct{}

func (SweepRepliesArgs) Kind() string { return "sweep_pending_replies" }
