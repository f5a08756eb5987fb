package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/commentflow/internal/store"
)

// Comment categories produced by classification.
const (
	CategoryPositiveFeedback = "positive feedback"
	CategoryCriticalFeedback = "critical feedback"
	CategoryUrgentIssue      = "urgent issue / complaint"
	CategoryQuestion         = "question / inquiry"
	CategoryPartnership      = "partnership proposal"
	CategoryToxic            = "toxic / abusive"
	CategorySpam             = "spam / irrelevant"
)

// Store is the state-store surface the stages need. *store.Store implements
// it; tests substitute fakes (process-scoped state is injected, never
// reached through globals).
type Store interface {
	GetComment(ctx context.Context, id string) (*store.Comment, error)
	SetConversationID(ctx context.Context, commentID, conversationID string) error
	SetCommentHidden(ctx context.Context, commentID string, hidden bool) error

	EnsureClassification(ctx context.Context, commentID string) (*store.Classification, error)
	MarkClassificationProcessing(ctx context.Context, id int64, attempt int) error
	CompleteClassification(ctx context.Context, id int64, category string, confidence int, reasoning string, inputTokens, outputTokens int) error
	FailClassification(ctx context.Context, id int64, lastError string) error

	GetClassification(ctx context.Context, commentID string) (*store.Classification, error)
	EnsureAnswer(ctx context.Context, commentID string) (*store.Answer, error)
	GetAnswer(ctx context.Context, commentID string) (*store.Answer, error)
	MarkAnswerProcessing(ctx context.Context, id int64, attempt int) error
	CompleteAnswer(ctx context.Context, id int64, answer string, confidence float64, qualityScore, inputTokens, outputTokens int) error
	FailAnswer(ctx context.Context, id int64, lastError string) error
	ClaimUnsentReply(ctx context.Context, commentID string, send func(context.Context, *store.Answer) (store.ReplyReceipt, error)) (store.ClaimResult, error)

	GetMedia(ctx context.Context, id string) (*store.Media, error)
	SetMediaContext(ctx context.Context, mediaID, context string) error
}

// ClassifyRequest is the classifier input.
type ClassifyRequest struct {
	Text           string
	ConversationID string
	Username       string
	Media          *store.Media
}

// ClassifyResult is the classifier output.
type ClassifyResult struct {
	Category     string
	Confidence   int
	Reasoning    string
	InputTokens  int
	OutputTokens int
}

// Classifier assigns a category to a comment.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)
}

// AnswerRequest is the answer-generation input.
type AnswerRequest struct {
	Question       string
	ConversationID string
	Username       string
	Media          *store.Media
}

// AnswerResult is the answer-generation output.
type AnswerResult struct {
	Answer       string
	Confidence   float64
	QualityScore int
	InputTokens  int
	OutputTokens int
}

// Answerer generates an answer for a question comment.
type Answerer interface {
	Generate(ctx context.Context, req AnswerRequest) (AnswerResult, error)
}

// Replier talks to the social platform. SendReply is non-idempotent and
// non-reversible from the platform's point of view.
type Replier interface {
	SendReply(ctx context.Context, commentID, text string) (replyID string, err error)
	HideComment(ctx context.Context, commentID string, hide bool) error
}

// Locker is the TTL-bounded advisory lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Enqueuer inserts follow-up jobs. Each stage commits its own transition
// before enqueuing the next stage.
type Enqueuer interface {
	EnqueueAnswer(ctx context.Context, commentID string) error
	EnqueueReply(ctx context.Context, commentID string) error
	EnqueueHide(ctx context.Context, commentID string) error
	EnqueueNotify(ctx context.Context, commentID, category string) error
	EnqueueMediaAnalysis(ctx context.Context, mediaID string) error
}

// ImageAnalyzer produces a textual description of a media image.
type ImageAnalyzer interface {
	Describe(ctx context.Context, media *store.Media) (string, error)
}

// Lock key formats. TTLs are short so a crashed worker cannot wedge the
// pipeline.
const (
	ReplyLockTTL = 30 * time.Second
	HideLockTTL  = 30 * time.Second

	// MediaWaitDelay is the fixed re-check delay while media analysis runs.
	MediaWaitDelay = 30 * time.Second
)

func replyLockKey(commentID string) string { return fmt.Sprintf("reply:%s", commentID) }
func hideLockKey(commentID string) string  { return fmt.Sprintf("hide:%s", commentID) }

// ConversationID derives the stable grouping key for a comment thread from
// its root-most ancestor: the parent id for replies, the comment's own id
// otherwise.
func ConversationID(commentID string, parentID *string) string {
	root := commentID
	if parentID != nil && *parentID != "" {
		root = *parentID
	}
	return "first_question_comment_" + root
}
