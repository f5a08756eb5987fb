package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Processing status values shared by classification and answer records.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusRetry      = "RETRY"
)

// Reply delivery status values.
const (
	ReplyStatusSent    = "sent"
	ReplyStatusFailed  = "failed"
	ReplyStatusDeleted = "deleted"
)

// Comment is a platform comment as received from the webhook. The id is
// assigned by the platform and globally unique. Text is immutable once
// ingested; conversation_id is back-filled lazily by the first stage that
// needs it.
type Comment struct {
	ID             string
	MediaID        string
	ParentID       *string
	UserID         string
	Username       string
	Text           string
	ConversationID *string
	Hidden         bool
	CreatedAt      time.Time
	RawData        []byte
}

// Classification is the one-to-one classification record for a comment.
type Classification struct {
	ID           int64
	CommentID    string
	Status       string
	Category     *string
	Confidence   *int
	Reasoning    *string
	InputTokens  *int
	OutputTokens *int
	RetryCount   int
	MaxRetries   int
	LastError    *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Answer is the one-to-one generated answer record for a comment, including
// reply delivery tracking. reply_id carries a UNIQUE constraint; it is the
// system's authoritative duplicate-reply guard.
type Answer struct {
	ID           int64
	CommentID    string
	Status       string
	Answer       *string
	Confidence   *float64
	QualityScore *int
	InputTokens  *int
	OutputTokens *int
	RetryCount   int
	MaxRetries   int
	LastError    *string
	StartedAt    *time.Time
	CompletedAt  *time.Time

	ReplySent   bool
	ReplySentAt *time.Time
	ReplyStatus *string
	ReplyError  *string
	ReplyID     *string
}

// Media is the post a comment belongs to. MediaContext holds the AI image
// analysis that classification may have to wait for.
type Media struct {
	ID           string
	MediaType    string
	MediaURL     *string
	Caption      *string
	MediaContext *string
	Permalink    *string
	Username     *string
}

// NeedsContext reports whether classification should wait for image analysis
// before classifying comments on this media.
func (m *Media) NeedsContext() bool {
	isImage := m.MediaType == "IMAGE" || m.MediaType == "CAROUSEL_ALBUM"
	return isImage && m.MediaURL != nil && *m.MediaURL != "" &&
		(m.MediaContext == nil || *m.MediaContext == "")
}
