// Package store is the pgx data layer for comments, classifications,
// answers and media. Stages own the write path for their record type while
// it is PROCESSING; the reply claim is the only place that takes a row lock.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool. One pool per worker process.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for the job queue driver, which shares it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const commentColumns = `id, media_id, parent_id, user_id, username, text, conversation_id, hidden, created_at, raw_data`

// GetComment loads a comment by its platform id.
func (s *Store) GetComment(ctx context.Context, id string) (*Comment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, id)
	return scanComment(row)
}

// CreateComment inserts a comment if it does not exist yet. Returns false
// when the id was already stored (duplicate webhook delivery).
func (s *Store) CreateComment(ctx context.Context, c *Comment) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO comments (id, media_id, parent_id, user_id, username, text, created_at, raw_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.MediaID, c.ParentID, c.UserID, c.Username, c.Text, c.CreatedAt, c.RawData)
	if err != nil {
		return false, fmt.Errorf("insert comment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetConversationID back-fills the derived conversation id.
func (s *Store) SetConversationID(ctx context.Context, commentID, conversationID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE comments SET conversation_id = $2 WHERE id = $1`, commentID, conversationID)
	return err
}

// SetCommentHidden records the hide state after a platform hide call.
func (s *Store) SetCommentHidden(ctx context.Context, commentID string, hidden bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE comments SET hidden = $2 WHERE id = $1`, commentID, hidden)
	return err
}

const classificationColumns = `id, comment_id, status, category, confidence, reasoning,
	input_tokens, output_tokens, retry_count, max_retries, last_error, started_at, completed_at`

// EnsureClassification loads the classification row for a comment, creating
// it in PENDING when absent.
func (s *Store) EnsureClassification(ctx context.Context, commentID string) (*Classification, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comment_classifications (comment_id, status)
		VALUES ($1, $2)
		ON CONFLICT (comment_id) DO NOTHING`, commentID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("ensure classification: %w", err)
	}
	return s.GetClassification(ctx, commentID)
}

// GetClassification loads the classification row for a comment.
func (s *Store) GetClassification(ctx context.Context, commentID string) (*Classification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+classificationColumns+` FROM comment_classifications WHERE comment_id = $1`, commentID)
	return scanClassification(row)
}

// MarkClassificationProcessing claims the record for this attempt. The
// attempt count comes from the queue's redelivery counter, not from the DB.
func (s *Store) MarkClassificationProcessing(ctx context.Context, id int64, attempt int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE comment_classifications
		SET status = $2, started_at = now(), retry_count = $3
		WHERE id = $1`, id, StatusProcessing, attempt)
	return err
}

// CompleteClassification persists provider output and finishes the record.
func (s *Store) CompleteClassification(ctx context.Context, id int64, category string, confidence int, reasoning string, inputTokens, outputTokens int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE comment_classifications
		SET status = $2, category = $3, confidence = $4, reasoning = $5,
		    input_tokens = $6, output_tokens = $7, last_error = NULL, completed_at = now()
		WHERE id = $1`,
		id, StatusCompleted, category, confidence, reasoning, inputTokens, outputTokens)
	return err
}

// FailClassification records a terminal-for-this-attempt failure.
func (s *Store) FailClassification(ctx context.Context, id int64, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE comment_classifications
		SET status = $2, last_error = $3
		WHERE id = $1`, id, StatusFailed, lastError)
	return err
}

const answerColumns = `id, comment_id, status, answer, confidence, quality_score,
	input_tokens, output_tokens, retry_count, max_retries, last_error, started_at, completed_at,
	reply_sent, reply_sent_at, reply_status, reply_error, reply_id`

// EnsureAnswer loads the answer row for a comment, creating it in PENDING
// when absent.
func (s *Store) EnsureAnswer(ctx context.Context, commentID string) (*Answer, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comment_answers (comment_id, status)
		VALUES ($1, $2)
		ON CONFLICT (comment_id) DO NOTHING`, commentID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("ensure answer: %w", err)
	}
	return s.GetAnswer(ctx, commentID)
}

// GetAnswer loads the answer row for a comment.
func (s *Store) GetAnswer(ctx context.Context, commentID string) (*Answer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+answerColumns+` FROM comment_answers WHERE comment_id = $1`, commentID)
	return scanAnswer(row)
}

// GetAnswerByReplyID finds the answer that produced a given platform
// reply id. Used by ingestion to recognize the bot's own replies echoed
// back through the webhook.
func (s *Store) GetAnswerByReplyID(ctx context.Context, replyID string) (*Answer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+answerColumns+` FROM comment_answers WHERE reply_id = $1`, replyID)
	return scanAnswer(row)
}

// MarkAnswerProcessing claims the record for this attempt.
func (s *Store) MarkAnswerProcessing(ctx context.Context, id int64, attempt int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE comment_answers
		SET status = $2, started_at = now(), retry_count = $3
		WHERE id = $1`, id, StatusProcessing, attempt)
	return err
}

// CompleteAnswer persists the generated answer and finishes the record.
func (s *Store) CompleteAnswer(ctx context.Context, id int64, answer string, confidence float64, qualityScore, inputTokens, outputTokens int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE comment_answers
		SET status = $2, answer = $3, confidence = $4, quality_score = $5,
		    input_tokens = $6, output_tokens = $7, last_error = NULL, completed_at = now()
		WHERE id = $1`,
		id, StatusCompleted, answer, confidence, qualityScore, inputTokens, outputTokens)
	return err
}

// FailAnswer records a terminal-for-this-attempt generation failure.
func (s *Store) FailAnswer(ctx context.Context, id int64, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE comment_answers
		SET status = $2, last_error = $3
		WHERE id = $1`, id, StatusFailed, lastError)
	return err
}

// ReplyReceipt is what a successful platform send yields.
type ReplyReceipt struct {
	ReplyID string
}

// ClaimResult reports how a reply claim ended.
type ClaimResult string

const (
	// ClaimSent means this transaction won the claim and recorded the send.
	ClaimSent ClaimResult = "sent"
	// ClaimUnavailable means the row was already claimed, locked by a
	// concurrent transaction, or the reply was already recorded.
	ClaimUnavailable ClaimResult = "unavailable"
	// ClaimDuplicate means a concurrent winner recorded the same reply_id
	// first; the unique constraint rejected ours.
	ClaimDuplicate ClaimResult = "duplicate_reply_id"
	// ClaimSendFailed means the claim was won but the platform send failed;
	// the failure is recorded on the row.
	ClaimSendFailed ClaimResult = "send_failed"
)

// ClaimUnsentReply is the authoritative duplicate-send guard. It re-selects
// the answer row with FOR UPDATE SKIP LOCKED, restricted to unsent rows, and
// runs send while holding the row lock. Advisory locks upstream are an
// optimization; this claim is the correctness mechanism.
func (s *Store) ClaimUnsentReply(ctx context.Context, commentID string, send func(context.Context, *Answer) (ReplyReceipt, error)) (ClaimResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+answerColumns+`
		FROM comment_answers
		WHERE comment_id = $1 AND reply_sent = false AND reply_id IS NULL
		FOR UPDATE SKIP LOCKED`, commentID)
	answer, err := scanAnswer(row)
	if errors.Is(err, ErrNotFound) {
		return ClaimUnavailable, nil
	}
	if err != nil {
		return "", fmt.Errorf("select for update: %w", err)
	}

	receipt, sendErr := send(ctx, answer)
	if sendErr != nil {
		_, err = tx.Exec(ctx, `
			UPDATE comment_answers
			SET reply_status = $2, reply_error = $3
			WHERE id = $1`, answer.ID, ReplyStatusFailed, sendErr.Error())
		if err != nil {
			return "", fmt.Errorf("record send failure: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("commit send failure: %w", err)
		}
		return ClaimSendFailed, sendErr
	}

	_, err = tx.Exec(ctx, `
		UPDATE comment_answers
		SET reply_sent = true, reply_sent_at = now(), reply_status = $2,
		    reply_error = NULL, reply_id = $3
		WHERE id = $1`, answer.ID, ReplyStatusSent, receipt.ReplyID)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return ClaimDuplicate, nil
		}
		return "", fmt.Errorf("record reply: %w", err)
	}
	return ClaimSent, nil
}

// GetMedia loads a media row.
func (s *Store) GetMedia(ctx context.Context, id string) (*Media, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, media_type, media_url, caption, media_context, permalink, username
		FROM media WHERE id = $1`, id)
	m := &Media{}
	err := row.Scan(&m.ID, &m.MediaType, &m.MediaURL, &m.Caption, &m.MediaContext, &m.Permalink, &m.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpsertMedia stores a media row from webhook or Graph API data.
func (s *Store) UpsertMedia(ctx context.Context, m *Media) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO media (id, media_type, media_url, caption, permalink, username)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			media_type = EXCLUDED.media_type,
			media_url = EXCLUDED.media_url,
			caption = EXCLUDED.caption,
			permalink = EXCLUDED.permalink,
			username = EXCLUDED.username`,
		m.ID, m.MediaType, m.MediaURL, m.Caption, m.Permalink, m.Username)
	return err
}

// SetMediaContext stores the image analysis result.
func (s *Store) SetMediaContext(ctx context.Context, mediaID, context string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE media SET media_context = $2 WHERE id = $1`, mediaID, context)
	return err
}

// ListRetryableClassifications finds FAILED or RETRY classifications still
// inside their retry budget. Bounded; used by the sweeper only.
func (s *Store) ListRetryableClassifications(ctx context.Context, limit int) ([]*Classification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+classificationColumns+`
		FROM comment_classifications
		WHERE status IN ($1, $2) AND retry_count < max_retries
		ORDER BY id
		LIMIT $3`, StatusFailed, StatusRetry, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, scanClassification)
}

// RearmClassification resets a swept record to PENDING and consumes one
// retry from its budget.
func (s *Store) RearmClassification(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE comment_classifications
		SET status = $2, retry_count = retry_count + 1, last_error = NULL
		WHERE id = $1`, id, StatusPending)
	return err
}

// ListRetryableAnswers finds FAILED answers still inside their retry budget.
func (s *Store) ListRetryableAnswers(ctx context.Context, limit int) ([]*Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+answerColumns+`
		FROM comment_answers
		WHERE status = $1 AND retry_count < max_retries
		ORDER BY id
		LIMIT $2`, StatusFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, scanAnswer)
}

// RearmAnswer resets a swept answer to PENDING and consumes one retry.
func (s *Store) RearmAnswer(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE comment_answers
		SET status = $2, retry_count = retry_count + 1, last_error = NULL
		WHERE id = $1`, id, StatusPending)
	return err
}

// ListUnsentAnswers finds completed answers whose reply was never recorded.
// Nested comments are answered but never dispatched, so their rows stay
// reply_sent=false forever; excluding them keeps the sweep from re-queuing
// work the dispatch stage refuses.
func (s *Store) ListUnsentAnswers(ctx context.Context, limit int) ([]*Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+answerColumns+`
		FROM comment_answers
		WHERE status = $1 AND answer IS NOT NULL AND reply_sent = false
		  AND comment_id IN (SELECT id FROM comments WHERE parent_id IS NULL)
		ORDER BY id
		LIMIT $2`, StatusCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows, scanAnswer)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanComment(row pgx.Row) (*Comment, error) {
	c := &Comment{}
	err := row.Scan(&c.ID, &c.MediaID, &c.ParentID, &c.UserID, &c.Username,
		&c.Text, &c.ConversationID, &c.Hidden, &c.CreatedAt, &c.RawData)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanClassification(row pgx.Row) (*Classification, error) {
	c := &Classification{}
	err := row.Scan(&c.ID, &c.CommentID, &c.Status, &c.Category, &c.Confidence,
		&c.Reasoning, &c.InputTokens, &c.OutputTokens, &c.RetryCount,
		&c.MaxRetries, &c.LastError, &c.StartedAt, &c.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanAnswer(row pgx.Row) (*Answer, error) {
	a := &Answer{}
	err := row.Scan(&a.ID, &a.CommentID, &a.Status, &a.Answer, &a.Confidence,
		&a.QualityScore, &a.InputTokens, &a.OutputTokens, &a.RetryCount,
		&a.MaxRetries, &a.LastError, &a.StartedAt, &a.CompletedAt,
		&a.ReplySent, &a.ReplySentAt, &a.ReplyStatus, &a.ReplyError, &a.ReplyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
