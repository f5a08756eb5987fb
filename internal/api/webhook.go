package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/commentflow/internal/store"
)

// Webhook payload shapes, per the Instagram comments subscription.
type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value commentValue `json:"value"`
}

type commentValue struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	ParentID *string `json:"parent_id"`
	From     struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Media struct {
		ID               string `json:"id"`
		MediaProductType string `json:"media_product_type"`
	} `json:"media"`
}

// verifyWebhook answers the platform's subscription handshake by echoing
// hub.challenge back when the verify token matches.
func (s *Server) verifyWebhook(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	challenge := c.QueryParam("hub.challenge")
	token := c.QueryParam("hub.verify_token")

	if mode != "subscribe" || challenge == "" || token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing verification parameters")
	}
	if token != s.verifyToken {
		s.logger.Warn().Msg("webhook verification with wrong token")
		return echo.NewHTTPError(http.StatusForbidden, "verify token mismatch")
	}

	return c.String(http.StatusOK, challenge)
}

// receiveWebhook ingests comment events. Ingestion is deliberately thin:
// validate, persist, queue classification. Everything else happens in
// workers so the platform gets its 200 fast.
func (s *Server) receiveWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	if !s.validSignature(c.Request().Header.Get("X-Hub-Signature-256"), body) {
		s.logger.Warn().Msg("webhook with missing or invalid signature")
		return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}
	if payload.Object != "instagram" {
		return echo.NewHTTPError(http.StatusBadRequest, "unexpected object type")
	}

	// Delivery id ties every log line from one webhook POST together.
	deliveryID := uuid.NewString()
	logger := s.logger.With().Str("delivery_id", deliveryID).Logger()

	accepted := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "comments" {
				continue
			}
			if s.ingestComment(c, logger, entry, change.Value) {
				accepted++
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"delivery_id": deliveryID,
		"accepted":    accepted,
	})
}

// validSignature checks the X-Hub-Signature-256 HMAC over the raw body.
func (s *Server) validSignature(header string, body []byte) bool {
	if s.secret == "" {
		return true
	}
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok || provided == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(provided), []byte(expected))
}

// ingestComment persists one comment and queues classification. Returns
// false for drops (self comments, bot replies, duplicates, invalid data).
func (s *Server) ingestComment(c echo.Context, parent zerolog.Logger, entry webhookEntry, comment commentValue) bool {
	ctx := c.Request().Context()
	logger := parent.With().Str("comment_id", comment.ID).Logger()

	if comment.ID == "" || comment.Media.ID == "" || strings.TrimSpace(comment.Text) == "" {
		logger.Warn().Msg("comment event missing required fields")
		return false
	}

	// Never process our own activity: comments by the business account,
	// comments that are one of our recorded replies, or user replies
	// underneath one of our replies.
	if s.accountID != "" && comment.From.ID == s.accountID {
		logger.Debug().Msg("own comment, dropped")
		return false
	}
	if _, err := s.store.GetAnswerByReplyID(ctx, comment.ID); err == nil {
		logger.Debug().Msg("own reply echoed back, dropped")
		return false
	}
	if comment.ParentID != nil && *comment.ParentID != "" {
		if _, err := s.store.GetAnswerByReplyID(ctx, *comment.ParentID); err == nil {
			logger.Debug().Msg("reply to our own reply, dropped")
			return false
		}
	}

	s.ensureMedia(c, comment.Media.ID)

	raw, _ := json.Marshal(comment)
	inserted, err := s.store.CreateComment(ctx, &store.Comment{
		ID:        comment.ID,
		MediaID:   comment.Media.ID,
		ParentID:  comment.ParentID,
		UserID:    comment.From.ID,
		Username:  comment.From.Username,
		Text:      comment.Text,
		CreatedAt: time.Unix(entry.Time, 0).UTC(),
		RawData:   raw,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist comment")
		return false
	}
	if !inserted {
		logger.Debug().Msg("duplicate delivery, dropped")
		return false
	}

	if _, err := s.store.EnsureClassification(ctx, comment.ID); err != nil {
		logger.Error().Err(err).Msg("failed to create classification record")
		// The sweep-side net is gone without the record; the classify job
		// below recreates it on first run.
	}
	if err := s.queue.EnqueueClassify(ctx, comment.ID); err != nil {
		logger.Error().Err(err).Msg("failed to queue classification")
		return false
	}

	logger.Info().Str("username", comment.From.Username).Msg("comment accepted")
	return true
}

// ensureMedia makes sure a media row exists, fetching metadata from the
// platform on first sight. Failures are logged only; classification
// proceeds without post context.
func (s *Server) ensureMedia(c echo.Context, mediaID string) {
	ctx := c.Request().Context()

	_, err := s.store.GetMedia(ctx, mediaID)
	if err == nil {
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Error().Err(err).Str("media_id", mediaID).Msg("media lookup failed")
		return
	}

	record := &store.Media{ID: mediaID}
	if s.media != nil {
		info, err := s.media.GetMedia(ctx, mediaID)
		if err != nil {
			s.logger.Warn().Err(err).Str("media_id", mediaID).Msg("media fetch failed")
		} else {
			record.MediaType = info.MediaType
			record.MediaURL = optional(info.MediaURL)
			record.Caption = optional(info.Caption)
			record.Permalink = optional(info.Permalink)
			record.Username = optional(info.Username)
		}
	}

	if err := s.store.UpsertMedia(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("media_id", mediaID).Msg("failed to persist media")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
