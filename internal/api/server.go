// Package api exposes the HTTP surface: the Instagram webhook endpoints
// and a small read API over processed comments.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/commentflow/internal/store"
)

// Enqueuer is the queue surface ingestion needs.
type Enqueuer interface {
	EnqueueClassify(ctx context.Context, commentID string) error
}

// Store is the persistence surface the HTTP handlers use. *store.Store
// implements it.
type Store interface {
	GetComment(ctx context.Context, id string) (*store.Comment, error)
	CreateComment(ctx context.Context, c *store.Comment) (bool, error)
	GetClassification(ctx context.Context, commentID string) (*store.Classification, error)
	EnsureClassification(ctx context.Context, commentID string) (*store.Classification, error)
	GetAnswer(ctx context.Context, commentID string) (*store.Answer, error)
	GetAnswerByReplyID(ctx context.Context, replyID string) (*store.Answer, error)
	GetMedia(ctx context.Context, id string) (*store.Media, error)
	UpsertMedia(ctx context.Context, m *store.Media) error
}

// MediaFetcher resolves media metadata for posts seen for the first time.
type MediaFetcher interface {
	GetMedia(ctx context.Context, mediaID string) (MediaInfo, error)
}

// MediaInfo mirrors the Graph API media fields ingestion stores.
type MediaInfo struct {
	ID        string
	MediaType string
	MediaURL  string
	Caption   string
	Permalink string
	Username  string
}

// Server represents the API server
type Server struct {
	echo   *echo.Echo
	port   int
	logger zerolog.Logger

	store       Store
	queue       Enqueuer
	media       MediaFetcher
	secret      string
	verifyToken string
	accountID   string
}

// Options configures a Server.
type Options struct {
	Port  int
	Store Store
	Queue Enqueuer
	Media MediaFetcher
	// Secret signs webhook payloads (X-Hub-Signature-256).
	Secret string
	// VerifyToken answers the subscription handshake.
	VerifyToken string
	// AccountID is the business account; its own comments are dropped.
	AccountID string
	Logger    zerolog.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:        e,
		port:        opts.Port,
		logger:      opts.Logger.With().Str("component", "api").Logger(),
		store:       opts.Store,
		queue:       opts.Queue,
		media:       opts.Media,
		secret:      opts.Secret,
		verifyToken: opts.VerifyToken,
		accountID:   opts.AccountID,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.GET("/webhook", s.verifyWebhook)
	s.echo.POST("/webhook", s.receiveWebhook)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/comments/:id", s.getComment)
}

// Start begins serving and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

type commentResponse struct {
	ID             string  `json:"id"`
	MediaID        string  `json:"media_id"`
	Username       string  `json:"username"`
	Text           string  `json:"text"`
	Hidden         bool    `json:"hidden"`
	Classification *string `json:"classification,omitempty"`
	Confidence     *int    `json:"confidence,omitempty"`
	Answer         *string `json:"answer,omitempty"`
	ReplySent      bool    `json:"reply_sent"`
	ReplyID        *string `json:"reply_id,omitempty"`
}

func (s *Server) getComment(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	comment, err := s.store.GetComment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "comment not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}

	resp := commentResponse{
		ID:       comment.ID,
		MediaID:  comment.MediaID,
		Username: comment.Username,
		Text:     comment.Text,
		Hidden:   comment.Hidden,
	}

	if classification, err := s.store.GetClassification(ctx, id); err == nil {
		resp.Classification = classification.Category
		resp.Confidence = classification.Confidence
	}
	if answer, err := s.store.GetAnswer(ctx, id); err == nil {
		resp.Answer = answer.Answer
		resp.ReplySent = answer.ReplySent
		resp.ReplyID = answer.ReplyID
	}

	return c.JSON(http.StatusOK, resp)
}
