// Package instagram is a minimal Instagram Graph API client covering the
// operations the pipeline needs: replying to comments, hiding comments and
// fetching media metadata.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/commentflow/internal/retry"
)

const DefaultBaseURL = "https://graph.instagram.com/v23.0"

// Client talks to the Instagram Graph API. All calls pass through a shared
// rate limiter so a burst of jobs cannot trip the platform's app-level
// throttling.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	AccessToken string
	// RequestsPerSecond caps outbound calls. Zero means the default of 5.
	RequestsPerSecond float64
	Logger            zerolog.Logger
}

// New creates a Graph API client.
func New(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: opts.AccessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:      opts.Logger.With().Str("component", "instagram").Logger(),
	}
}

type replyResponse struct {
	ID string `json:"id"`
}

// SendReply posts text as a reply under a comment and returns the platform
// id of the created reply.
func (c *Client) SendReply(ctx context.Context, commentID, text string) (string, error) {
	form := url.Values{}
	form.Set("message", text)

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/%s/replies", commentID), form)
	if err != nil {
		return "", err
	}

	var resp replyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", retry.Transient(fmt.Errorf("decode reply response: %w", err))
	}
	if resp.ID == "" {
		return "", retry.Transient(fmt.Errorf("reply response missing id"))
	}

	c.logger.Info().Str("comment_id", commentID).Str("reply_id", resp.ID).Msg("reply posted")
	return resp.ID, nil
}

// HideComment sets the hidden flag on a comment. The operation is
// idempotent on the platform side.
func (c *Client) HideComment(ctx context.Context, commentID string, hide bool) error {
	form := url.Values{}
	form.Set("hide", strconv.FormatBool(hide))

	if _, err := c.do(ctx, http.MethodPost, "/"+commentID, form); err != nil {
		return err
	}

	c.logger.Info().Str("comment_id", commentID).Bool("hide", hide).Msg("comment visibility updated")
	return nil
}

// MediaInfo is the subset of media fields the pipeline stores.
type MediaInfo struct {
	ID        string `json:"id"`
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
	Caption   string `json:"caption"`
	Permalink string `json:"permalink"`
	Username  string `json:"username"`
}

// GetMedia fetches media metadata for webhook ingestion.
func (c *Client) GetMedia(ctx context.Context, mediaID string) (*MediaInfo, error) {
	form := url.Values{}
	form.Set("fields", "id,media_type,media_url,caption,permalink,username")

	body, err := c.do(ctx, http.MethodGet, "/"+mediaID, form)
	if err != nil {
		return nil, err
	}

	var info MediaInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, retry.Transient(fmt.Errorf("decode media response: %w", err))
	}
	return &info, nil
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// do executes one Graph API call and maps failures onto the retry taxonomy.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Transient(err)
	}

	form.Set("access_token", c.accessToken)

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+form.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, retry.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("graph api request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read graph api response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	callErr := graphError(resp.StatusCode, body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.RateLimited(callErr, retryAfter(resp))
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.NotFound(callErr)
	case resp.StatusCode >= 500:
		return nil, retry.Transient(callErr)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return nil, retry.Permanent(callErr)
	default:
		return nil, retry.Transient(callErr)
	}
}

func graphError(status int, body []byte) error {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("graph api %d: %s (type=%s code=%d)",
			status, apiErr.Error.Message, apiErr.Error.Type, apiErr.Error.Code)
	}
	return fmt.Errorf("graph api %d: %s", status, strings.TrimSpace(string(body)))
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 60 * time.Second
}
