// Package notify delivers operator alerts for comments that need a human:
// urgent complaints, critical feedback and partnership proposals.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/commentflow/internal/retry"
)

// Alert is one operator notification.
type Alert struct {
	CommentID  string
	Username   string
	Text       string
	Category   string
	Confidence int
	Reasoning  string
	Permalink  string
}

// Notifier delivers alerts. The Telegram implementation is the only one;
// the interface exists so worker tests can capture alerts in memory.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// Telegram sends alerts through the Bot API sendMessage endpoint.
type Telegram struct {
	baseURL    string
	botToken   string
	chatID     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// TelegramOptions configures a Telegram notifier.
type TelegramOptions struct {
	// BaseURL overrides the Bot API host in tests.
	BaseURL  string
	BotToken string
	ChatID   string
	Logger   zerolog.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(opts TelegramOptions) *Telegram {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Telegram{
		baseURL:    strings.TrimRight(baseURL, "/"),
		botToken:   opts.BotToken,
		chatID:     opts.ChatID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     opts.Logger.With().Str("component", "notify").Logger(),
	}
}

var categoryHeadings = map[string]string{
	"urgent issue / complaint": "🚨 Urgent issue",
	"critical feedback":        "⚠️ Critical feedback",
	"partnership proposal":     "🤝 Partnership proposal",
}

// Send implements Notifier.
func (t *Telegram) Send(ctx context.Context, alert Alert) error {
	heading, ok := categoryHeadings[alert.Category]
	if !ok {
		heading = "📣 Comment alert"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", heading)
	fmt.Fprintf(&b, "• <b>From:</b> @%s\n", escapeHTML(alert.Username))
	fmt.Fprintf(&b, "• <b>Comment:</b> %s\n", escapeHTML(alert.Text))
	fmt.Fprintf(&b, "• <b>Confidence:</b> %d%%\n", alert.Confidence)
	if alert.Reasoning != "" {
		fmt.Fprintf(&b, "• <b>Reasoning:</b> %s\n", escapeHTML(alert.Reasoning))
	}
	if alert.Permalink != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Open post</a>", alert.Permalink)
	}

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", b.String())
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "true")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("telegram request: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode == http.StatusTooManyRequests {
		return retry.RateLimited(telegramError(resp.StatusCode, body), 30*time.Second)
	}
	if resp.StatusCode >= 500 {
		return retry.Transient(telegramError(resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Permanent(telegramError(resp.StatusCode, body))
	}

	t.logger.Info().
		Str("comment_id", alert.CommentID).
		Str("category", alert.Category).
		Msg("operator alert sent")
	return nil
}

func telegramError(status int, body []byte) error {
	var resp struct {
		Description string `json:"description"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Description != "" {
		return fmt.Errorf("telegram api %d: %s", status, resp.Description)
	}
	return fmt.Errorf("telegram api %d", status)
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
