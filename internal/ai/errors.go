package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/commentflow/internal/retry"
)

// classifyCallError maps a provider call failure onto the retry taxonomy.
// The langchaingo providers surface HTTP failures as opaque error strings,
// so classification is by substring.
func classifyCallError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient(err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "overloaded"):
		return retry.RateLimited(err, 60*time.Second)
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "billing"):
		return retry.Permanent(err)
	default:
		return retry.Transient(err)
	}
}

// estimateTokens approximates token usage at four characters per token.
// GenerateFromSinglePrompt does not expose usage counts uniformly across
// providers, and the counts are only recorded for cost reporting.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
