package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/commentflow/internal/pipeline"
	"github.com/commentflow/internal/retry"
)

const classifyPromptTemplate = `You are a social media comment triage assistant for a business account.
Classify the comment below into exactly one category:

- "positive feedback": praise, thanks, compliments about the product or service
- "critical feedback": negative but constructive criticism
- "urgent issue / complaint": broken product, refund demand, angry customer needing immediate attention
- "question / inquiry": any question about the product, price, availability, delivery or business
- "partnership proposal": collaboration, sponsorship or advertising offers
- "toxic / abusive": insults, hate speech, harassment
- "spam / irrelevant": promotion of other accounts, bots, off-topic noise

Post context:
%s

Comment by @%s:
%s

Respond with ONLY a JSON object, no markdown, in this exact shape:
{"category": "<one of the categories above>", "confidence": <0-100>, "reasoning": "<one short sentence>"}`

// Classifier categorizes comments with one LLM call per comment.
type Classifier struct {
	connector *Connector
	logger    zerolog.Logger
}

// NewClassifier wires a Classifier on a shared connector.
func NewClassifier(connector *Connector, logger zerolog.Logger) *Classifier {
	return &Classifier{
		connector: connector,
		logger:    logger.With().Str("component", "classifier").Logger(),
	}
}

type classifyPayload struct {
	Category   string `json:"category"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

var validCategories = map[string]bool{
	pipeline.CategoryPositiveFeedback: true,
	pipeline.CategoryCriticalFeedback: true,
	pipeline.CategoryUrgentIssue:      true,
	pipeline.CategoryQuestion:         true,
	pipeline.CategoryPartnership:      true,
	pipeline.CategoryToxic:            true,
	pipeline.CategorySpam:             true,
}

// Classify implements pipeline.Classifier.
func (c *Classifier) Classify(ctx context.Context, req pipeline.ClassifyRequest) (pipeline.ClassifyResult, error) {
	prompt := fmt.Sprintf(classifyPromptTemplate, mediaContext(req.Media), req.Username, req.Text)

	response, err := c.connector.Call(ctx, prompt)
	if err != nil {
		return pipeline.ClassifyResult{}, classifyCallError(err)
	}

	var payload classifyPayload
	if err := DecodeModelJSON(response, &payload); err != nil {
		// The model produced prose instead of JSON. A second call with the
		// same prompt usually recovers.
		return pipeline.ClassifyResult{}, retry.Transient(fmt.Errorf("parse classification: %w", err))
	}

	payload.Category = strings.ToLower(strings.TrimSpace(payload.Category))
	if !validCategories[payload.Category] {
		return pipeline.ClassifyResult{}, retry.Transient(fmt.Errorf("unknown category %q", payload.Category))
	}
	if payload.Confidence < 0 || payload.Confidence > 100 {
		payload.Confidence = clamp(payload.Confidence, 0, 100)
	}

	c.logger.Debug().
		Str("conversation_id", req.ConversationID).
		Str("category", payload.Category).
		Int("confidence", payload.Confidence).
		Msg("Classification complete")

	return pipeline.ClassifyResult{
		Category:     payload.Category,
		Confidence:   payload.Confidence,
		Reasoning:    payload.Reasoning,
		InputTokens:  estimateTokens(prompt),
		OutputTokens: estimateTokens(response),
	}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
