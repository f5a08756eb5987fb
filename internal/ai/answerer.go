package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/commentflow/internal/pipeline"
	"github.com/commentflow/internal/retry"
	"github.com/commentflow/internal/store"
)

const answerPromptTemplate = `You are the official account answering a customer question in an Instagram comment thread.
Write a short, friendly, helpful reply. Rules:
- Answer only from the post context below; if the context does not cover it, politely ask the customer to send a direct message
- At most 2-3 sentences, plain text, no hashtags
- Match the language of the question

Post context:
%s

Question from @%s (thread %s):
%s

Respond with ONLY a JSON object, no markdown, in this exact shape:
{"answer": "<the reply text>", "confidence": <0.0-1.0>, "quality_score": <0-100>}`

// Answerer generates replies for question comments.
type Answerer struct {
	connector *Connector
	logger    zerolog.Logger
}

// NewAnswerer wires an Answerer on a shared connector.
func NewAnswerer(connector *Connector, logger zerolog.Logger) *Answerer {
	return &Answerer{
		connector: connector,
		logger:    logger.With().Str("component", "answerer").Logger(),
	}
}

type answerPayload struct {
	Answer       string  `json:"answer"`
	Confidence   float64 `json:"confidence"`
	QualityScore int     `json:"quality_score"`
}

// Generate implements pipeline.Answerer.
func (a *Answerer) Generate(ctx context.Context, req pipeline.AnswerRequest) (pipeline.AnswerResult, error) {
	prompt := fmt.Sprintf(answerPromptTemplate,
		mediaContext(req.Media), req.Username, req.ConversationID, req.Question)

	response, err := a.connector.Call(ctx, prompt)
	if err != nil {
		return pipeline.AnswerResult{}, classifyCallError(err)
	}

	var payload answerPayload
	if err := DecodeModelJSON(response, &payload); err != nil {
		return pipeline.AnswerResult{}, retry.Transient(fmt.Errorf("parse answer: %w", err))
	}

	payload.Answer = strings.TrimSpace(payload.Answer)
	if payload.Answer == "" {
		return pipeline.AnswerResult{}, retry.Transient(fmt.Errorf("model returned empty answer"))
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}
	payload.QualityScore = clamp(payload.QualityScore, 0, 100)

	a.logger.Debug().
		Str("conversation_id", req.ConversationID).
		Float64("confidence", payload.Confidence).
		Int("quality_score", payload.QualityScore).
		Msg("Answer generated")

	return pipeline.AnswerResult{
		Answer:       payload.Answer,
		Confidence:   payload.Confidence,
		QualityScore: payload.QualityScore,
		InputTokens:  estimateTokens(prompt),
		OutputTokens: estimateTokens(response),
	}, nil
}

// mediaContext renders whatever is known about the post for prompt
// interpolation.
func mediaContext(media *store.Media) string {
	if media == nil {
		return "(no post context available)"
	}

	var b strings.Builder
	if media.Caption != nil && *media.Caption != "" {
		fmt.Fprintf(&b, "Caption: %s\n", *media.Caption)
	}
	if media.MediaContext != nil && *media.MediaContext != "" {
		fmt.Fprintf(&b, "Image description: %s\n", *media.MediaContext)
	}
	if b.Len() == 0 {
		return "(no post context available)"
	}
	return strings.TrimRight(b.String(), "\n")
}
