package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/commentflow/internal/retry"
	"github.com/commentflow/internal/store"
)

const analyzePrompt = `Describe this social media post image for a customer support assistant.
Cover: what product or scene is shown, any visible text or prices, and the overall mood.
Keep it under 150 words of plain prose.`

// Analyzer describes post images so classification and answering can use
// visual context. Requires a vision-capable model on the connector.
type Analyzer struct {
	connector *Connector
	logger    zerolog.Logger
}

// NewAnalyzer wires an Analyzer on a shared connector.
func NewAnalyzer(connector *Connector, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		connector: connector,
		logger:    logger.With().Str("component", "analyzer").Logger(),
	}
}

// Describe implements pipeline.ImageAnalyzer.
func (a *Analyzer) Describe(ctx context.Context, media *store.Media) (string, error) {
	if media == nil || media.MediaURL == nil || *media.MediaURL == "" {
		return "", retry.Permanent(fmt.Errorf("media has no image url"))
	}

	prompt := analyzePrompt
	if media.Caption != nil && *media.Caption != "" {
		prompt = fmt.Sprintf("%s\n\nThe post caption is: %s", analyzePrompt, *media.Caption)
	}

	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.ImageURLPart(*media.MediaURL),
				llms.TextPart(prompt),
			},
		},
	}

	resp, err := a.connector.GenerateContent(ctx, messages)
	if err != nil {
		return "", classifyCallError(err)
	}
	if len(resp.Choices) == 0 {
		return "", retry.Transient(fmt.Errorf("model returned no choices"))
	}

	description := strings.TrimSpace(resp.Choices[0].Content)
	if description == "" {
		return "", retry.Transient(fmt.Errorf("model returned empty description"))
	}

	a.logger.Debug().
		Str("media_id", media.ID).
		Int("length", len(description)).
		Msg("Media described")

	return description, nil
}
