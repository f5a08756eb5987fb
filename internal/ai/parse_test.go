package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classification struct {
	Category   string `json:"category"`
	Confidence int    `json:"confidence"`
}

func TestDecodeModelJSONValid(t *testing.T) {
	var out classification
	err := DecodeModelJSON(`{"category": "question / inquiry", "confidence": 92}`, &out)
	require.NoError(t, err)
	assert.Equal(t, "question / inquiry", out.Category)
	assert.Equal(t, 92, out.Confidence)
}

func TestDecodeModelJSONStripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"category\": \"spam / irrelevant\", \"confidence\": 70}\n```"
	var out classification
	err := DecodeModelJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "spam / irrelevant", out.Category)
}

func TestDecodeModelJSONIgnoresSurroundingProse(t *testing.T) {
	raw := `Sure! Here is the classification:
{"category": "positive feedback", "confidence": 88}
Let me know if you need anything else.`
	var out classification
	err := DecodeModelJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "positive feedback", out.Category)
}

func TestDecodeModelJSONRepairsBrokenOutput(t *testing.T) {
	// Trailing comma and single quotes, both common model slips.
	raw := `{'category': 'toxic / abusive', 'confidence': 95,}`
	var out classification
	err := DecodeModelJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "toxic / abusive", out.Category)
	assert.Equal(t, 95, out.Confidence)
}

func TestDecodeModelJSONRepairsTruncatedObject(t *testing.T) {
	raw := `{"category": "question / inquiry", "confidence": 80`
	var out classification
	err := DecodeModelJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "question / inquiry", out.Category)
}

func TestDecodeModelJSONRejectsProse(t *testing.T) {
	var out classification
	err := DecodeModelJSON("I cannot classify this comment.", &out)
	assert.Error(t, err)
}
