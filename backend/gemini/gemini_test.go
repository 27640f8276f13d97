package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claritylab/claritylab/backend"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		label string
	}{
		{name: "plain json", input: `{"label":"TRUE","confidence":0.7}`, label: "TRUE"},
		{name: "fenced json", input: "```json\n{\"label\":\"FAKE\"}\n```", label: "FAKE"},
		{name: "surrounding space", input: "  {\"label\":\"FAKE\"}  ", label: "FAKE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := parseAnswer(tt.input)

			require.NoError(t, err)
			assert.Equal(t, tt.label, a.Label)
		})
	}

	_, err := parseAnswer("I think it is fake")
	assert.ErrorIs(t, err, backend.ErrMalformedOutput)
}

func TestFirstText(t *testing.T) {
	assert.Equal(t, "", firstText(nil))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"label":"TRUE"}`)}}},
		},
	}
	assert.Equal(t, `{"label":"TRUE"}`, firstText(resp))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
