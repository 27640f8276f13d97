// Package gemini classifies text with a Gemini model instructed to answer with
// one label of the text vocabulary.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/datastructures"
)

const DefaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey         string
	Model          string
	AuthenticLabel string
	SyntheticLabel string
}

type Engine struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

type answer struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func New(ctx context.Context, cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	name := strings.TrimSpace(cfg.Model)
	if name == "" {
		name = DefaultModel
	}
	authentic, synthetic := cfg.AuthenticLabel, cfg.SyntheticLabel
	if authentic == "" {
		authentic = "TRUE"
	}
	if synthetic == "" {
		synthetic = "FAKE"
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(cfg.APIKey)))
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	m := cl.GenerativeModel(name)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"label":      {Type: genai.TypeString, Enum: []string{authentic, synthetic}},
				"confidence": {Type: genai.TypeNumber},
			},
			Required: []string{"label"},
		},
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(fmt.Sprintf(
			"You judge whether a text passage was written by a human or generated by a machine. "+
				"Answer only with JSON. Use label %q for human written text and %q for machine generated text.",
			authentic, synthetic))},
	}

	return &Engine{client: cl, model: m, name: name}, nil
}

func Factory(cfg Config) backend.TextFactory {
	return func(ctx context.Context) (backend.TextClassifier, error) {
		return New(ctx, cfg)
	}
}

func (e *Engine) ClassifyText(ctx context.Context, text string) (backend.TextOutput, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return backend.TextOutput{}, fmt.Errorf("gemini: %w", err)
	}
	txt := firstText(resp)
	if txt == "" {
		return backend.TextOutput{}, fmt.Errorf("%w: gemini: empty response", backend.ErrMalformedOutput)
	}

	a, err := parseAnswer(txt)
	if err != nil {
		return backend.TextOutput{}, err
	}
	return backend.TextOutput{Label: a.Label, Score: a.Confidence}, nil
}

func (e *Engine) ModelInfo() datastructures.ModelInfo {
	return datastructures.ModelInfo{Name: e.name, BasedOn: "gemini"}
}

func (e *Engine) Close() error {
	return e.client.Close()
}

func parseAnswer(txt string) (answer, error) {
	txt = strings.TrimSpace(txt)
	txt = strings.TrimPrefix(txt, "```json")
	txt = strings.TrimPrefix(txt, "```")
	txt = strings.TrimSuffix(txt, "```")

	var a answer
	if err := json.Unmarshal([]byte(strings.TrimSpace(txt)), &a); err != nil {
		return answer{}, fmt.Errorf("%w: gemini: bad JSON: %v", backend.ErrMalformedOutput, err)
	}
	return a, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(f float32) *float32 { return &f }
