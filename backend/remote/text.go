package remote

import (
	"context"

	"github.com/go-resty/resty/v2"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/datastructures"
)

type TextClassifier struct {
	client *resty.Client
	url    string
	model  string
}

func NewTextClassifier(cfg Config) (*TextClassifier, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &TextClassifier{client: client, url: cfg.URL, model: cfg.Model}, nil
}

// TextFactory adapts NewTextClassifier to the registry.
func TextFactory(cfg Config) backend.TextFactory {
	return func(context.Context) (backend.TextClassifier, error) {
		return NewTextClassifier(cfg)
	}
}

// ClassifyText returns the top scoring label. An empty answer yields an empty
// label, which the verdict layer rejects.
func (c *TextClassifier) ClassifyText(ctx context.Context, text string) (backend.TextOutput, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(datastructures.TextInferenceRequest{Inputs: text}).
		Post(c.url)
	if err != nil {
		return backend.TextOutput{}, err
	}
	if err := checkResponse(resp); err != nil {
		return backend.TextOutput{}, err
	}

	scores, err := decodeScores(resp.Body())
	if err != nil {
		return backend.TextOutput{}, err
	}

	var out backend.TextOutput
	for i, s := range scores {
		if i == 0 || s.Score > out.Score {
			out = backend.TextOutput{Label: s.Label, Score: s.Score}
		}
	}
	return out, nil
}

func (c *TextClassifier) ModelInfo() datastructures.ModelInfo {
	return datastructures.ModelInfo{Name: c.model}
}
