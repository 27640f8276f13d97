// Package remote talks to classifiers served over HTTP in the Hugging Face
// inference style: text goes out as {"inputs": "..."}, images as raw JPEG
// bodies, and both come back as a list of {label, score} objects.
package remote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/datastructures"
)

const defaultTimeout = 60 * time.Second

type Config struct {
	URL     string
	Token   string
	Model   string
	Timeout time.Duration
	// JPEGQuality is used when re-encoding images for upload. Zero means 95.
	JPEGQuality int
}

func newClient(cfg Config) (*resty.Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid inference url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid inference url %q", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return client, nil
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		return fmt.Errorf("inference server returned status %d: %s", resp.StatusCode(), body.Error)
	}
	return fmt.Errorf("inference server returned status %d: %s", resp.StatusCode(), string(resp.Body()))
}

// decodeScores accepts both [{...}] and [[{...}]] and returns the first list.
func decodeScores(body []byte) ([]datastructures.LabelScore, error) {
	var flat []datastructures.LabelScore
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var nested [][]datastructures.LabelScore
	if err := json.Unmarshal(body, &nested); err != nil {
		return nil, fmt.Errorf("%w: couldn't decode inference response: %v", backend.ErrMalformedOutput, err)
	}
	if len(nested) == 0 {
		return nil, fmt.Errorf("%w: inference response is empty", backend.ErrMalformedOutput)
	}
	return nested[0], nil
}
