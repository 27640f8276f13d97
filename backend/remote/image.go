package remote

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/datastructures"
)

type ImageClassifier struct {
	client  *resty.Client
	url     string
	model   string
	quality int
}

func NewImageClassifier(cfg Config) (*ImageClassifier, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	return &ImageClassifier{client: client, url: cfg.URL, model: cfg.Model, quality: quality}, nil
}

func ImageFactory(cfg Config) backend.ImageFactory {
	return func(context.Context) (backend.ImageClassifier, error) {
		return NewImageClassifier(cfg)
	}
}

// ClassifyImage uploads img as JPEG and returns every (label, score) pair in
// the order the server sent them.
func (c *ImageClassifier) ClassifyImage(ctx context.Context, img *backend.RGBImage) (backend.ImageOutput, error) {
	body, err := encodeJPEG(img, c.quality)
	if err != nil {
		return backend.ImageOutput{}, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(body).
		Post(c.url)
	if err != nil {
		return backend.ImageOutput{}, err
	}
	if err := checkResponse(resp); err != nil {
		return backend.ImageOutput{}, err
	}

	scores, err := decodeScores(resp.Body())
	if err != nil {
		return backend.ImageOutput{}, err
	}
	return backend.ImageOutput{Scores: scores}, nil
}

func (c *ImageClassifier) ModelInfo() datastructures.ModelInfo {
	return datastructures.ModelInfo{Name: c.model}
}

func encodeJPEG(img *backend.RGBImage, quality int) ([]byte, error) {
	nrgba, err := img.NRGBA()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, nrgba, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("couldn't encode image: %w", err)
	}
	return buf.Bytes(), nil
}
