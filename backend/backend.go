// Package backend holds the classifier capabilities the verdict layer consumes
// and the registry that constructs each of them at most once per process.
package backend

import (
	"context"
	"errors"
	"image"

	"github.com/claritylab/claritylab/datastructures"
)

var (
	// ErrUnavailable is returned when a backend cannot be constructed or reached.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrMalformedOutput is returned when a backend answered, but not with a
	// result of the expected shape.
	ErrMalformedOutput = errors.New("malformed backend output")
)

// Output is the raw result of a classifier. It is either a TextOutput or an
// ImageOutput.
type Output interface {
	isOutput()
}

// TextOutput is the single top label a text classifier produced for one input.
// Score is informational only and may be zero.
type TextOutput struct {
	Label string
	Score float64
}

// ImageOutput is the list of (label, score) pairs an image classifier produced,
// in the order the classifier returned them.
type ImageOutput struct {
	Scores []datastructures.LabelScore
}

func (TextOutput) isOutput()  {}
func (ImageOutput) isOutput() {}

// RGBImage holds decoded pixels as packed R,G,B bytes, row by row.
type RGBImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// NRGBA expands the packed pixels into an opaque *image.NRGBA.
func (img *RGBImage) NRGBA() (*image.NRGBA, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 || len(img.Pix) != img.Width*img.Height*3 {
		return nil, errors.New("malformed rgb image")
	}
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i, j := 0, 0; i < len(img.Pix); i, j = i+3, j+4 {
		out.Pix[j] = img.Pix[i]
		out.Pix[j+1] = img.Pix[i+1]
		out.Pix[j+2] = img.Pix[i+2]
		out.Pix[j+3] = 0xff
	}
	return out, nil
}

// TextClassifier classifies a text passage.
type TextClassifier interface {
	ClassifyText(ctx context.Context, text string) (TextOutput, error)
}

// ImageClassifier classifies an image.
type ImageClassifier interface {
	ClassifyImage(ctx context.Context, img *RGBImage) (ImageOutput, error)
}

// Describer is implemented by backends that know which model they serve.
type Describer interface {
	ModelInfo() datastructures.ModelInfo
}

type TextFactory func(ctx context.Context) (TextClassifier, error)

type ImageFactory func(ctx context.Context) (ImageClassifier, error)
