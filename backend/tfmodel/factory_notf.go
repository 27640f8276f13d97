//go:build !tensorflow

package tfmodel

import (
	"context"
	"errors"

	"github.com/claritylab/claritylab/backend"
)

// Factory reports the local model as unavailable in builds without the
// "tensorflow" tag.
func Factory(cfg Config) backend.ImageFactory {
	return func(context.Context) (backend.ImageClassifier, error) {
		return nil, errors.New("built without tensorflow support, rebuild with -tags tensorflow")
	}
}
