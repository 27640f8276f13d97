package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claritylab/claritylab/datastructures"
)

type fakeImage struct{ id int32 }

func (f *fakeImage) ClassifyImage(_ context.Context, _ *RGBImage) (ImageOutput, error) {
	return ImageOutput{Scores: []datastructures.LabelScore{{Label: "real", Score: 1}}}, nil
}

func (f *fakeImage) ModelInfo() datastructures.ModelInfo {
	return datastructures.ModelInfo{Name: "fake-image", Build: f.id}
}

type fakeText struct{}

func (fakeText) ClassifyText(_ context.Context, _ string) (TextOutput, error) {
	return TextOutput{Label: "TRUE"}, nil
}

func TestRegistry_ImageBackendConstructedOnce(t *testing.T) {
	var constructions int32
	release := make(chan struct{})
	reg := NewRegistry(nil, func(context.Context) (ImageClassifier, error) {
		n := atomic.AddInt32(&constructions, 1)
		<-release
		return &fakeImage{id: n}, nil
	})

	var wg sync.WaitGroup
	got := make([]ImageClassifier, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := reg.ImageBackend(context.Background())
			assert.NoError(t, err)
			got[i] = b
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NotNil(t, got[0])
	assert.Same(t, got[0], got[1])

	third, err := reg.ImageBackend(context.Background())
	require.NoError(t, err)
	assert.Same(t, got[0], third)
	assert.Equal(t, int32(1), atomic.LoadInt32(&constructions))
}

func TestRegistry_FailedConstructionIsRetried(t *testing.T) {
	calls := 0
	reg := NewRegistry(func(context.Context) (TextClassifier, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("model file missing")
		}
		return fakeText{}, nil
	}, nil)

	_, err := reg.TextBackend(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "model file missing")

	text, _ := reg.Loaded()
	assert.False(t, text)

	b, err := reg.TextBackend(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Equal(t, 2, calls)

	text, _ = reg.Loaded()
	assert.True(t, text)
}

func TestRegistry_MissingFactory(t *testing.T) {
	reg := NewRegistry(nil, nil)

	_, err := reg.TextBackend(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = reg.ImageBackend(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRegistry_WarmAndModels(t *testing.T) {
	reg := NewRegistry(
		func(context.Context) (TextClassifier, error) { return fakeText{}, nil },
		func(context.Context) (ImageClassifier, error) { return &fakeImage{id: 7}, nil },
	)

	text, image := reg.Models()
	assert.Nil(t, text)
	assert.Nil(t, image)

	require.NoError(t, reg.Warm(context.Background()))

	loadedText, loadedImage := reg.Loaded()
	assert.True(t, loadedText)
	assert.True(t, loadedImage)

	text, image = reg.Models()
	assert.Nil(t, text) // fakeText doesn't describe itself
	require.NotNil(t, image)
	assert.Equal(t, "fake-image", image.Name)
	assert.Equal(t, int32(7), image.Build)
}

func TestRegistry_WarmReportsFailure(t *testing.T) {
	reg := NewRegistry(
		func(context.Context) (TextClassifier, error) { return fakeText{}, nil },
		func(context.Context) (ImageClassifier, error) { return nil, errors.New("no graph.pb") },
	)

	err := reg.Warm(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

type closingText struct {
	fakeText
	closed int
	err    error
}

func (c *closingText) Close() error {
	c.closed++
	return c.err
}

func TestRegistry_CloseReleasesConstructedBackends(t *testing.T) {
	text := &closingText{err: errors.New("session already closed")}
	reg := NewRegistry(
		func(context.Context) (TextClassifier, error) { return text, nil },
		func(context.Context) (ImageClassifier, error) { return &fakeImage{}, nil },
	)

	require.NoError(t, reg.Close())
	assert.Equal(t, 0, text.closed)

	_, err := reg.TextBackend(context.Background())
	require.NoError(t, err)
	_, err = reg.ImageBackend(context.Background())
	require.NoError(t, err)

	err = reg.Close()
	assert.Equal(t, 1, text.closed)
	assert.ErrorContains(t, err, "session already closed")
}
