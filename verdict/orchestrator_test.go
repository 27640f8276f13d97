package verdict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/datastructures"
)

// MockBackends is a mock implementation of Backends
type MockBackends struct {
	mock.Mock
}

func (m *MockBackends) TextBackend(ctx context.Context) (backend.TextClassifier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(backend.TextClassifier), args.Error(1)
}

func (m *MockBackends) ImageBackend(ctx context.Context) (backend.ImageClassifier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(backend.ImageClassifier), args.Error(1)
}

type stubText struct {
	label string
	err   error
	seen  string
}

func (s *stubText) ClassifyText(_ context.Context, text string) (backend.TextOutput, error) {
	s.seen = text
	return backend.TextOutput{Label: s.label}, s.err
}

type stubImage struct {
	scores []datastructures.LabelScore
	delay  time.Duration
	seen   *backend.RGBImage
}

func (s *stubImage) ClassifyImage(_ context.Context, img *backend.RGBImage) (backend.ImageOutput, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.seen = img
	return backend.ImageOutput{Scores: s.scores}, nil
}

type panickingImage struct{}

func (panickingImage) ClassifyImage(context.Context, *backend.RGBImage) (backend.ImageOutput, error) {
	panic("index out of range")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newOrchestrator(t *testing.T, b Backends) *Orchestrator {
	t.Helper()
	o, err := New(b, DefaultConfig())
	require.NoError(t, err)
	return o
}

func withImage(scores ...datastructures.LabelScore) *MockBackends {
	b := new(MockBackends)
	b.On("ImageBackend", mock.Anything).Return(&stubImage{scores: scores}, nil)
	return b
}

func TestClassify_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{name: "both populated", req: Request{Text: "hello", Image: []byte{0x89, 0x50}}, want: ErrAmbiguousInput},
		{name: "whitespace text with image", req: Request{Text: "  ", Image: []byte{1}}, want: ErrAmbiguousInput},
		{name: "neither populated", req: Request{}, want: ErrEmptyInput},
		{name: "whitespace only text", req: Request{Text: " \n\t "}, want: ErrEmptyInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := new(MockBackends)
			o := newOrchestrator(t, b)

			_, err := o.Classify(context.Background(), tt.req)

			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
			assert.False(t, IsOperational(err))
			b.AssertNotCalled(t, "TextBackend", mock.Anything)
			b.AssertNotCalled(t, "ImageBackend", mock.Anything)
		})
	}
}

func TestClassify_Text(t *testing.T) {
	t.Run("authentic label", func(t *testing.T) {
		text := &stubText{label: "TRUE"}
		b := new(MockBackends)
		b.On("TextBackend", mock.Anything).Return(text, nil)
		o := newOrchestrator(t, b)

		v, err := o.Classify(context.Background(), Request{Text: "Paris is the capital of France."})

		require.NoError(t, err)
		assert.Equal(t, "the text is humanly written", v.Message)
		assert.Equal(t, InputText, v.Input)
		assert.False(t, v.Synthetic)
		assert.Empty(t, v.Confidence)
		assert.Equal(t, "Paris is the capital of France.", text.seen)
	})

	t.Run("synthetic label", func(t *testing.T) {
		b := new(MockBackends)
		b.On("TextBackend", mock.Anything).Return(&stubText{label: "FAKE"}, nil)
		o := newOrchestrator(t, b)

		v, err := o.Classify(context.Background(), Request{Text: "Buy cheap watches now!!!"})

		require.NoError(t, err)
		assert.Equal(t, "the text is synthetically generated", v.Message)
		assert.True(t, v.Synthetic)
	})

	t.Run("label matching ignores case", func(t *testing.T) {
		b := new(MockBackends)
		b.On("TextBackend", mock.Anything).Return(&stubText{label: " true "}, nil)
		o := newOrchestrator(t, b)

		v, err := o.Classify(context.Background(), Request{Text: "hello"})

		require.NoError(t, err)
		assert.False(t, v.Synthetic)
	})

	t.Run("unknown label is a contract violation", func(t *testing.T) {
		b := new(MockBackends)
		b.On("TextBackend", mock.Anything).Return(&stubText{label: "LABEL_7"}, nil)
		o := newOrchestrator(t, b)

		_, err := o.Classify(context.Background(), Request{Text: "hello"})

		assert.ErrorIs(t, err, ErrContractViolation)
		assert.True(t, IsOperational(err))
		assert.Equal(t, "BACKEND_CONTRACT_VIOLATION", Code(err))
	})

	t.Run("backend construction failure", func(t *testing.T) {
		b := new(MockBackends)
		b.On("TextBackend", mock.Anything).Return(nil, errors.Join(backend.ErrUnavailable, errors.New("missing model")))
		o := newOrchestrator(t, b)

		_, err := o.Classify(context.Background(), Request{Text: "hello"})

		assert.ErrorIs(t, err, ErrBackendUnavailable)
		assert.Equal(t, "BACKEND_UNAVAILABLE", Code(err))
	})

	t.Run("malformed backend answer is a contract violation", func(t *testing.T) {
		b := new(MockBackends)
		b.On("TextBackend", mock.Anything).Return(&stubText{
			err: fmt.Errorf("%w: couldn't decode inference response", backend.ErrMalformedOutput),
		}, nil)
		o := newOrchestrator(t, b)

		_, err := o.Classify(context.Background(), Request{Text: "hello"})

		assert.ErrorIs(t, err, ErrContractViolation)
		assert.NotErrorIs(t, err, ErrBackendUnavailable)
		assert.Equal(t, "BACKEND_CONTRACT_VIOLATION", Code(err))
	})

	t.Run("backend call failure is unavailable", func(t *testing.T) {
		b := new(MockBackends)
		b.On("TextBackend", mock.Anything).Return(&stubText{err: errors.New("connection refused")}, nil)
		o := newOrchestrator(t, b)

		_, err := o.Classify(context.Background(), Request{Text: "hello"})

		assert.ErrorIs(t, err, ErrBackendUnavailable)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestClassify_Image(t *testing.T) {
	img := pngBytes(t, 4, 3)

	t.Run("synthetic winner", func(t *testing.T) {
		o := newOrchestrator(t, withImage(
			datastructures.LabelScore{Label: "dalle", Score: 0.92},
			datastructures.LabelScore{Label: "real", Score: 0.08},
		))

		v, err := o.Classify(context.Background(), Request{Image: img})

		require.NoError(t, err)
		assert.True(t, v.Synthetic)
		assert.Equal(t, "0.92", v.Confidence)
		assert.Equal(t, "dalle", v.Label)
		assert.Equal(t, "the image is synthetically generated with a probability of 0.92", v.Message)
	})

	t.Run("real winner", func(t *testing.T) {
		o := newOrchestrator(t, withImage(
			datastructures.LabelScore{Label: "real", Score: 0.77},
			datastructures.LabelScore{Label: "sd", Score: 0.23},
		))

		v, err := o.Classify(context.Background(), Request{Image: img})

		require.NoError(t, err)
		assert.False(t, v.Synthetic)
		assert.Equal(t, "0.77", v.Confidence)
		assert.Equal(t, "the image is real with a probability of 0.77", v.Message)
	})

	t.Run("unsorted output picks the maximum", func(t *testing.T) {
		o := newOrchestrator(t, withImage(
			datastructures.LabelScore{Label: "real", Score: 0.1},
			datastructures.LabelScore{Label: "sd", Score: 0.6},
			datastructures.LabelScore{Label: "dalle", Score: 0.3},
		))

		v, err := o.Classify(context.Background(), Request{Image: img})

		require.NoError(t, err)
		assert.Equal(t, "sd", v.Label)
		assert.Equal(t, "0.60", v.Confidence)
	})

	t.Run("tie goes to the first pair", func(t *testing.T) {
		o := newOrchestrator(t, withImage(
			datastructures.LabelScore{Label: "real", Score: 0.5},
			datastructures.LabelScore{Label: "sd", Score: 0.5},
		))

		v, err := o.Classify(context.Background(), Request{Image: img})

		require.NoError(t, err)
		assert.Equal(t, "real", v.Label)
		assert.False(t, v.Synthetic)
	})

	t.Run("decoded pixels are packed RGB", func(t *testing.T) {
		stub := &stubImage{scores: []datastructures.LabelScore{{Label: "real", Score: 1}}}
		b := new(MockBackends)
		b.On("ImageBackend", mock.Anything).Return(stub, nil)
		o := newOrchestrator(t, b)

		_, err := o.Classify(context.Background(), Request{Image: img})

		require.NoError(t, err)
		require.NotNil(t, stub.seen)
		assert.Equal(t, 4, stub.seen.Width)
		assert.Equal(t, 3, stub.seen.Height)
		assert.Len(t, stub.seen.Pix, 4*3*3)
		assert.Equal(t, []uint8{200, 100, 50}, stub.seen.Pix[:3])
	})

	t.Run("empty result set", func(t *testing.T) {
		o := newOrchestrator(t, withImage())

		_, err := o.Classify(context.Background(), Request{Image: img})

		assert.ErrorIs(t, err, ErrContractViolation)
	})

	t.Run("unknown label", func(t *testing.T) {
		o := newOrchestrator(t, withImage(
			datastructures.LabelScore{Label: "real", Score: 0.9},
			datastructures.LabelScore{Label: "midjourney", Score: 0.1},
		))

		_, err := o.Classify(context.Background(), Request{Image: img})

		assert.ErrorIs(t, err, ErrContractViolation)
		assert.Contains(t, err.Error(), "midjourney")
	})

	t.Run("score out of range", func(t *testing.T) {
		o := newOrchestrator(t, withImage(datastructures.LabelScore{Label: "real", Score: 1.4}))

		_, err := o.Classify(context.Background(), Request{Image: img})

		assert.ErrorIs(t, err, ErrContractViolation)
	})

	t.Run("corrupt bytes", func(t *testing.T) {
		b := new(MockBackends)
		o := newOrchestrator(t, b)

		_, err := o.Classify(context.Background(), Request{Image: []byte("definitely not a png")})

		assert.ErrorIs(t, err, ErrInvalidImage)
		assert.True(t, IsValidation(err))
		b.AssertNotCalled(t, "ImageBackend", mock.Anything)
	})

	t.Run("slow backend hits the deadline", func(t *testing.T) {
		b := new(MockBackends)
		b.On("ImageBackend", mock.Anything).Return(&stubImage{
			scores: []datastructures.LabelScore{{Label: "real", Score: 1}},
			delay:  200 * time.Millisecond,
		}, nil)
		o := newOrchestrator(t, b)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := o.Classify(ctx, Request{Image: img})

		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, "TIMEOUT", Code(err))
	})
}

func TestClassify_BackendPanicIsUnavailable(t *testing.T) {
	img := pngBytes(t, 2, 2)
	b := new(MockBackends)
	b.On("ImageBackend", mock.Anything).Return(panickingImage{}, nil)
	o := newOrchestrator(t, b)

	t.Run("with deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_, err := o.Classify(ctx, Request{Image: img})

		assert.ErrorIs(t, err, ErrBackendUnavailable)
		assert.Contains(t, err.Error(), "index out of range")
	})

	t.Run("without deadline", func(t *testing.T) {
		_, err := o.Classify(context.Background(), Request{Image: img})

		assert.ErrorIs(t, err, ErrBackendUnavailable)
	})
}

func TestNew_RejectsBadVocabulary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImageSynthetic = []string{"sd", "real"}

	_, err := New(new(MockBackends), cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.TextSynthetic = nil
	_, err = New(new(MockBackends), cfg)
	assert.Error(t, err)
}
