// Package verdict turns one user submission, either a text passage or an
// image, into a human readable verdict on whether it was machine generated.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/commons"
	"github.com/claritylab/claritylab/datastructures"
)

const (
	TextAuthenticMessage = "the text is humanly written"
	TextSyntheticMessage = "the text is synthetically generated"
)

type Input string

const (
	InputText  Input = "text"
	InputImage Input = "image"
)

// Request is one submission. Exactly one of Text and Image must be set.
type Request struct {
	Text  string
	Image []byte
}

type Verdict struct {
	Input     Input
	Synthetic bool
	Label     string
	Message   string
	// Score is the winning confidence. Text verdicts leave it at zero.
	Score float64
	// Confidence is Score formatted with two decimals, image verdicts only.
	Confidence string
}

func (v Verdict) Result() datastructures.VerdictResult {
	return datastructures.VerdictResult{
		Input:      string(v.Input),
		Synthetic:  v.Synthetic,
		Label:      v.Label,
		Message:    v.Message,
		Score:      v.Score,
		Confidence: v.Confidence,
	}
}

// Backends gives access to the classifier capabilities. *backend.Registry
// implements it.
type Backends interface {
	TextBackend(ctx context.Context) (backend.TextClassifier, error)
	ImageBackend(ctx context.Context) (backend.ImageClassifier, error)
}

type Config struct {
	TextAuthentic  []string
	TextSynthetic  []string
	ImageAuthentic []string
	ImageSynthetic []string
	// MaxPixels bounds decoded image size. Zero means DefaultMaxPixels, a
	// negative value disables the check.
	MaxPixels int
}

func DefaultConfig() Config {
	return Config{
		TextAuthentic:  DefaultTextAuthentic,
		TextSynthetic:  DefaultTextSynthetic,
		ImageAuthentic: DefaultImageAuthentic,
		ImageSynthetic: DefaultImageSynthetic,
	}
}

type Orchestrator struct {
	backends   Backends
	textVocab  Vocabulary
	imageVocab Vocabulary
	maxPixels  int
}

func New(backends Backends, cfg Config) (*Orchestrator, error) {
	if backends == nil {
		return nil, errors.New("no backends given")
	}
	textVocab, err := NewVocabulary(cfg.TextAuthentic, cfg.TextSynthetic)
	if err != nil {
		return nil, fmt.Errorf("text labels: %w", err)
	}
	imageVocab, err := NewVocabulary(cfg.ImageAuthentic, cfg.ImageSynthetic)
	if err != nil {
		return nil, fmt.Errorf("image labels: %w", err)
	}

	maxPixels := cfg.MaxPixels
	if maxPixels == 0 {
		maxPixels = DefaultMaxPixels
	}

	return &Orchestrator{
		backends:   backends,
		textVocab:  textVocab,
		imageVocab: imageVocab,
		maxPixels:  maxPixels,
	}, nil
}

// Classify validates req, sends it to the matching backend and normalizes the
// answer. It blocks until the backend answers or ctx is done.
func (o *Orchestrator) Classify(ctx context.Context, req Request) (Verdict, error) {
	hasText := req.Text != ""
	hasImage := len(req.Image) > 0

	var (
		v     Verdict
		err   error
		input string
	)
	start := time.Now()

	switch {
	case hasText && hasImage:
		input, err = "both", ErrAmbiguousInput
	case !hasText && !hasImage:
		input, err = "none", ErrEmptyInput
	case hasText:
		input = string(InputText)
		v, err = o.classifyText(ctx, req.Text)
	default:
		input = string(InputImage)
		v, err = o.classifyImage(ctx, req.Image)
	}

	commons.ClassifyDuration.WithLabelValues(input).Observe(time.Since(start).Seconds())
	if err != nil {
		commons.Verdicts.WithLabelValues(input, strings.ToLower(Code(err))).Inc()
		if IsValidation(err) {
			log.WithField("input", input).Debug("[Verdict] Rejected submission: ", err.Error())
		} else {
			log.WithField("input", input).Error("[Verdict] Couldn't classify: ", err.Error())
		}
		return Verdict{}, err
	}

	outcome := "authentic"
	if v.Synthetic {
		outcome = "synthetic"
	}
	commons.Verdicts.WithLabelValues(input, outcome).Inc()
	return v, nil
}

func (o *Orchestrator) classifyText(ctx context.Context, text string) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{}, ErrEmptyInput
	}

	out, err := withDeadline(ctx, func(ctx context.Context) (backend.Output, error) {
		b, err := o.backends.TextBackend(ctx)
		if err != nil {
			return nil, err
		}
		return b.ClassifyText(ctx, text)
	})
	if err != nil {
		return Verdict{}, err
	}
	return o.normalize(out)
}

func (o *Orchestrator) classifyImage(ctx context.Context, data []byte) (Verdict, error) {
	img, err := DecodeImage(data, o.maxPixels)
	if err != nil {
		return Verdict{}, err
	}

	out, err := withDeadline(ctx, func(ctx context.Context) (backend.Output, error) {
		b, err := o.backends.ImageBackend(ctx)
		if err != nil {
			return nil, err
		}
		return b.ClassifyImage(ctx, img)
	})
	if err != nil {
		return Verdict{}, err
	}
	return o.normalize(out)
}

func (o *Orchestrator) normalize(out backend.Output) (Verdict, error) {
	switch out := out.(type) {
	case backend.TextOutput:
		synthetic, err := o.textVocab.IsSynthetic(out.Label)
		if err != nil {
			return Verdict{}, err
		}
		v := Verdict{Input: InputText, Synthetic: synthetic, Label: out.Label, Message: TextAuthenticMessage}
		if synthetic {
			v.Message = TextSyntheticMessage
		}
		return v, nil

	case backend.ImageOutput:
		best, err := o.pickBest(out.Scores)
		if err != nil {
			return Verdict{}, err
		}
		synthetic, err := o.imageVocab.IsSynthetic(best.Label)
		if err != nil {
			return Verdict{}, err
		}
		conf := fmt.Sprintf("%.2f", best.Score)
		v := Verdict{
			Input:      InputImage,
			Synthetic:  synthetic,
			Label:      best.Label,
			Score:      best.Score,
			Confidence: conf,
			Message:    "the image is real with a probability of " + conf,
		}
		if synthetic {
			v.Message = "the image is synthetically generated with a probability of " + conf
		}
		return v, nil

	default:
		return Verdict{}, fmt.Errorf("%w: unsupported output %T", ErrContractViolation, out)
	}
}

// pickBest returns the pair with the highest score. On ties the earliest pair
// wins. Every label must be known and every score must lie in [0,1].
func (o *Orchestrator) pickBest(scores []datastructures.LabelScore) (datastructures.LabelScore, error) {
	if len(scores) == 0 {
		return datastructures.LabelScore{}, fmt.Errorf("%w: empty result set", ErrContractViolation)
	}
	best := 0
	for i, s := range scores {
		if math.IsNaN(s.Score) || s.Score < 0 || s.Score > 1 {
			return datastructures.LabelScore{}, fmt.Errorf("%w: score %v for %q out of range", ErrContractViolation, s.Score, s.Label)
		}
		if _, err := o.imageVocab.IsSynthetic(s.Label); err != nil {
			return datastructures.LabelScore{}, err
		}
		if s.Score > scores[best].Score {
			best = i
		}
	}
	return scores[best], nil
}

// withDeadline runs fn and stops waiting for it once ctx is done. fn keeps
// running in the background; its result is dropped.
func withDeadline(ctx context.Context, fn func(ctx context.Context) (backend.Output, error)) (backend.Output, error) {
	type result struct {
		out backend.Output
		err error
	}

	if ctx.Done() == nil {
		out, err := guarded(ctx, fn)
		return out, backendError(ctx, err)
	}

	ch := make(chan result, 1)
	go func() {
		out, err := guarded(ctx, fn)
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		return r.out, backendError(ctx, r.err)
	case <-ctx.Done():
		return nil, ctxError(ctx.Err())
	}
}

// guarded turns a backend panic into an error. The call may run on its own
// goroutine, out of reach of the callers' recovery handlers.
func guarded(ctx context.Context, fn func(ctx context.Context) (backend.Output, error)) (out backend.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("[Verdict] Backend panicked")
			out, err = nil, fmt.Errorf("%w: backend panicked: %v", ErrBackendUnavailable, r)
		}
	}()
	return fn(ctx)
}

func backendError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrContractViolation):
		return err
	case errors.Is(err, backend.ErrMalformedOutput):
		return fmt.Errorf("%w: %v", ErrContractViolation, err)
	case ctx.Err() != nil:
		return ctxError(ctx.Err())
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("classification canceled: %w", err)
}
