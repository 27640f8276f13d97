// Package service wires the classifier backends, the orchestrator and the
// admission pool from command line flags. The api and bot binaries share it.
package service

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/backend/gemini"
	"github.com/claritylab/claritylab/backend/remote"
	"github.com/claritylab/claritylab/backend/tfmodel"
	"github.com/claritylab/claritylab/predict"
	"github.com/claritylab/claritylab/verdict"
)

// Default remote models. Their label sets are the default vocabularies in
// verdict: TRUE/FAKE for text, real/sd/dalle for images.
const (
	hfInferenceURL    = "https://api-inference.huggingface.co/models/"
	DefaultTextModel  = "winterForestStump/Roberta-fake-news-detector"
	DefaultImageModel = "NYUAD-ComNets/NYUAD_AI-generated_images_detector"
)

type Options struct {
	TextBackend  string
	TextURL      string
	TextModel    string
	ImageBackend string
	ImageURL     string
	ImageModel   string
	HFToken      string
	GeminiKey    string
	GeminiModel  string
	ModelDir     string

	TextAuthentic  string
	TextSynthetic  string
	ImageAuthentic string
	ImageSynthetic string

	Timeout        time.Duration
	BackendTimeout time.Duration
	Preload        bool
	MaxWorkers     int
	MaxQueueSize   int
}

// RegisterFlags binds the options to fs. Secrets default to their environment
// variables.
func RegisterFlags(fs *flag.FlagSet) *Options {
	o := &Options{}
	fs.StringVar(&o.TextBackend, "text-backend", "remote", "Text classifier: remote or gemini")
	fs.StringVar(&o.TextURL, "text-url", hfInferenceURL+DefaultTextModel, "Inference endpoint of the text classifier")
	fs.StringVar(&o.TextModel, "text-model", DefaultTextModel, "Name reported for the remote text model")
	fs.StringVar(&o.ImageBackend, "image-backend", "remote", "Image classifier: remote or tensorflow")
	fs.StringVar(&o.ImageURL, "image-url", hfInferenceURL+DefaultImageModel, "Inference endpoint of the image classifier")
	fs.StringVar(&o.ImageModel, "image-model", DefaultImageModel, "Name reported for the remote image model")
	fs.StringVar(&o.HFToken, "hf-token", getEnv("HF_API_TOKEN", ""), "Bearer token for the inference endpoints")
	fs.StringVar(&o.GeminiKey, "gemini-key", getEnv("GEMINI_API_KEY", ""), "Gemini API key")
	fs.StringVar(&o.GeminiModel, "gemini-model", gemini.DefaultModel, "Gemini model")
	fs.StringVar(&o.ModelDir, "model-dir", "../models/", "Directory of the tensorflow image model")
	fs.StringVar(&o.TextAuthentic, "text-authentic-labels", strings.Join(verdict.DefaultTextAuthentic, ","), "Comma separated text labels meaning human written")
	fs.StringVar(&o.TextSynthetic, "text-synthetic-labels", strings.Join(verdict.DefaultTextSynthetic, ","), "Comma separated text labels meaning generated")
	fs.StringVar(&o.ImageAuthentic, "image-authentic-labels", strings.Join(verdict.DefaultImageAuthentic, ","), "Comma separated image labels meaning real")
	fs.StringVar(&o.ImageSynthetic, "image-synthetic-labels", strings.Join(verdict.DefaultImageSynthetic, ","), "Comma separated image labels meaning generated")
	fs.DurationVar(&o.Timeout, "timeout", 60*time.Second, "Deadline for one classification, including time spent queued")
	fs.DurationVar(&o.BackendTimeout, "backend-timeout", 30*time.Second, "HTTP timeout of remote backends")
	fs.BoolVar(&o.Preload, "preload", false, "Construct both backends at start-up")
	fs.IntVar(&o.MaxWorkers, "max-workers", 4, "Classifications running at once")
	fs.IntVar(&o.MaxQueueSize, "max-queue-size", 64, "Classifications waiting for a worker")
	return o
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitLabels(s string) []string {
	var labels []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

func (o *Options) textFactory() (backend.TextFactory, error) {
	switch o.TextBackend {
	case "remote":
		return remote.TextFactory(remote.Config{
			URL:     o.TextURL,
			Token:   o.HFToken,
			Model:   o.TextModel,
			Timeout: o.BackendTimeout,
		}), nil
	case "gemini":
		authentic, synthetic := splitLabels(o.TextAuthentic), splitLabels(o.TextSynthetic)
		if len(authentic) == 0 || len(synthetic) == 0 {
			return nil, errors.New("gemini needs one authentic and one synthetic text label")
		}
		return gemini.Factory(gemini.Config{
			APIKey:         o.GeminiKey,
			Model:          o.GeminiModel,
			AuthenticLabel: authentic[0],
			SyntheticLabel: synthetic[0],
		}), nil
	default:
		return nil, fmt.Errorf("unknown text backend %q", o.TextBackend)
	}
}

func (o *Options) imageFactory() (backend.ImageFactory, error) {
	switch o.ImageBackend {
	case "remote":
		return remote.ImageFactory(remote.Config{
			URL:     o.ImageURL,
			Token:   o.HFToken,
			Model:   o.ImageModel,
			Timeout: o.BackendTimeout,
		}), nil
	case "tensorflow":
		return tfmodel.Factory(tfmodel.Config{ModelDir: o.ModelDir}), nil
	default:
		return nil, fmt.Errorf("unknown image backend %q", o.ImageBackend)
	}
}

// Service is the classification pipeline shared by the surfaces.
type Service struct {
	Registry   *backend.Registry
	dispatcher *predict.Dispatcher
	timeout    time.Duration
}

// New builds the pipeline and starts its workers. Backends are constructed on
// first use unless Preload is set.
func New(ctx context.Context, o *Options) (*Service, error) {
	newText, err := o.textFactory()
	if err != nil {
		return nil, err
	}
	newImage, err := o.imageFactory()
	if err != nil {
		return nil, err
	}
	registry := backend.NewRegistry(newText, newImage)

	cfg := verdict.DefaultConfig()
	cfg.TextAuthentic = splitLabels(o.TextAuthentic)
	cfg.TextSynthetic = splitLabels(o.TextSynthetic)
	cfg.ImageAuthentic = splitLabels(o.ImageAuthentic)
	cfg.ImageSynthetic = splitLabels(o.ImageSynthetic)
	orchestrator, err := verdict.New(registry, cfg)
	if err != nil {
		return nil, err
	}

	return newService(ctx, registry, orchestrator, o), nil
}

func newService(ctx context.Context, registry *backend.Registry, classifier predict.Classifier, o *Options) *Service {
	s := &Service{
		Registry:   registry,
		dispatcher: predict.NewDispatcher(classifier, o.MaxWorkers, o.MaxQueueSize),
		timeout:    o.Timeout,
	}
	s.dispatcher.Run()

	if o.Preload && registry != nil {
		go func() {
			if err := registry.Warm(ctx); err != nil {
				log.Error("[Main] Couldn't preload backends: ", err.Error())
				return
			}
			log.Info("[Main] Backends preloaded")
		}()
	}
	return s
}

// Classify runs req through the admission pool under the configured deadline.
func (s *Service) Classify(ctx context.Context, req verdict.Request) (verdict.Verdict, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.dispatcher.Submit(ctx, req)
}

func (s *Service) Close() {
	s.dispatcher.Stop()
	if s.Registry == nil {
		return
	}
	if err := s.Registry.Close(); err != nil {
		log.Error("[Main] Couldn't release backends: ", err.Error())
	}
}
