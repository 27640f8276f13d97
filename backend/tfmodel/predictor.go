//go:build tensorflow

package tfmodel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/datastructures"
)

type Predictor struct {
	cfg       Config
	labels    []string
	graph     *tf.Graph
	session   *tf.Session
	modelInfo datastructures.ModelInfo
}

// Load reads the model directory and opens a session over its graph.
func Load(cfg Config) (*Predictor, error) {
	cfg = cfg.withDefaults()
	p := &Predictor{cfg: cfg}

	info, err := loadModelInfo(cfg.ModelDir)
	if err != nil {
		return nil, err
	}
	p.modelInfo = info

	labels, err := loadLabels(filepath.Join(cfg.ModelDir, "labels.txt"))
	if err != nil {
		log.Debug("[Model] Couldn't get labels: ", err.Error())
		return nil, err
	}
	p.labels = labels

	model, err := os.ReadFile(filepath.Join(cfg.ModelDir, "graph.pb"))
	if err != nil {
		log.Debug("[Model] Couldn't read model: ", err.Error())
		return nil, err
	}

	p.graph = tf.NewGraph()
	if err := p.graph.Import(model, ""); err != nil {
		log.Debug("[Model] Couldn't construct graph: ", err.Error())
		return nil, err
	}
	if p.graph.Operation(cfg.InputOp) == nil || p.graph.Operation(cfg.OutputOp) == nil {
		return nil, fmt.Errorf("graph lacks operation %q or %q", cfg.InputOp, cfg.OutputOp)
	}

	p.session, err = tf.NewSession(p.graph, nil)
	if err != nil {
		log.Debug("[Model] Couldn't start session: ", err.Error())
		return nil, err
	}

	log.WithFields(log.Fields{"dir": cfg.ModelDir, "labels": len(labels), "build": info.Build}).
		Info("[Model] Loaded image model")
	return p, nil
}

func Factory(cfg Config) backend.ImageFactory {
	return func(context.Context) (backend.ImageClassifier, error) {
		return Load(cfg)
	}
}

// ClassifyImage runs the graph once. Session.Run is safe for concurrent use.
func (p *Predictor) ClassifyImage(_ context.Context, img *backend.RGBImage) (backend.ImageOutput, error) {
	data, err := inputTensor(img, p.cfg.InputSize, p.cfg.Mean, p.cfg.Std)
	if err != nil {
		log.Debug("[Predicting Image Label] Couldn't create tensor from image: ", err.Error())
		return backend.ImageOutput{}, err
	}
	tensor, err := tf.NewTensor(data)
	if err != nil {
		return backend.ImageOutput{}, err
	}

	output, err := p.session.Run(
		map[tf.Output]*tf.Tensor{
			p.graph.Operation(p.cfg.InputOp).Output(0): tensor,
		},
		[]tf.Output{
			p.graph.Operation(p.cfg.OutputOp).Output(0),
		},
		nil)
	if err != nil {
		log.Debug("[Predicting Image Label] Couldn't run image prediction: ", err.Error())
		return backend.ImageOutput{}, err
	}

	// output[0] holds one probability vector per image of the batch of one.
	batch, ok := output[0].Value().([][]float32)
	if !ok || len(batch) == 0 {
		return backend.ImageOutput{}, fmt.Errorf("unexpected output of type %T", output[0].Value())
	}
	res, err := scores(batch[0], p.labels)
	if err != nil {
		return backend.ImageOutput{}, err
	}
	return backend.ImageOutput{Scores: res}, nil
}

func (p *Predictor) ModelInfo() datastructures.ModelInfo {
	return p.modelInfo
}

func (p *Predictor) Close() error {
	return p.session.Close()
}
