// Package tfmodel serves an image classifier exported as a frozen TensorFlow
// graph. A model directory holds graph.pb, labels.txt (one label per line, in
// output order) and model_info.json.
//
// The predictor itself needs libtensorflow and is only built with the
// "tensorflow" build tag; the loading helpers here are always available.
package tfmodel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"github.com/claritylab/claritylab/backend"
	"github.com/claritylab/claritylab/datastructures"
)

type Config struct {
	ModelDir string
	// InputOp and OutputOp name the graph operations fed and fetched.
	InputOp  string
	OutputOp string
	// InputSize is the square edge the model was trained on.
	InputSize int
	Mean      float32
	Std       float32
}

func (c Config) withDefaults() Config {
	if c.InputOp == "" {
		c.InputOp = "Mul"
	}
	if c.OutputOp == "" {
		c.OutputOp = "final_result"
	}
	if c.InputSize <= 0 {
		c.InputSize = 299
	}
	if c.Mean == 0 {
		c.Mean = 128
	}
	if c.Std == 0 {
		c.Std = 128
	}
	return c
}

func loadModelInfo(dir string) (datastructures.ModelInfo, error) {
	var info datastructures.ModelInfo
	data, err := os.ReadFile(filepath.Join(dir, "model_info.json"))
	if err != nil {
		log.Debug("[Model] Couldn't read model info: ", err.Error())
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		log.Debug("[Model] Couldn't parse model info: ", err.Error())
		return info, err
	}
	return info, nil
}

func loadLabels(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		log.Debug("[Loading Labels] Couldn't open file: ", err.Error())
		return nil, err
	}
	defer file.Close()

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if l := strings.TrimSpace(scanner.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug("[Loading Labels] Failed to read labels file: ", err.Error())
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%s holds no labels", path)
	}
	return labels, nil
}

// scores pairs each probability with its label, keeping output order.
func scores(probabilities []float32, labels []string) ([]datastructures.LabelScore, error) {
	if len(probabilities) != len(labels) {
		return nil, fmt.Errorf("model produced %d probabilities for %d labels", len(probabilities), len(labels))
	}
	out := make([]datastructures.LabelScore, len(labels))
	for i, p := range probabilities {
		out[i] = datastructures.LabelScore{Label: labels[i], Score: float64(p)}
	}
	return out, nil
}

// inputTensor resizes img to size x size and normalizes it into the
// [1][size][size][3] layout the retrained graphs expect, channels as (B, G, R).
func inputTensor(img *backend.RGBImage, size int, mean, std float32) ([][][][]float32, error) {
	src, err := img.NRGBA()
	if err != nil {
		return nil, err
	}

	resized := imaging.Resize(src, size, size, imaging.Box)
	if b := resized.Bounds(); b.Dx() != size || b.Dy() != size {
		return nil, fmt.Errorf("input image is required to be %dx%d pixels, was %dx%d", size, size, b.Dx(), b.Dy())
	}

	rows := make([][][]float32, size)
	for y := 0; y < size; y++ {
		row := make([][]float32, size)
		for x := 0; x < size; x++ {
			i := y*resized.Stride + x*4
			r, g, b := resized.Pix[i], resized.Pix[i+1], resized.Pix[i+2]
			row[x] = []float32{
				(float32(b) - mean) / std,
				(float32(g) - mean) / std,
				(float32(r) - mean) / std,
			}
		}
		rows[y] = row
	}
	return [][][][]float32{rows}, nil
}
