package datastructures

// LabelScore is one (label, confidence) pair as returned by a classifier.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type ModelInfo struct {
	Name      string   `json:"name,omitempty"`
	Build     int32    `json:"build"`
	Created   string   `json:"created"`
	TrainedOn []string `json:"trained_on"`
	BasedOn   string   `json:"based_on"`
}

type TextInferenceRequest struct {
	Inputs string `json:"inputs"`
}

type VerdictRequest struct {
	Text string `json:"text" form:"text"`
}

type VerdictResult struct {
	Input      string  `json:"input"`
	Synthetic  bool    `json:"synthetic"`
	Label      string  `json:"label"`
	Message    string  `json:"message"`
	Score      float64 `json:"score,omitempty"`
	Confidence string  `json:"confidence,omitempty"`
}

type ModelsResult struct {
	Text  *ModelInfo `json:"text,omitempty"`
	Image *ModelInfo `json:"image,omitempty"`
}
