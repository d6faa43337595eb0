package ml

import (
	"errors"
	"fmt"
	"math"
)

// Classifier is a trained model. PredictProba returns one probability per
// entry of Classes, in that order; PredictLabel returns a label id taken
// from Classes.
type Classifier interface {
	PredictLabel(features []float64) (int, error)
	PredictProba(features []float64) ([]float64, error)
	Classes() []int
	NumFeatures() int
	Close() error
}

// ArtifactHeader is shared by native model artifacts and the ONNX sidecar.
type ArtifactHeader struct {
	ModelType    string   `json:"model_type"`
	FeatureNames []string `json:"feature_names"`
	Classes      []int    `json:"classes,omitempty"`
	NClasses     int      `json:"n_classes,omitempty"`
}

// classIDs resolves the model's column order. Without explicit classes the
// columns are the encoded ids 0..n-1.
func (h ArtifactHeader) classIDs(fallback int) ([]int, error) {
	if len(h.Classes) > 0 {
		if h.NClasses != 0 && h.NClasses != len(h.Classes) {
			return nil, fmt.Errorf("n_classes=%d but %d classes listed", h.NClasses, len(h.Classes))
		}
		seen := make(map[int]bool, len(h.Classes))
		for _, id := range h.Classes {
			if seen[id] {
				return nil, fmt.Errorf("class id %d duplicated", id)
			}
			seen[id] = true
		}
		return append([]int(nil), h.Classes...), nil
	}
	n := h.NClasses
	if n == 0 {
		n = fallback
	}
	if n <= 0 {
		return nil, errors.New("model declares no classes")
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids, nil
}

func checkFeatures(features []float64, want int) error {
	if len(features) != want {
		return fmt.Errorf("feature vector has %d entries, model expects %d", len(features), want)
	}
	return nil
}

// argmax returns the first index holding the largest value.
func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	total := 0.0
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return out
	}
	for i, v := range values {
		out[i] = v / total
	}
	return out
}

func softmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	out := make([]float64, len(scores))
	total := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
