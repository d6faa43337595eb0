package ml

import (
	"errors"
	"fmt"
)

// LogisticRegression is a linear model. A single coefficient row is the
// binary case and yields two columns [1-p, p].
type LogisticRegression struct {
	coef        [][]float64
	intercept   []float64
	numFeatures int
	classes     []int
}

func NewLogisticRegression(coef [][]float64, intercept []float64, classes []int) (*LogisticRegression, error) {
	if len(coef) == 0 || len(coef[0]) == 0 {
		return nil, errors.New("logistic regression has no coefficients")
	}
	if len(intercept) != len(coef) {
		return nil, fmt.Errorf("%d intercepts for %d coefficient rows", len(intercept), len(coef))
	}
	numFeatures := len(coef[0])
	for i, row := range coef {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("coefficient row %d has %d entries, want %d", i, len(row), numFeatures)
		}
	}
	wantClasses := len(coef)
	if len(coef) == 1 {
		wantClasses = 2
	}
	if len(classes) != wantClasses {
		return nil, fmt.Errorf("%d coefficient rows need %d classes, got %d", len(coef), wantClasses, len(classes))
	}
	return &LogisticRegression{
		coef:        coef,
		intercept:   intercept,
		numFeatures: numFeatures,
		classes:     append([]int(nil), classes...),
	}, nil
}

func (m *LogisticRegression) PredictLabel(features []float64) (int, error) {
	dist, err := m.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return m.classes[argmax(dist)], nil
}

func (m *LogisticRegression) PredictProba(features []float64) ([]float64, error) {
	if err := checkFeatures(features, m.numFeatures); err != nil {
		return nil, err
	}
	scores := make([]float64, len(m.coef))
	for i, row := range m.coef {
		z := m.intercept[i]
		for j, w := range row {
			z += w * features[j]
		}
		scores[i] = z
	}
	if len(scores) == 1 {
		p := sigmoid(scores[0])
		return []float64{1 - p, p}, nil
	}
	return softmax(scores), nil
}

func (m *LogisticRegression) Classes() []int {
	return append([]int(nil), m.classes...)
}

func (m *LogisticRegression) NumFeatures() int {
	return m.numFeatures
}

func (m *LogisticRegression) Close() error {
	return nil
}
