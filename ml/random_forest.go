package ml

import (
	"errors"
	"fmt"
)

// RandomForest averages the class distributions of its trees.
type RandomForest struct {
	trees       []*DecisionTree
	numFeatures int
	classes     []int
}

func NewRandomForest(trees [][]TreeNode, numFeatures int, classes []int) (*RandomForest, error) {
	if len(trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	forest := &RandomForest{
		trees:       make([]*DecisionTree, len(trees)),
		numFeatures: numFeatures,
		classes:     append([]int(nil), classes...),
	}
	for i, nodes := range trees {
		tree, err := NewDecisionTree(nodes, numFeatures, classes)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		forest.trees[i] = tree
	}
	return forest, nil
}

func (f *RandomForest) PredictLabel(features []float64) (int, error) {
	dist, err := f.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return f.classes[argmax(dist)], nil
}

func (f *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if err := checkFeatures(features, f.numFeatures); err != nil {
		return nil, err
	}
	sum := make([]float64, len(f.classes))
	for _, tree := range f.trees {
		dist, err := tree.PredictProba(features)
		if err != nil {
			return nil, err
		}
		for i, p := range dist {
			sum[i] += p
		}
	}
	for i := range sum {
		sum[i] /= float64(len(f.trees))
	}
	return sum, nil
}

func (f *RandomForest) Classes() []int {
	return append([]int(nil), f.classes...)
}

func (f *RandomForest) NumFeatures() int {
	return f.numFeatures
}

func (f *RandomForest) Close() error {
	return nil
}
