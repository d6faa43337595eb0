package ml

import (
	"errors"
	"fmt"
)

// DecisionTree is a fitted tree in pre-order layout: children always sit
// after their parent, so traversal terminates.
type DecisionTree struct {
	nodes       []TreeNode
	numFeatures int
	classes     []int
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	ClassLabel int       `json:"class_label"`
	IsLeaf     bool      `json:"is_leaf"`
	Value      []float64 `json:"value,omitempty"`
}

func NewDecisionTree(nodes []TreeNode, numFeatures int, classes []int) (*DecisionTree, error) {
	if len(nodes) == 0 {
		return nil, errors.New("tree has no nodes")
	}
	if numFeatures <= 0 {
		return nil, errors.New("tree has no features")
	}
	if len(classes) == 0 {
		return nil, errors.New("tree has no classes")
	}
	for i, node := range nodes {
		if node.IsLeaf {
			if len(node.Value) == 0 {
				if node.ClassLabel < 0 || node.ClassLabel >= len(classes) {
					return nil, fmt.Errorf("node %d: class_label %d out of range", i, node.ClassLabel)
				}
				continue
			}
			if len(node.Value) != len(classes) {
				return nil, fmt.Errorf("node %d: value has %d entries, want %d", i, len(node.Value), len(classes))
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= numFeatures {
			return nil, fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		for _, child := range []int{node.LeftChild, node.RightChild} {
			if child <= i || child >= len(nodes) {
				return nil, fmt.Errorf("node %d: invalid child %d", i, child)
			}
		}
	}
	return &DecisionTree{
		nodes:       append([]TreeNode(nil), nodes...),
		numFeatures: numFeatures,
		classes:     append([]int(nil), classes...),
	}, nil
}

func (dt *DecisionTree) PredictLabel(features []float64) (int, error) {
	dist, err := dt.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return dt.classes[argmax(dist)], nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if err := checkFeatures(features, dt.numFeatures); err != nil {
		return nil, err
	}
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	if len(leaf.Value) == 0 {
		dist := make([]float64, len(dt.classes))
		dist[leaf.ClassLabel] = 1
		return dist, nil
	}
	return normalize(leaf.Value), nil
}

func (dt *DecisionTree) Classes() []int {
	return append([]int(nil), dt.classes...)
}

func (dt *DecisionTree) NumFeatures() int {
	return dt.numFeatures
}

func (dt *DecisionTree) Close() error {
	return nil
}

func (dt *DecisionTree) leaf(features []float64) (TreeNode, error) {
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return TreeNode{}, errors.New("invalid tree state")
		}
	}
}
