package ml

import (
	"errors"
	"fmt"
)

type DecisionTree struct {
	nodes []TreeNode
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int     `json:"class_label"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewDecisionTree(nodes []TreeNode) *DecisionTree {
	return &DecisionTree{nodes: append([]TreeNode(nil), nodes...)}
}

func (dt *DecisionTree) Nodes() []TreeNode {
	return append([]TreeNode(nil), dt.nodes...)
}

// Predict walks from the root and returns the leaf's class index.
func (dt *DecisionTree) Predict(features []float64) (int, error) {
	if len(dt.nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	idx := 0
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.ClassLabel, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("invalid tree state")
}

// Validate checks that every path from the root ends in a leaf whose class
// is below classCount and that internal nodes only read features below width.
func (dt *DecisionTree) Validate(width, classCount int) error {
	if len(dt.nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	const (
		unseen = iota
		active
		done
	)
	state := make([]int, len(dt.nodes))
	var visit func(idx int) error
	visit = func(idx int) error {
		if idx < 0 || idx >= len(dt.nodes) {
			return fmt.Errorf("child index %d out of range", idx)
		}
		switch state[idx] {
		case active:
			return fmt.Errorf("cycle at node %d", idx)
		case done:
			return nil
		}
		node := dt.nodes[idx]
		if node.IsLeaf {
			if node.ClassLabel < 0 || node.ClassLabel >= classCount {
				return fmt.Errorf("node %d: class label %d out of range [0,%d)", idx, node.ClassLabel, classCount)
			}
			state[idx] = done
			return nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= width {
			return fmt.Errorf("node %d: feature index %d out of range [0,%d)", idx, node.FeatureIdx, width)
		}
		state[idx] = active
		if err := visit(node.LeftChild); err != nil {
			return err
		}
		if err := visit(node.RightChild); err != nil {
			return err
		}
		state[idx] = done
		return nil
	}
	return visit(0)
}
