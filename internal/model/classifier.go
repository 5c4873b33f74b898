package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrDimension   = errors.New("feature dimension mismatch")
	ErrInvalidTree = errors.New("invalid decision tree")
)

// Classifier is a binary classifier over a dense feature matrix. Rows of x
// are samples; columns follow the bundle's feature order.
type Classifier interface {
	PredictLabels(x [][]float64) ([]int, error)
	PredictProbabilities(x [][]float64) ([]float64, error)
	NumFeatures() int
}

// LogisticRegression scores rows with sigmoid(w·x + b)
type LogisticRegression struct {
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Threshold float64   `json:"threshold"`
}

func (m *LogisticRegression) NumFeatures() int {
	return len(m.Weights)
}

// PredictProbabilities returns p(y=1) for each row
func (m *LogisticRegression) PredictProbabilities(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("row %d has %d features, want %d: %w", i, len(row), len(m.Weights), ErrDimension)
		}
		z := m.Bias
		for j, v := range row {
			z += m.Weights[j] * v
		}
		out[i] = sigmoid(z)
	}
	return out, nil
}

// PredictLabels thresholds the probabilities; the default threshold is 0.5
func (m *LogisticRegression) PredictLabels(x [][]float64) ([]int, error) {
	proba, err := m.PredictProbabilities(x)
	if err != nil {
		return nil, err
	}
	threshold := m.Threshold
	if threshold == 0 {
		threshold = 0.5
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		if p >= threshold {
			out[i] = 1
		}
	}
	return out, nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// TreeNode is one node of a flattened decision tree. Leaves carry the
// positive class probability observed during training.
type TreeNode struct {
	FeatureIdx  int     `json:"feature_idx"`
	Threshold   float64 `json:"threshold"`
	LeftChild   int     `json:"left_child"`
	RightChild  int     `json:"right_child"`
	IsLeaf      bool    `json:"is_leaf"`
	Probability float64 `json:"probability"`
}

// DecisionTree walks rows from node 0: feature <= threshold goes left
type DecisionTree struct {
	Nodes    []TreeNode `json:"nodes"`
	Features int        `json:"features"`
}

func (dt *DecisionTree) NumFeatures() int {
	return dt.Features
}

// validate checks child indices and that every path ends in a leaf
func (dt *DecisionTree) validate() error {
	if len(dt.Nodes) == 0 {
		return fmt.Errorf("no nodes: %w", ErrInvalidTree)
	}
	for i, n := range dt.Nodes {
		if n.IsLeaf {
			if n.Probability < 0 || n.Probability > 1 {
				return fmt.Errorf("node %d probability %v out of range: %w", i, n.Probability, ErrInvalidTree)
			}
			continue
		}
		if n.FeatureIdx < 0 || n.FeatureIdx >= dt.Features {
			return fmt.Errorf("node %d feature index %d out of range: %w", i, n.FeatureIdx, ErrInvalidTree)
		}
		// children must point forward so a walk always terminates
		if n.LeftChild <= i || n.LeftChild >= len(dt.Nodes) || n.RightChild <= i || n.RightChild >= len(dt.Nodes) {
			return fmt.Errorf("node %d has invalid children: %w", i, ErrInvalidTree)
		}
	}
	return nil
}

// PredictProbabilities returns the leaf probability reached by each row
func (dt *DecisionTree) PredictProbabilities(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != dt.Features {
			return nil, fmt.Errorf("row %d has %d features, want %d: %w", i, len(row), dt.Features, ErrDimension)
		}
		idx := 0
		for !dt.Nodes[idx].IsLeaf {
			n := dt.Nodes[idx]
			if row[n.FeatureIdx] <= n.Threshold {
				idx = n.LeftChild
			} else {
				idx = n.RightChild
			}
		}
		out[i] = dt.Nodes[idx].Probability
	}
	return out, nil
}

// PredictLabels picks the majority class of the reached leaf
func (dt *DecisionTree) PredictLabels(x [][]float64) ([]int, error) {
	proba, err := dt.PredictProbabilities(x)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}
