package ml

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// RegressionTree is a CART tree grown on squared error. Nodes are stored
// flat; child fields are absolute indices into nodes.
type RegressionTree struct {
	nodes       []TreeNode
	maxDepth    int
	numFeatures int
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewRegressionTree(maxDepth int) *RegressionTree {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	return &RegressionTree{maxDepth: maxDepth}
}

func (dt *RegressionTree) Fit(ctx context.Context, features [][]float64, targets []float64) error {
	if err := validateTrainingSet(features, targets); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	dt.fitIndices(features, targets, indices)
	return nil
}

// fitIndices grows the tree on the rows named by indices. Repeated indices
// act as sample weights, which is how bootstrap samples are fed in.
func (dt *RegressionTree) fitIndices(features [][]float64, targets []float64, indices []int) {
	if dt.maxDepth <= 0 {
		dt.maxDepth = 3
	}
	dt.numFeatures = len(features[0])
	dt.nodes = make([]TreeNode, 0, 2*len(indices))
	dt.grow(features, targets, indices, 0)
}

func (dt *RegressionTree) Predict(features []float64) (float64, error) {
	if len(dt.nodes) == 0 {
		return 0, ErrNotTrained
	}
	if err := checkWidth(features, dt.numFeatures); err != nil {
		return 0, err
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// Width is the feature count the tree was fitted on.
func (dt *RegressionTree) Width() int {
	return dt.numFeatures
}

// Depth is the number of edges on the longest root-to-leaf path.
func (dt *RegressionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		return 1 + max(walk(node.LeftChild), walk(node.RightChild))
	}
	return walk(0)
}

func (dt *RegressionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return ErrNotTrained
	}
	return writeArtifact(path, &artifact{
		Kind:   ModelTypeDecisionTree,
		Params: ForestParams{NumTrees: 1, MaxDepth: dt.maxDepth},
		Trees:  [][]TreeNode{dt.nodes},
	}, dt.numFeatures)
}

func (dt *RegressionTree) Load(path string) error {
	a, err := readArtifact(path, ModelTypeDecisionTree)
	if err != nil {
		return err
	}
	if len(a.Trees) != 1 {
		return fmt.Errorf("%w: decision tree artifact holds %d trees", ErrInvalidArtifact, len(a.Trees))
	}
	tree, err := treeFromNodes(a.Trees[0], a.Params.MaxDepth, a.NumFeatures)
	if err != nil {
		return err
	}
	*dt = *tree
	return nil
}

func treeFromNodes(nodes []TreeNode, maxDepth, numFeatures int) (*RegressionTree, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: empty tree", ErrInvalidArtifact)
	}
	for i, node := range nodes {
		if node.IsLeaf {
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= numFeatures {
			return nil, fmt.Errorf("%w: node %d splits on feature %d", ErrInvalidArtifact, i, node.FeatureIdx)
		}
		// children always follow their parent, which also rules out cycles
		if node.LeftChild <= i || node.LeftChild >= len(nodes) || node.RightChild <= i || node.RightChild >= len(nodes) {
			return nil, fmt.Errorf("%w: node %d has children out of range", ErrInvalidArtifact, i)
		}
	}
	return &RegressionTree{nodes: nodes, maxDepth: maxDepth, numFeatures: numFeatures}, nil
}

func (dt *RegressionTree) grow(features [][]float64, targets []float64, indices []int, depth int) int {
	self := len(dt.nodes)
	dt.nodes = append(dt.nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      meanTarget(targets, indices),
		IsLeaf:     true,
	})

	if depth >= dt.maxDepth || len(indices) < 2 || isConstant(targets, indices) {
		return self
	}
	feature, threshold, ok := findBestSplit(features, targets, indices)
	if !ok {
		return self
	}
	left, right := partition(features, indices, feature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return self
	}

	leftIdx := dt.grow(features, targets, left, depth+1)
	rightIdx := dt.grow(features, targets, right, depth+1)

	node := &dt.nodes[self]
	node.FeatureIdx = feature
	node.Threshold = threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return self
}

// findBestSplit scans every feature for the threshold that minimises the
// summed squared error of both children. Thresholds sit halfway between
// consecutive distinct values.
func findBestSplit(features [][]float64, targets []float64, indices []int) (int, float64, bool) {
	n := len(indices)
	var total float64
	for _, i := range indices {
		total += targets[i]
	}

	bestFeature := -1
	bestThreshold := 0.0
	// maximising sumL²/nL + sumR²/nR is the same as minimising child SSE
	bestScore := total * total / float64(n)

	sorted := make([]int, n)
	featureCount := len(features[indices[0]])
	for featureIdx := 0; featureIdx < featureCount; featureIdx++ {
		copy(sorted, indices)
		sort.SliceStable(sorted, func(a, b int) bool {
			return features[sorted[a]][featureIdx] < features[sorted[b]][featureIdx]
		})

		var leftSum float64
		for pos := 0; pos < n-1; pos++ {
			leftSum += targets[sorted[pos]]
			current := features[sorted[pos]][featureIdx]
			next := features[sorted[pos+1]][featureIdx]
			if current == next {
				continue
			}
			leftN := float64(pos + 1)
			rightN := float64(n - pos - 1)
			rightSum := total - leftSum
			score := leftSum*leftSum/leftN + rightSum*rightSum/rightN
			if score > bestScore {
				bestScore = score
				bestFeature = featureIdx
				bestThreshold = midpoint(current, next)
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func midpoint(a, b float64) float64 {
	m := a/2 + b/2
	if m >= b {
		return a
	}
	return m
}

func partition(features [][]float64, indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func meanTarget(targets []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var sum float64
	for _, i := range indices {
		sum += targets[i]
	}
	return sum / float64(len(indices))
}

func isConstant(targets []float64, indices []int) bool {
	first := targets[indices[0]]
	for _, i := range indices[1:] {
		if targets[i] != first {
			return false
		}
	}
	return true
}

func validateTrainingSet(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature rows are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrFeatureMismatch, i, len(row), width)
		}
	}
	return nil
}
