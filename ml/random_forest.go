package ml

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type ForestParams struct {
	NumTrees int   `json:"n_estimators"`
	MaxDepth int   `json:"max_depth"`
	Seed     int64 `json:"seed"`
	// Workers bounds concurrent tree fitting; zero means GOMAXPROCS.
	Workers int `json:"-"`
}

func DefaultForestParams() ForestParams {
	return ForestParams{NumTrees: 200, MaxDepth: 20, Seed: 42}
}

// RandomForest averages bootstrap-trained regression trees. Every tree draws
// from its own source seeded off Params.Seed, so the fitted forest does not
// depend on how the workers are scheduled.
type RandomForest struct {
	params      ForestParams
	trees       []*RegressionTree
	numFeatures int
}

func NewRandomForest(params ForestParams) *RandomForest {
	return &RandomForest{params: params}
}

func (rf *RandomForest) Params() ForestParams {
	return rf.params
}

func (rf *RandomForest) Fit(ctx context.Context, features [][]float64, targets []float64) error {
	if err := validateTrainingSet(features, targets); err != nil {
		return err
	}
	if rf.params.NumTrees <= 0 {
		return fmt.Errorf("n_estimators must be positive, got %d", rf.params.NumTrees)
	}
	if rf.params.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be positive, got %d", rf.params.MaxDepth)
	}

	seeder := rand.New(rand.NewSource(rf.params.Seed))
	seeds := make([]int64, rf.params.NumTrees)
	for i := range seeds {
		seeds[i] = seeder.Int63()
	}

	workers := rf.params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*RegressionTree, rf.params.NumTrees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rnd := rand.New(rand.NewSource(seeds[i]))
			sample := make([]int, len(features))
			for j := range sample {
				sample[j] = rnd.Intn(len(features))
			}
			tree := NewRegressionTree(rf.params.MaxDepth)
			tree.fitIndices(features, targets, sample)
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.trees = trees
	rf.numFeatures = len(features[0])
	return nil
}

func (rf *RandomForest) Predict(features []float64) (float64, error) {
	if len(rf.trees) == 0 {
		return 0, ErrNotTrained
	}
	if err := checkWidth(features, rf.numFeatures); err != nil {
		return 0, err
	}
	var sum float64
	for _, tree := range rf.trees {
		v, err := tree.Predict(features)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(len(rf.trees)), nil
}

func (rf *RandomForest) Width() int {
	return rf.numFeatures
}

func (rf *RandomForest) NumTrees() int {
	return len(rf.trees)
}

func (rf *RandomForest) Save(path string) error {
	if len(rf.trees) == 0 {
		return ErrNotTrained
	}
	nodes := make([][]TreeNode, len(rf.trees))
	for i, tree := range rf.trees {
		nodes[i] = tree.nodes
	}
	return writeArtifact(path, &artifact{
		Kind:   ModelTypeRandomForest,
		Params: rf.params,
		Trees:  nodes,
	}, rf.numFeatures)
}

func (rf *RandomForest) Load(path string) error {
	a, err := readArtifact(path, ModelTypeRandomForest)
	if err != nil {
		return err
	}
	trees := make([]*RegressionTree, len(a.Trees))
	for i, nodes := range a.Trees {
		tree, err := treeFromNodes(nodes, a.Params.MaxDepth, a.NumFeatures)
		if err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		trees[i] = tree
	}
	rf.params = a.Params
	rf.trees = trees
	rf.numFeatures = a.NumFeatures
	return nil
}
