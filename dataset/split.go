package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

type Partition struct {
	TrainX [][]float64
	TrainY []float64
	TestX  [][]float64
	TestY  []float64
	// TestIndices are the source row numbers that went to the test side, in
	// draw order.
	TestIndices []int
}

// Split shuffles row indices with a source seeded by seed and takes the first
// ceil(testRatio*n) of them as the test partition. The same rows, ratio and
// seed always give the same partition.
func Split(features [][]float64, targets []float64, testRatio float64, seed int64) (Partition, error) {
	n := len(features)
	if n != len(targets) {
		return Partition{}, errors.New("features and targets size mismatch")
	}
	if testRatio <= 0 || testRatio >= 1 {
		return Partition{}, fmt.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	nTest := int(math.Ceil(testRatio * float64(n)))
	if nTest < 1 || n-nTest < 1 {
		return Partition{}, fmt.Errorf("cannot split %d rows with test ratio %v", n, testRatio)
	}

	rnd := rand.New(rand.NewSource(seed))
	order := rnd.Perm(n)

	p := Partition{
		TrainX:      make([][]float64, 0, n-nTest),
		TrainY:      make([]float64, 0, n-nTest),
		TestX:       make([][]float64, 0, nTest),
		TestY:       make([]float64, 0, nTest),
		TestIndices: make([]int, 0, nTest),
	}
	for i, idx := range order {
		if i < nTest {
			p.TestX = append(p.TestX, features[idx])
			p.TestY = append(p.TestY, targets[idx])
			p.TestIndices = append(p.TestIndices, idx)
		} else {
			p.TrainX = append(p.TrainX, features[idx])
			p.TrainY = append(p.TrainY, targets[idx])
		}
	}
	return p, nil
}
