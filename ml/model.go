package ml

import (
	"context"
	"errors"
)

var (
	ErrNotTrained      = errors.New("model not trained")
	ErrFeatureMismatch = errors.New("feature width mismatch")
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// Regressor is the read-only inference surface the server depends on.
// Implementations must be safe for concurrent Predict calls once loaded.
type Regressor interface {
	Predict(features []float64) (float64, error)
}

type MLModel interface {
	Regressor
	Fit(ctx context.Context, features [][]float64, targets []float64) error
	Save(path string) error
	Load(path string) error
}
