package ml

import (
	"errors"
	"fmt"
)

const (
	ModelTypeRandomForest = "random_forest"
	ModelTypeDecisionTree = "decision_tree"
)

// NewModel returns an unfitted model of the given type.
func NewModel(modelType string, params ForestParams) (MLModel, error) {
	switch modelType {
	case ModelTypeRandomForest:
		return NewRandomForest(params), nil
	case ModelTypeDecisionTree:
		return NewRegressionTree(params.MaxDepth), nil
	default:
		return nil, errors.New("unsupported model type")
	}
}

// LoadModel restores a model saved by the trainer and checks that it accepts
// wine feature vectors.
func LoadModel(modelType, path string) (MLModel, error) {
	var model interface {
		MLModel
		Width() int
	}
	switch modelType {
	case ModelTypeRandomForest:
		model = &RandomForest{}
	case ModelTypeDecisionTree:
		model = &RegressionTree{}
	default:
		return nil, errors.New("unsupported model type")
	}
	if err := model.Load(path); err != nil {
		return nil, err
	}
	if model.Width() != NumFeatures {
		return nil, fmt.Errorf("%w: model expects %d features, want %d", ErrInvalidArtifact, model.Width(), NumFeatures)
	}
	return model, nil
}
