package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/montanaflynn/stats"
)

// Metrics is the record written next to the model after each training run.
// Accuracy repeats R2Score; downstream readers expect the key.
type Metrics struct {
	Accuracy float64 `json:"accuracy"`
	MSE      float64 `json:"mse"`
	R2Score  float64 `json:"r2_score"`
}

func NewMetrics(mse, r2 float64) Metrics {
	return Metrics{Accuracy: r2, MSE: mse, R2Score: r2}
}

func MeanSquaredError(yTrue, yPred []float64) (float64, error) {
	if err := checkPairs(yTrue, yPred); err != nil {
		return 0, err
	}
	squared := make(stats.Float64Data, len(yTrue))
	for i := range yTrue {
		diff := yTrue[i] - yPred[i]
		squared[i] = diff * diff
	}
	return stats.Mean(squared)
}

// R2Score is the coefficient of determination, 1 - SSres/SStot. Constant
// targets score 1 when predicted exactly and 0 otherwise.
func R2Score(yTrue, yPred []float64) (float64, error) {
	if err := checkPairs(yTrue, yPred); err != nil {
		return 0, err
	}
	mean, err := stats.Mean(stats.Float64Data(yTrue))
	if err != nil {
		return 0, err
	}
	var ssRes, ssTot float64
	for i := range yTrue {
		res := yTrue[i] - yPred[i]
		tot := yTrue[i] - mean
		ssRes += res * res
		ssTot += tot * tot
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}

// Evaluate predicts every row and scores the result against targets.
func Evaluate(model Regressor, features [][]float64, targets []float64) (Metrics, error) {
	if len(features) != len(targets) {
		return Metrics{}, errors.New("features and targets size mismatch")
	}
	predictions := make([]float64, len(features))
	for i, row := range features {
		p, err := model.Predict(row)
		if err != nil {
			return Metrics{}, fmt.Errorf("predict row %d: %w", i, err)
		}
		predictions[i] = p
	}
	mse, err := MeanSquaredError(targets, predictions)
	if err != nil {
		return Metrics{}, err
	}
	r2, err := R2Score(targets, predictions)
	if err != nil {
		return Metrics{}, err
	}
	return NewMetrics(mse, r2), nil
}

func (m Metrics) Save(path string) error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

func LoadMetrics(path string) (Metrics, error) {
	var m Metrics
	payload, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("decode metrics %s: %w", path, err)
	}
	return m, nil
}

func checkPairs(yTrue, yPred []float64) error {
	if len(yTrue) == 0 {
		return errors.New("no samples to score")
	}
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("length mismatch: %d targets, %d predictions", len(yTrue), len(yPred))
	}
	return nil
}
