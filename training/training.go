// Package training runs one offline fit of the wine quality model and writes
// the model and metrics artifacts.
package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"winequality/config"
	"winequality/dataset"
	"winequality/db"
	"winequality/ml"
)

// Ledger receives a row per successful run. *db.Ledger satisfies it.
type Ledger interface {
	SaveTrainingLog(entry db.TrainingLog) (int64, error)
}

type Trainer struct {
	cfg    *config.Config
	logger *zap.Logger
	ledger Ledger
}

// NewTrainer wires a trainer. ledger may be nil.
func NewTrainer(cfg *config.Config, logger *zap.Logger, ledger Ledger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{cfg: cfg, logger: logger, ledger: ledger}
}

// Run loads the dataset, fits the model on the training partition, scores it
// on the held-out partition and persists both artifacts. Nothing is written
// unless the fit and evaluation succeed.
func (t *Trainer) Run(ctx context.Context) (ml.Metrics, error) {
	started := time.Now()
	cfg := t.cfg

	t.logger.Info("loading data", zap.String("source", cfg.Dataset.URL))
	samples, err := dataset.Load(ctx, cfg.Dataset.URL, []rune(cfg.Dataset.Separator)[0])
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("load dataset: %w", err)
	}
	features, targets := dataset.Matrix(samples)

	part, err := dataset.Split(features, targets, cfg.Training.TestRatio, cfg.Training.Seed)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("split dataset: %w", err)
	}
	t.logger.Info("dataset split",
		zap.Int("rows", len(samples)),
		zap.Int("train_rows", len(part.TrainX)),
		zap.Int("test_rows", len(part.TestX)),
		zap.Int64("seed", cfg.Training.Seed),
	)

	params := ml.ForestParams{
		NumTrees: cfg.Training.NumTrees,
		MaxDepth: cfg.Training.MaxDepth,
		Seed:     cfg.Training.Seed,
		Workers:  cfg.Training.Workers,
	}
	model, err := ml.NewModel(cfg.Artifacts.ModelType, params)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("model type %q: %w", cfg.Artifacts.ModelType, err)
	}

	fitStarted := time.Now()
	if err := model.Fit(ctx, part.TrainX, part.TrainY); err != nil {
		return ml.Metrics{}, fmt.Errorf("fit model: %w", err)
	}
	t.logger.Info("model fitted",
		zap.String("model_type", cfg.Artifacts.ModelType),
		zap.Int("n_estimators", params.NumTrees),
		zap.Int("max_depth", params.MaxDepth),
		zap.Duration("elapsed", time.Since(fitStarted)),
	)

	metrics, err := ml.Evaluate(model, part.TestX, part.TestY)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("evaluate model: %w", err)
	}
	t.logger.Info("model performance",
		zap.Float64("mse", metrics.MSE),
		zap.Float64("r2_score", metrics.R2Score),
	)

	for _, path := range []string{cfg.Artifacts.ModelPath, cfg.Artifacts.MetricsPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return ml.Metrics{}, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	if err := model.Save(cfg.Artifacts.ModelPath); err != nil {
		return ml.Metrics{}, fmt.Errorf("save model: %w", err)
	}
	t.logger.Info("model saved", zap.String("path", cfg.Artifacts.ModelPath))

	if err := metrics.Save(cfg.Artifacts.MetricsPath); err != nil {
		return ml.Metrics{}, fmt.Errorf("save metrics: %w", err)
	}
	t.logger.Info("metrics saved", zap.String("path", cfg.Artifacts.MetricsPath))

	if t.ledger != nil {
		id, err := t.ledger.SaveTrainingLog(db.TrainingLog{
			ModelName:   cfg.Artifacts.ModelType,
			ModelPath:   cfg.Artifacts.ModelPath,
			MSE:         metrics.MSE,
			R2Score:     metrics.R2Score,
			TrainRows:   len(part.TrainX),
			TestRows:    len(part.TestX),
			NumTrees:    params.NumTrees,
			MaxDepth:    params.MaxDepth,
			Seed:        params.Seed,
			DatasetURL:  cfg.Dataset.URL,
			TrainedAt:   time.Now().UTC(),
			DurationSec: time.Since(started).Seconds(),
		})
		if err != nil {
			// artifacts are already in place; the ledger is best effort
			t.logger.Warn("record training run failed", zap.Error(err))
		} else {
			t.logger.Debug("training run recorded", zap.Int64("id", id))
		}
	}

	return metrics, nil
}
