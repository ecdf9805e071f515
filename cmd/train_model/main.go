package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"winequality/config"
	"winequality/db"
	"winequality/logger"
	"winequality/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	source := flag.String("dataset", "", "dataset URL or local CSV path")
	modelPath := flag.String("model_path", "", "model output path")
	metricsPath := flag.String("metrics_path", "", "metrics output path")
	numTrees := flag.Int("n_estimators", 0, "number of trees")
	maxDepth := flag.Int("max_depth", 0, "max tree depth")
	testRatio := flag.Float64("test_ratio", 0, "held-out fraction")
	seed := flag.Int64("seed", 0, "random seed for the split and the forest")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags beat config only when given explicitly
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dataset":
			cfg.Dataset.URL = *source
		case "model_path":
			cfg.Artifacts.ModelPath = *modelPath
		case "metrics_path":
			cfg.Artifacts.MetricsPath = *metricsPath
		case "n_estimators":
			cfg.Training.NumTrees = *numTrees
		case "max_depth":
			cfg.Training.MaxDepth = *maxDepth
		case "test_ratio":
			cfg.Training.TestRatio = *testRatio
		case "seed":
			cfg.Training.Seed = *seed
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Error("training failed", zap.Error(err))
		zl.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ledger training.Ledger
	if cfg.Database.Path != "" {
		l, err := db.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer l.Close()
		ledger = l
	}

	metrics, err := training.NewTrainer(cfg, zl, ledger).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Training completed! MSE: %.4f, R2: %.4f\n", metrics.MSE, metrics.R2Score)
	fmt.Printf("Model saved to %s\n", cfg.Artifacts.ModelPath)
	return nil
}
