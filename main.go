package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"winequality/config"
	whttp "winequality/http"
	"winequality/logger"
	"winequality/ml"
	"winequality/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	// 2. Load the model once; the server refuses to start without it
	model, err := ml.LoadModel(cfg.Artifacts.ModelType, cfg.Artifacts.ModelPath)
	if err != nil {
		zl.Fatal("failed to load model",
			zap.String("path", cfg.Artifacts.ModelPath),
			zap.Error(err),
		)
	}
	zl.Info("model loaded",
		zap.String("model_type", cfg.Artifacts.ModelType),
		zap.String("path", cfg.Artifacts.ModelPath),
	)

	// 3. Start HTTP server
	handler := whttp.NewHandler(model, whttp.Options{
		Service:     cfg.Service,
		PredictMode: cfg.Http.PredictMode,
		Logger:      zl,
		Metrics:     monitoring.NewMetrics(),
	})
	server := whttp.NewServer(whttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, handler, zl)

	go func() {
		if err := server.Start(); err != nil {
			zl.Fatal("http server failed", zap.Error(err))
		}
	}()
	zl.Info("serving predictions",
		zap.String("addr", server.Addr()),
		zap.String("predict_mode", cfg.Http.PredictMode),
	)

	// 4. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := server.Stop(); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	zl.Info("exiting")
}
