package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bankpredict/config"
	qhttp "bankpredict/http"
	"bankpredict/logger"
	"bankpredict/ml"
	"bankpredict/monitoring"
	"bankpredict/pipeline"
)

func main() {
	// 1. Load config
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	// 2. Load model; the service never starts without one
	model, err := ml.LoadModel(cfg.Model.Dir)
	if err != nil {
		appLogger.Fatal("failed to load model", zap.String("model_dir", cfg.Model.Dir), zap.Error(err))
	}
	appLogger.Info("model loaded",
		zap.String("path", ml.ArtifactPath(cfg.Model.Dir)),
		zap.Int("features", len(model.Features())),
		zap.Int("classes", len(model.Classes())),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Monitoring
	hub := monitoring.NewWebSocketHub(appLogger.Named("events"))
	go hub.Start()

	err = config.Watch(ctx, configPath, func(next *config.Config) {
		if err := appLogger.SetLevel(next.Log.Level); err != nil {
			appLogger.Warn("ignoring invalid log level", zap.String("level", next.Log.Level), zap.Error(err))
			return
		}
		appLogger.Info("log level changed", zap.String("level", next.Log.Level))
	}, func(err error) {
		appLogger.Warn("config reload failed", zap.Error(err))
	})
	if err != nil {
		appLogger.Warn("config watch disabled", zap.Error(err))
	}

	// 4. Start HTTP server
	api := qhttp.NewAPI(qhttp.APIConfig{
		Model: model,
		Batch: pipeline.BatchOptions{
			Separator: cfg.Batch.SeparatorRune(),
			Encoding:  cfg.Batch.Encoding,
		},
		Logger:  appLogger.Named("api"),
		Metrics: monitoring.NewMetricsCollector(),
		Events:  hub,
	})
	server := qhttp.NewServer(cfg.HTTP, api, appLogger.Logger)
	go func() {
		if err := server.Start(); err != nil {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", zap.Error(err))
	}
	hub.Stop()
	cancel()

	appLogger.Info("exiting")
}
