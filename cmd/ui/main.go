package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bankpredict/client"
	"bankpredict/config"
	"bankpredict/logger"
	"bankpredict/ui"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	backend := client.New(cfg.UI.BackendURL, cfg.UI.Timeout)
	app, err := ui.NewApp(backend, cfg.UI.RecentResults, appLogger.Named("ui"))
	if err != nil {
		appLogger.Fatal("failed to create ui", zap.Error(err))
	}

	handler := ui.NewHandler(app, backend.BaseURL(), appLogger.Logger)
	server := ui.NewServer(cfg.UI.Addr(), handler, cfg.UI.Timeout, appLogger.Logger)
	appLogger.Info("using backend", zap.String("backend_url", backend.BaseURL()))
	go func() {
		if err := server.Start(); err != nil {
			appLogger.Fatal("UI server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		appLogger.Error("ui server forced to shutdown", zap.Error(err))
	}
}
