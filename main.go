package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	qhttp "symptomdx/http"
	"symptomdx/ml"
	"symptomdx/monitoring"
	"symptomdx/prediction"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "symptomdx: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load config
	config, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := monitoring.NewLogger(config.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 2. Load model artifacts; nothing listens until this succeeds
	artifacts, err := ml.LoadArtifacts(config.Model.ModelConfig)
	if err != nil {
		logger.Error("failed to load model artifacts",
			zap.String("model", config.Model.Path),
			zap.String("label_encoder", config.Model.LabelEncoderPath),
			zap.Error(err))
		return err
	}
	defer ml.ShutdownONNX()
	logger.Info("model loaded",
		zap.String("model_type", artifacts.ModelType),
		zap.String("version", artifacts.Version),
		zap.Int("features", artifacts.Schema.Len()),
		zap.Int("classes", artifacts.Encoder.Len()))

	service, err := prediction.NewService(artifacts, prediction.Options{
		CacheSize:   config.Cache.Size,
		ReloadGrace: config.Model.ReloadGrace,
		Loader: func() (*ml.Artifacts, error) {
			return ml.LoadArtifacts(config.Model.ModelConfig)
		},
	}, logger)
	if err != nil {
		return err
	}
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.Model.Watch {
		watcher, err := prediction.NewWatcher(service.Reload, artifactPaths(config.Model.ModelConfig), config.Model.WatchDebounce, logger)
		if err != nil {
			return fmt.Errorf("watch model files: %w", err)
		}
		go watcher.Run(ctx)
	}

	// 3. Start HTTP server
	server := qhttp.NewServer(config.Http, service, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// 4. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			return err
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("exiting")
	return nil
}

func artifactPaths(cfg ml.ModelConfig) []string {
	paths := []string{cfg.Path, cfg.LabelEncoderPath}
	if cfg.FeaturesPath != "" {
		paths = append(paths, cfg.FeaturesPath)
	}
	return paths
}
