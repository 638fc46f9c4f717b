package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"jsonwatch/internal/api"
	"jsonwatch/internal/config"
	"jsonwatch/internal/logging"
	"jsonwatch/internal/metrics"
	"jsonwatch/internal/ollama"
	"jsonwatch/internal/stream"
	"jsonwatch/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := os.Getenv("JSONWATCH_CONFIG")
	if configPath == "" {
		configPath = config.DefaultFilename
	}

	settings, err := config.Load(configPath)
	if err != nil {
		logging.NewLogger(nil, logging.LevelError).Error("load config failed", map[string]string{
			"path":  configPath,
			"error": err.Error(),
		})
		os.Exit(1)
	}

	level, ok := logging.ParseLevel(settings.LogLevel)
	if !ok {
		level = logging.LevelInfo
	}
	logger := logging.NewLogger(logging.NewBuffer(logging.DefaultBufferSize), level)
	registry := metrics.Default

	fileWatcher, err := watcher.NewWithOptions(watcher.Options{
		Logger:     logger,
		Debounce:   settings.Debounce.Std(),
		MaxWatches: settings.MaxWatches,
	})
	if err != nil {
		logger.Error("watcher init failed", map[string]string{"error": err.Error()})
		os.Exit(1)
	}
	defer fileWatcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := stream.NewManager(ctx, stream.Options{
		Watcher:          fileWatcher,
		Logger:           logger,
		Registry:         registry,
		PollInterval:     settings.PollInterval.Std(),
		SubscriberBuffer: settings.SubscriberBuffer,
		WriteTimeout:     settings.WriteTimeout.Std(),
		MaxSubscribers:   settings.MaxSubscribers,
	})
	defer manager.Close()

	// The passthrough endpoint stays registered but answers 503 until
	// the Ollama environment is configured.
	var ollamaClient *ollama.Client
	ollamaConfig, err := ollama.ConfigFromEnv()
	if err != nil {
		logger.Warn("ollama disabled", map[string]string{"reason": err.Error()})
	} else {
		ollamaClient = ollama.NewClient(ollamaConfig.BaseURL, time.Duration(ollamaConfig.TimeoutSeconds)*time.Second)
		logger.Info("ollama configured", map[string]string{
			"base_url": ollamaConfig.BaseURL,
			"model":    ollamaConfig.Model,
		})
	}

	handler := api.Handler(api.Options{
		Manager:        manager,
		OllamaClient:   ollamaClient,
		OllamaConfig:   ollamaConfig,
		AuthToken:      settings.AuthToken,
		AllowedOrigins: settings.AllowedOrigins,
		Logger:         logger,
		Registry:       registry,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(settings.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	logger.Info("jsonwatch listening", map[string]string{"addr": server.Addr})

	select {
	case <-ctx.Done():
		logger.Info("shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", map[string]string{"error": err.Error()})
		}
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]string{"error": err.Error()})
			os.Exit(1)
		}
	}
}
