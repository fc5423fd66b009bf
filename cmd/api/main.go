package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/veriflow/veriflow/internal/config"
	"github.com/veriflow/veriflow/internal/document"
	"github.com/veriflow/veriflow/internal/infra"
	"github.com/veriflow/veriflow/internal/logging"
	"github.com/veriflow/veriflow/internal/provider"
	"github.com/veriflow/veriflow/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	var store document.Store
	if cfg.S3Bucket != "" {
		store, err = infra.NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket)
		if err != nil {
			logger.Error("connect object storage", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("S3_BUCKET not set, storing documents in memory")
	}

	var gateway provider.Client
	if cfg.ProviderConfigured() {
		gateway = provider.NewGateway(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderSharedSecret, logger)
	} else {
		logger.Warn("provider credentials not configured, verification actions will fail fast")
	}

	srv, err := server.New(cfg, db, cache, store, gateway, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
