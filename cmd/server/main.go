// Package main provides the entry point for the clipvault API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maauso/clipvault-api/internal/bootstrap"
	"github.com/maauso/clipvault-api/internal/config"
	"github.com/maauso/clipvault-api/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from the environment and an optional .env file
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting clipvault API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("worker_url", cfg.WorkerURL),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("mongo_enabled", cfg.MongoEnabled()),
		slog.Bool("redis_enabled", cfg.RedisEnabled()),
	)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := bootstrap.NewDependencies(initCtx, cfg, logger)
	cancelInit()
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			logger.Warn("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	// Resume ingestions interrupted by the previous shutdown
	resumed, err := deps.Pipeline.Recover(context.Background())
	if err != nil {
		logger.Error("failed to resume ingestions", slog.String("error", err.Error()))
	} else if resumed > 0 {
		logger.Info("resumed interrupted ingestions", slog.Int("count", resumed))
	}

	// Background orphan cleanup
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	var sweeperDone sync.WaitGroup
	sweeperDone.Add(1)
	go func() {
		defer sweeperDone.Done()
		deps.Sweeper.Run(sweepCtx)
	}()

	// Initialize HTTP handlers and router
	routerCfg := server.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		routerCfg.AllowedOrigins = cfg.CORSOrigins
	}
	handlers := server.NewHandlers(deps.Services, logger)
	router := server.NewRouter(handlers, logger, routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Trim waits for the provider
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errCh:
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown failed: %w", err))
	}
	if err := deps.Pipeline.Shutdown(ctx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	stopSweeper()
	sweeperDone.Wait()

	if runErr != nil {
		return runErr
	}
	logger.Info("server stopped gracefully")
	return nil
}
