package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/blackmichael/skystream/internal/app"
	"github.com/blackmichael/skystream/internal/config"
	"github.com/blackmichael/skystream/internal/httpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ingest, err := app.New(cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("create ingestion: %w", err)
	}
	defer ingest.Close()

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the HTTP server
	server := httpserver.NewServer(cfg.Port, ingest.Pipeline.Broadcast, reg, logger)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited with error", "error", err)
			stop()
		}
	}()

	logger.Info("server started",
		"port", cfg.Port,
		"protocol", cfg.Protocol,
		"hosts", cfg.Hosts,
		"lang", cfg.FilterLang,
	)

	err = ingest.Run(ctx)
	logger.Info("shutting down", "reason", context.Cause(ctx))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
