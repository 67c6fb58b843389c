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

	"github.com/joho/godotenv"

	"match-stats-server/config"
	"match-stats-server/loghandler"
	"match-stats-server/telemetry"
)

func main() {
	slog.SetDefault(slog.New(loghandler.NewCompactHandler(os.Stderr, slog.LevelInfo)))

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found; using environment variables", "tag", "main")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "tag", "main", "err", err)
		os.Exit(1)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(loghandler.NewCompactHandler(os.Stderr, level)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server stopped with error", "tag", "main", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("flushing traces", "tag", "main", "err", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.startBackground(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      a.handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("match stats server listening", "tag", "main", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", "tag", "main", "timeout", cfg.ShutdownTimeout())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
