package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minilake/minilake/internal/api"
	"github.com/minilake/minilake/internal/config"
	"github.com/minilake/minilake/internal/engine"
	"github.com/minilake/minilake/internal/ingest"
	"github.com/minilake/minilake/internal/observability"
	"github.com/minilake/minilake/internal/storage"
)

func main() {
	cfg, err := config.LoadFromEnv("minilake-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	session, err := engine.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open duckdb session", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = session.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, storage.Config{
		Type:      storage.Type(cfg.Storage.Type),
		LocalRoot: cfg.Storage.LocalRoot,
		S3: storage.S3Options{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			UseSSL:          cfg.S3.UseSSL,
		},
	}, session, logger)
	if err != nil {
		logger.Error("failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger: logger,
		Tables: store,
		Query:  session,
		Ingest: api.IngestorFunc(func(ctx context.Context, filePath, relation string, columns []storage.Column) error {
			opts := ingest.Options{}
			for _, column := range columns {
				opts.Columns = append(opts.Columns, ingest.Column{Name: column.Name, Type: column.Type})
			}
			return ingest.File(ctx, session, filePath, relation, opts)
		}),
		Readiness: func(ctx context.Context) error {
			return session.Ping(ctx)
		},
		DependencyTimout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("storage", cfg.Storage.Type))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
