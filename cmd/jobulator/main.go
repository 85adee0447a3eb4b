// Command jobulator is the opportunity-ingestion control plane: the
// discovery ingest endpoint, the leased job queue, the projection engine,
// the public posting catalog, and the moderation and admin surfaces.
//
// Usage:
//
//	jobulator                          # defaults: :8080, jobulator.db
//	jobulator -config jobulator.yaml   # YAML config plus SJ_* env overrides
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sloppyjobs/jobulator/auth"
	"github.com/sloppyjobs/jobulator/dbopen"
	"github.com/sloppyjobs/jobulator/httpapi"
	"github.com/sloppyjobs/jobulator/internal/config"
	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/pipeline"
)

func main() {
	configPath := flag.String("config", "", "path to jobulator.yaml config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "sqlite database path (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *addr, *dbPath); err != nil {
		logger.Error("jobulator: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, addr, dbPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	svc := pipeline.New(db, cfg.Pipeline, logger)
	machines := auth.NewMachineVerifier(st)
	tokens := auth.NewTokenVerifier(cfg.Auth.IssuerURL, cfg.Auth.LocalSecret)
	server := httpapi.New(svc, st, machines, tokens, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "db", cfg.DBPath)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
