// Command jobworker is the built-in worker: it claims check_freshness
// and resolve_url_redirects jobs from the control plane and drives the
// lease-reap and freshness-enqueue maintenance endpoints.
//
// Usage:
//
//	jobworker -base-url http://localhost:8080 -module-id worker-1 -api-key <key>
//
// Credentials may also come from SJ_BASE_URL, SJ_MODULE_ID, SJ_API_KEY.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sloppyjobs/jobulator/worker"
)

func main() {
	baseURL := flag.String("base-url", envOr("SJ_BASE_URL", "http://localhost:8080"), "control plane base URL")
	moduleID := flag.String("module-id", os.Getenv("SJ_MODULE_ID"), "module id")
	apiKey := flag.String("api-key", os.Getenv("SJ_API_KEY"), "module API key")
	pollInterval := flag.Duration("poll-interval", 5*time.Second, "job poll interval")
	leaseSeconds := flag.Int("lease-seconds", 120, "lease duration for claimed jobs")
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

	if *moduleID == "" || *apiKey == "" {
		logger.Error("jobworker: module-id and api-key are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := worker.NewClient(*baseURL, *moduleID, *apiKey)
	w := worker.New(client, worker.Config{
		PollInterval: *pollInterval,
		LeaseSeconds: *leaseSeconds,
	}, logger)

	if err := w.Run(ctx); err != nil {
		logger.Error("jobworker: fatal", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
