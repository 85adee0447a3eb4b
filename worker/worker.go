package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config tunes the worker loops.
type Config struct {
	PollInterval      time.Duration
	ReapInterval      time.Duration
	FreshnessInterval time.Duration
	LeaseSeconds      int
	BatchSize         int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
	if c.FreshnessInterval <= 0 {
		c.FreshnessInterval = 15 * time.Minute
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 120
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return c
}

// Worker polls, claims, and executes jobs, and drives the maintenance
// endpoints on their own tickers.
type Worker struct {
	client *Client
	cfg    Config
	log    *slog.Logger
	http   *http.Client
}

// New builds a Worker.
func New(client *Client, cfg Config, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		client: client,
		cfg:    cfg.withDefaults(),
		log:    log,
		http:   &http.Client{Timeout: 20 * time.Second},
	}
}

// handledKinds are the job kinds this worker executes. Extraction runs
// in dedicated processor modules; this worker leaves those jobs queued.
var handledKinds = map[string]bool{
	"check_freshness":       true,
	"resolve_url_redirects": true,
}

// Run blocks until ctx is cancelled, running the poll, reap, and
// freshness loops concurrently.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.pollLoop(ctx) })
	g.Go(func() error { return w.reapLoop(ctx) })
	g.Go(func() error { return w.freshnessLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("poll failed", "error", err)
			sleepWithJitter(ctx, w.cfg.PollInterval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) error {
	jobs, err := w.client.ListJobs(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if !handledKinds[job.Kind] {
			continue
		}
		claimed, err := w.client.Claim(ctx, job.ID, w.cfg.LeaseSeconds)
		if err != nil {
			var apiErr *APIError
			// Lost the claim race; another worker has it.
			if errors.As(err, &apiErr) && (apiErr.Status == http.StatusConflict || apiErr.Status == http.StatusNotFound) {
				continue
			}
			return err
		}
		w.execute(ctx, claimed)
	}
	return nil
}

// execute runs the handler for one claimed job and submits its outcome.
func (w *Worker) execute(ctx context.Context, job *Job) {
	var result map[string]any
	var err error

	switch job.Kind {
	case "check_freshness":
		result = RecommendFreshness(job.InputsJSON, time.Now())
	case "resolve_url_redirects":
		rawURL, _ := job.InputsJSON["url"].(string)
		result, err = ResolveRedirects(ctx, w.http, rawURL, rulesFromInputs(job.InputsJSON))
	}

	if err != nil {
		w.log.Warn("job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		if submitErr := w.client.SubmitResult(ctx, job.ID, "failed", nil,
			map[string]any{"error": err.Error()}); submitErr != nil {
			w.log.Error("submit failure result", "job_id", job.ID, "error", submitErr)
		}
		return
	}

	if submitErr := w.client.SubmitResult(ctx, job.ID, "done", result, nil); submitErr != nil {
		w.log.Error("submit result", "job_id", job.ID, "error", submitErr)
		return
	}
	w.log.Info("job done", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
}

func (w *Worker) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n, err := w.client.ReapExpired(ctx, 100)
		if err != nil {
			w.log.Warn("reap failed", "error", err)
			continue
		}
		if n > 0 {
			w.log.Info("requeued expired leases", "count", n)
		}
	}
}

func (w *Worker) freshnessLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FreshnessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		n, err := w.client.EnqueueFreshness(ctx, 100)
		if err != nil {
			w.log.Warn("freshness enqueue failed", "error", err)
			continue
		}
		if n > 0 {
			w.log.Info("enqueued freshness checks", "count", n)
		}
	}
}

func sleepWithJitter(ctx context.Context, base time.Duration) {
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	select {
	case <-ctx.Done():
	case <-time.After(base + jitter):
	}
}
