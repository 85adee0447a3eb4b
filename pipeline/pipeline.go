// Package pipeline is the transactional core of the jobulator control
// plane: discovery ingestion, the leased job queue, the projection engine
// that turns extract results into candidates and postings, moderation,
// and the periodic maintenance sweeps. Every public operation runs as a
// single transaction that either commits together with its provenance
// rows or rolls back whole.
package pipeline

import (
	"database/sql"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds the tunables of the engine. Zero values are replaced by
// defaults; FromEnv applies SJ_-prefixed overrides on top.
type Config struct {
	// JobMaxAttempts bounds claim attempts before a failing job is
	// dead-lettered.
	JobMaxAttempts int `yaml:"job_max_attempts"`
	// RetryBaseSeconds is the first retry delay; doubled per attempt up
	// to RetryMaxSeconds.
	RetryBaseSeconds int `yaml:"job_retry_base_seconds"`
	RetryMaxSeconds  int `yaml:"job_retry_max_seconds"`

	// DefaultLeaseSeconds applies when a claim does not name a lease.
	DefaultLeaseSeconds int `yaml:"default_lease_seconds"`
	MaxLeaseSeconds     int `yaml:"max_lease_seconds"`

	// Freshness sweep tunables, all in hours.
	FreshnessCheckIntervalHours int `yaml:"freshness_check_interval_hours"`
	FreshnessStaleAfterHours    int `yaml:"freshness_stale_after_hours"`
	FreshnessArchiveAfterHours  int `yaml:"freshness_archive_after_hours"`

	// ResolveRedirects seeds a resolve_url_redirects job for every
	// discovery that carries a URL, unless the discovery metadata says
	// otherwise.
	ResolveRedirects bool `yaml:"resolve_redirects"`
}

func (c Config) withDefaults() Config {
	if c.JobMaxAttempts <= 0 {
		c.JobMaxAttempts = 3
	}
	if c.RetryBaseSeconds <= 0 {
		c.RetryBaseSeconds = 30
	}
	if c.RetryMaxSeconds <= 0 {
		c.RetryMaxSeconds = 3600
	}
	if c.DefaultLeaseSeconds <= 0 {
		c.DefaultLeaseSeconds = 120
	}
	if c.MaxLeaseSeconds <= 0 {
		c.MaxLeaseSeconds = 3600
	}
	if c.FreshnessCheckIntervalHours <= 0 {
		c.FreshnessCheckIntervalHours = 6
	}
	if c.FreshnessStaleAfterHours <= 0 {
		c.FreshnessStaleAfterHours = 24
	}
	if c.FreshnessArchiveAfterHours <= 0 {
		c.FreshnessArchiveAfterHours = 72
	}
	return c
}

// FromEnv overlays SJ_-prefixed environment variables onto c.
func (c Config) FromEnv() Config {
	envInt("SJ_JOB_MAX_ATTEMPTS", &c.JobMaxAttempts)
	envInt("SJ_JOB_RETRY_BASE_SECONDS", &c.RetryBaseSeconds)
	envInt("SJ_JOB_RETRY_MAX_SECONDS", &c.RetryMaxSeconds)
	envInt("SJ_DEFAULT_LEASE_SECONDS", &c.DefaultLeaseSeconds)
	envInt("SJ_MAX_LEASE_SECONDS", &c.MaxLeaseSeconds)
	envInt("SJ_FRESHNESS_CHECK_INTERVAL_HOURS", &c.FreshnessCheckIntervalHours)
	envInt("SJ_FRESHNESS_STALE_AFTER_HOURS", &c.FreshnessStaleAfterHours)
	envInt("SJ_FRESHNESS_ARCHIVE_AFTER_HOURS", &c.FreshnessArchiveAfterHours)
	envBool("SJ_RESOLVE_REDIRECTS", &c.ResolveRedirects)
	return c
}

func envInt(key string, dst *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	if v, err := strconv.Atoi(raw); err == nil {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		*dst = v
	}
}

// Service is the engine. It owns no state beyond the pool; all business
// state lives in the database.
type Service struct {
	db  *sql.DB
	cfg Config
	log *slog.Logger
	now func() int64
}

// New constructs a Service over an opened database.
func New(db *sql.DB, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:  db,
		cfg: cfg.withDefaults(),
		log: log,
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

// Config returns the effective (defaulted) configuration.
func (s *Service) Config() Config {
	return s.cfg
}
