package pipeline

import "testing"

func TestConfigDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	cfg := svc.Config()

	if cfg.JobMaxAttempts != 3 {
		t.Fatalf("JobMaxAttempts %d", cfg.JobMaxAttempts)
	}
	if cfg.RetryBaseSeconds != 30 || cfg.RetryMaxSeconds != 3600 {
		t.Fatalf("retry %d/%d", cfg.RetryBaseSeconds, cfg.RetryMaxSeconds)
	}
	if cfg.DefaultLeaseSeconds != 120 || cfg.MaxLeaseSeconds != 3600 {
		t.Fatalf("lease %d/%d", cfg.DefaultLeaseSeconds, cfg.MaxLeaseSeconds)
	}
	if cfg.FreshnessCheckIntervalHours != 6 || cfg.FreshnessStaleAfterHours != 24 || cfg.FreshnessArchiveAfterHours != 72 {
		t.Fatalf("freshness %d/%d/%d", cfg.FreshnessCheckIntervalHours,
			cfg.FreshnessStaleAfterHours, cfg.FreshnessArchiveAfterHours)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SJ_JOB_MAX_ATTEMPTS", "5")
	t.Setenv("SJ_JOB_RETRY_BASE_SECONDS", "10")
	t.Setenv("SJ_RESOLVE_REDIRECTS", "true")
	t.Setenv("SJ_MAX_LEASE_SECONDS", "not-a-number")

	cfg := Config{MaxLeaseSeconds: 600}.FromEnv()
	if cfg.JobMaxAttempts != 5 || cfg.RetryBaseSeconds != 10 {
		t.Fatalf("got %+v", cfg)
	}
	if !cfg.ResolveRedirects {
		t.Fatal("ResolveRedirects not set")
	}
	// Unparseable values leave the existing setting alone.
	if cfg.MaxLeaseSeconds != 600 {
		t.Fatalf("MaxLeaseSeconds %d", cfg.MaxLeaseSeconds)
	}
}
