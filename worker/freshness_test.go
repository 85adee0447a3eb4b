package worker

import (
	"testing"
	"time"
)

func freshnessInputs(status string, updatedAt time.Time) map[string]any {
	// Numbers arrive as float64 after the JSON round trip.
	return map[string]any{
		"posting_id":          "p-1",
		"posting_status":      status,
		"posting_updated_at":  float64(updatedAt.UnixMilli()),
		"stale_after_hours":   float64(24),
		"archive_after_hours": float64(72),
	}
}

func TestRecommendFreshness(t *testing.T) {
	now := time.Now()

	cases := map[string]struct {
		status string
		age    time.Duration
		want   string
		reason string
	}{
		"active fresh":       {"active", 2 * time.Hour, "", "freshness_within_window"},
		"active past stale":  {"active", 30 * time.Hour, "stale", "stale_threshold_exceeded"},
		"stale past archive": {"stale", 80 * time.Hour, "archived", "archive_threshold_exceeded"},
		// One step per check: an old active posting goes stale first,
		// archiving waits for the next check.
		"active past archive": {"active", 80 * time.Hour, "stale", "stale_threshold_exceeded"},
		"stale within window": {"stale", 30 * time.Hour, "", "freshness_within_window"},
	}
	for name, tc := range cases {
		rec := RecommendFreshness(freshnessInputs(tc.status, now.Add(-tc.age)), now)
		got, _ := rec["recommended_status"].(string)
		if got != tc.want {
			t.Fatalf("%s: recommended %q, want %q (%v)", name, got, tc.want, rec)
		}
		if rec["reason"] != tc.reason {
			t.Fatalf("%s: reason %v, want %s", name, rec["reason"], tc.reason)
		}
	}
}

func TestRecommendFreshnessDefaultsAndClamp(t *testing.T) {
	now := time.Now()

	// Missing thresholds fall back to 24/72.
	inputs := map[string]any{
		"posting_status":     "active",
		"posting_updated_at": float64(now.Add(-30 * time.Hour).UnixMilli()),
	}
	rec := RecommendFreshness(inputs, now)
	if rec["recommended_status"] != "stale" {
		t.Fatalf("default thresholds: %v", rec)
	}

	// An archive threshold below the stale threshold is raised to it.
	inputs = map[string]any{
		"posting_status":      "stale",
		"posting_updated_at":  float64(now.Add(-20 * time.Hour).UnixMilli()),
		"stale_after_hours":   float64(24),
		"archive_after_hours": float64(10),
	}
	rec = RecommendFreshness(inputs, now)
	if _, ok := rec["recommended_status"]; ok {
		t.Fatalf("archive clamp ignored: %v", rec)
	}
	inputs["posting_updated_at"] = float64(now.Add(-25 * time.Hour).UnixMilli())
	rec = RecommendFreshness(inputs, now)
	if rec["recommended_status"] != "archived" {
		t.Fatalf("past clamped archive threshold: %v", rec)
	}

	// Statuses outside the downgrade chain get no recommendation.
	rec = RecommendFreshness(freshnessInputs("archived", now.Add(-200*time.Hour)), now)
	if _, ok := rec["recommended_status"]; ok {
		t.Fatalf("archived posting recommended: %v", rec)
	}
}

func TestRecommendFreshnessInvalidInputs(t *testing.T) {
	rec := RecommendFreshness(map[string]any{"posting_status": "active"}, time.Now())
	if _, ok := rec["recommended_status"]; ok {
		t.Fatalf("recommendation from invalid inputs: %v", rec)
	}
	if rec["reason"] != "missing_or_invalid_posting_updated_at" {
		t.Fatalf("reason %v", rec["reason"])
	}
}
