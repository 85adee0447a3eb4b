package worker

import "time"

// RecommendFreshness computes the freshness recommendation for a posting
// from the job inputs seeded by the control plane. Pure, and staged: each
// check downgrades at most one step, so an active posting goes stale
// before a later check can archive it. Within the window no
// recommendation is made.
func RecommendFreshness(inputs map[string]any, now time.Time) map[string]any {
	status, _ := inputs["posting_status"].(string)
	if status == "" {
		status = "active"
	}
	staleAfter := hoursOr(inputs["stale_after_hours"], 24)
	archiveAfter := hoursOr(inputs["archive_after_hours"], 72)
	if archiveAfter < staleAfter {
		archiveAfter = staleAfter
	}

	updatedAt := asInt64(inputs["posting_updated_at"])
	if updatedAt <= 0 {
		return map[string]any{
			"reason": "missing_or_invalid_posting_updated_at",
		}
	}

	ageHours := float64(now.UnixMilli()-updatedAt) / (3600 * 1000)
	if ageHours < 0 {
		ageHours = 0
	}

	out := map[string]any{
		"reason":         "freshness_within_window",
		"age_hours":      ageHours,
		"posting_status": status,
	}
	switch {
	case status == "active" && ageHours >= float64(staleAfter):
		out["recommended_status"] = "stale"
		out["reason"] = "stale_threshold_exceeded"
	case status == "stale" && ageHours >= float64(archiveAfter):
		out["recommended_status"] = "archived"
		out["reason"] = "archive_threshold_exceeded"
	}
	return out
}

func hoursOr(value any, fallback int64) int64 {
	if v := asInt64(value); v > 0 {
		return v
	}
	return fallback
}

func asInt64(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case float64:
		return int64(typed)
	}
	return 0
}
