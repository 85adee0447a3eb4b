package dedupe

import (
	"sort"
	"strings"
)

// EvaluateMergePolicy scores incoming against every existing snapshot,
// ranks by confidence (candidate id breaks ties for determinism), and
// maps the best score to a merge decision:
//
//	auto_merged  — confidence ≥ auto-merge threshold, a strong signal
//	               fired, the best candidate owns a posting, and no
//	               conflict flag is raised
//	needs_review — confidence in the review band, or any conflict flag
//	rejected     — a strong signal fired but confidence stayed low
//	none         — nothing close enough to matter
func EvaluateMergePolicy(incoming Snapshot, existing []Snapshot, policy Policy) PolicyDecision {
	if len(existing) == 0 {
		return PolicyDecision{
			Decision: DecisionNone,
			Metadata: map[string]any{"reason": "no_merge_candidates"},
		}
	}

	ranked := make([]Score, 0, len(existing))
	for _, row := range existing {
		ranked = append(ranked, ScorePair(incoming, row))
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].CandidateID < ranked[j].CandidateID
	})

	best := ranked[0]
	flags := append([]string(nil), best.RiskFlags...)

	if len(ranked) > 1 {
		second := ranked[1]
		delta := best.Confidence - second.Confidence
		if second.Confidence >= policy.ReviewThreshold && delta <= policy.AmbiguityDelta {
			flags = append(flags, "conflict_multiple_close_matches")
		}
	}
	flags = dedupeList(flags)

	hasConflict := false
	for _, f := range flags {
		if strings.HasPrefix(f, "conflict_") {
			hasConflict = true
			break
		}
	}
	hasStrong := len(best.StrongSignals) > 0

	var decision Decision
	switch {
	case best.Confidence >= policy.AutoMergeThreshold && hasStrong && best.HasPosting && !hasConflict:
		decision = DecisionAutoMerged
	case best.Confidence >= policy.ReviewThreshold || hasConflict:
		decision = DecisionNeedsReview
	case hasStrong:
		decision = DecisionRejected
	default:
		decision = DecisionNone
	}

	primary := ""
	if decision != DecisionNone {
		primary = best.CandidateID
	}

	topRanked := ranked
	if len(topRanked) > 3 {
		topRanked = topRanked[:3]
	}
	rankedMeta := make([]map[string]any, 0, len(topRanked))
	for _, row := range topRanked {
		rankedMeta = append(rankedMeta, map[string]any{
			"candidate_id":   row.CandidateID,
			"confidence":     round4(row.Confidence),
			"strong_signals": row.StrongSignals,
			"risk_flags":     row.RiskFlags,
		})
	}

	return PolicyDecision{
		Decision:           decision,
		PrimaryCandidateID: primary,
		Confidence:         round4(best.Confidence),
		RiskFlags:          flags,
		Metadata: map[string]any{
			"auto_merge_threshold":    policy.AutoMergeThreshold,
			"review_threshold":        policy.ReviewThreshold,
			"ambiguity_delta":         policy.AmbiguityDelta,
			"selected_candidate_id":   best.CandidateID,
			"selected_components":     best.Components,
			"selected_strong_signals": best.StrongSignals,
			"selected_risk_flags":     best.RiskFlags,
			"ranked_candidates":       rankedMeta,
		},
	}
}
