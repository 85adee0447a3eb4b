// Package trust resolves the effective source-trust policy for a discovery
// and decides whether an extraction result may auto-publish or must go to
// moderation. Policy rows live in the store; this package is the pure
// decision logic over an already-fetched policy.
package trust

import (
	"fmt"
	"strings"

	"github.com/sloppyjobs/jobulator/lifecycle"
)

// Level is the trust level of a source or module.
type Level string

const (
	Trusted     Level = "trusted"
	SemiTrusted Level = "semi_trusted"
	Untrusted   Level = "untrusted"
)

// ValidLevel reports whether l is a known trust level.
func ValidLevel(l Level) bool {
	return l == Trusted || l == SemiTrusted || l == Untrusted
}

// Policy is the effective source-trust policy.
type Policy struct {
	SourceKey          string
	TrustLevel         Level
	AutoPublish        bool
	RequiresModeration bool
	// MinConfidence overrides the level default when set via rules_json.
	MinConfidence *float64
	Synthesized   bool
}

// LookupKeys returns the policy lookup order for a discovery: the
// extraction's source_key hint, then the origin module, then the level
// default. Empty hints are skipped.
func LookupKeys(sourceKeyHint, originModuleID string, level Level) []string {
	keys := make([]string, 0, 3)
	if hint := strings.TrimSpace(sourceKeyHint); hint != "" {
		keys = append(keys, hint)
	}
	if originModuleID != "" {
		keys = append(keys, "module:"+originModuleID)
	}
	keys = append(keys, "default:"+string(level))
	return keys
}

// Synthesize builds the fallback policy for a trust level when no stored
// policy matches.
func Synthesize(level Level) Policy {
	switch level {
	case Trusted, SemiTrusted:
		return Policy{
			SourceKey:   "default:" + string(level),
			TrustLevel:  level,
			AutoPublish: true,
			Synthesized: true,
		}
	default:
		return Policy{
			SourceKey:          "default:" + string(Untrusted),
			TrustLevel:         Untrusted,
			RequiresModeration: true,
			Synthesized:        true,
		}
	}
}

// ValidateRules validates a rules_json object strictly: only
// min_confidence in [0,1] is accepted, any other key is an error.
func ValidateRules(rules map[string]any) (*float64, error) {
	if rules == nil {
		return nil, nil
	}
	var minConfidence *float64
	for key, value := range rules {
		if key != "min_confidence" {
			return nil, fmt.Errorf("trust: unsupported rules key %q", key)
		}
		f, ok := asFloat(value)
		if !ok || f < 0 || f > 1 {
			return nil, fmt.Errorf("trust: min_confidence must be a number in [0,1]")
		}
		minConfidence = &f
	}
	return minConfidence, nil
}

// Decision is the publish routing for one extraction result.
type Decision struct {
	Publish         bool
	CandidateState  lifecycle.CandidateState
	PostingStatus   lifecycle.PostingStatus
	Reason          string
	MinConfidence   *float64
	MeetsConfidence bool
	HasConflictFlag bool
}

// Decide routes an extraction result given the effective policy, the
// dedupe confidence, and the accumulated risk flags. When publishing is
// refused, the candidate goes to review and the posting (if projected)
// stays archived.
func Decide(canProjectPosting bool, policy Policy, dedupeConfidence float64, riskFlags []string) Decision {
	minConfidence := policy.MinConfidence
	if minConfidence == nil && (policy.TrustLevel == Trusted || policy.TrustLevel == SemiTrusted) {
		def := 0.72
		minConfidence = &def
	}
	meets := minConfidence == nil || dedupeConfidence >= *minConfidence

	hasConflict := false
	for _, flag := range riskFlags {
		if strings.Contains(flag, "conflict") {
			hasConflict = true
			break
		}
	}

	d := Decision{
		MinConfidence:   minConfidence,
		MeetsConfidence: meets,
		HasConflictFlag: hasConflict,
		CandidateState:  lifecycle.CandidateNeedsReview,
		PostingStatus:   lifecycle.PostingArchived,
	}

	if !canProjectPosting {
		d.Reason = "no_posting_projection"
		return d
	}

	switch policy.TrustLevel {
	case Trusted:
		switch {
		case !policy.AutoPublish || policy.RequiresModeration:
			d.Reason = "trusted_requires_moderation"
		case !meets:
			d.Reason = "below_min_confidence"
		default:
			d.Publish = true
			d.Reason = "trusted_auto_publish"
		}
	case SemiTrusted:
		switch {
		case !policy.AutoPublish || policy.RequiresModeration:
			d.Reason = "semi_trusted_requires_moderation"
		case !meets:
			d.Reason = "below_min_confidence"
		case hasConflict:
			d.Reason = "semi_trusted_conflict_flag"
		default:
			d.Publish = true
			d.Reason = "semi_trusted_auto_publish"
		}
	default:
		d.Reason = "untrusted_requires_moderation"
	}

	if d.Publish {
		d.CandidateState = lifecycle.CandidatePublished
		d.PostingStatus = lifecycle.PostingActive
	}
	return d
}

func asFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	}
	return 0, false
}
