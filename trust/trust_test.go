package trust

import (
	"testing"

	"github.com/sloppyjobs/jobulator/lifecycle"
)

func TestLookupKeys(t *testing.T) {
	keys := LookupKeys("feed:example.edu", "connector-1", SemiTrusted)
	want := []string{"feed:example.edu", "module:connector-1", "default:semi_trusted"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}

	keys = LookupKeys("  ", "", Trusted)
	if len(keys) != 1 || keys[0] != "default:trusted" {
		t.Fatalf("got %v", keys)
	}
}

func TestSynthesize(t *testing.T) {
	p := Synthesize(Trusted)
	if !p.AutoPublish || p.RequiresModeration || !p.Synthesized {
		t.Fatalf("trusted fallback: %+v", p)
	}
	p = Synthesize(Untrusted)
	if p.AutoPublish || !p.RequiresModeration {
		t.Fatalf("untrusted fallback: %+v", p)
	}
	// Unknown levels degrade to untrusted.
	p = Synthesize("weird")
	if p.TrustLevel != Untrusted || !p.RequiresModeration {
		t.Fatalf("unknown level fallback: %+v", p)
	}
}

func TestValidateRules(t *testing.T) {
	min, err := ValidateRules(nil)
	if err != nil || min != nil {
		t.Fatalf("nil rules: %v, %v", min, err)
	}

	min, err = ValidateRules(map[string]any{"min_confidence": 0.8})
	if err != nil {
		t.Fatal(err)
	}
	if min == nil || *min != 0.8 {
		t.Fatalf("got %v", min)
	}

	if _, err := ValidateRules(map[string]any{"min_confidence": 1.5}); err == nil {
		t.Fatal("out-of-range min_confidence accepted")
	}
	if _, err := ValidateRules(map[string]any{"min_confidence": "high"}); err == nil {
		t.Fatal("non-numeric min_confidence accepted")
	}
	if _, err := ValidateRules(map[string]any{"max_age_days": 30}); err == nil {
		t.Fatal("unknown rules key accepted")
	}
}

func TestDecideTrusted(t *testing.T) {
	policy := Policy{SourceKey: "default:trusted", TrustLevel: Trusted, AutoPublish: true}

	d := Decide(true, policy, 1.0, nil)
	if !d.Publish || d.Reason != "trusted_auto_publish" {
		t.Fatalf("got %+v", d)
	}
	if d.CandidateState != lifecycle.CandidatePublished || d.PostingStatus != lifecycle.PostingActive {
		t.Fatalf("got %+v", d)
	}

	// Trusted publishes through conflict flags; only confidence gates it.
	d = Decide(true, policy, 0.95, []string{"conflict_hash_mismatch"})
	if !d.Publish {
		t.Fatalf("got %+v", d)
	}

	d = Decide(true, policy, 0.5, nil)
	if d.Publish || d.Reason != "below_min_confidence" {
		t.Fatalf("got %+v", d)
	}
	if d.CandidateState != lifecycle.CandidateNeedsReview {
		t.Fatalf("got %+v", d)
	}

	d = Decide(true, Policy{TrustLevel: Trusted, AutoPublish: true, RequiresModeration: true}, 1.0, nil)
	if d.Publish || d.Reason != "trusted_requires_moderation" {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideSemiTrusted(t *testing.T) {
	policy := Policy{SourceKey: "default:semi_trusted", TrustLevel: SemiTrusted, AutoPublish: true}

	d := Decide(true, policy, 0.9, nil)
	if !d.Publish || d.Reason != "semi_trusted_auto_publish" {
		t.Fatalf("got %+v", d)
	}

	d = Decide(true, policy, 0.9, []string{"conflict_organization_mismatch"})
	if d.Publish || d.Reason != "semi_trusted_conflict_flag" {
		t.Fatalf("got %+v", d)
	}

	d = Decide(true, policy, 0.5, []string{"conflict_organization_mismatch"})
	if d.Publish || d.Reason != "below_min_confidence" {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideUntrusted(t *testing.T) {
	policy := Synthesize(Untrusted)
	d := Decide(true, policy, 1.0, nil)
	if d.Publish || d.Reason != "untrusted_requires_moderation" {
		t.Fatalf("got %+v", d)
	}
	if d.CandidateState != lifecycle.CandidateNeedsReview || d.PostingStatus != lifecycle.PostingArchived {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideMinConfidenceOverride(t *testing.T) {
	min := 0.95
	policy := Policy{TrustLevel: Trusted, AutoPublish: true, MinConfidence: &min}

	d := Decide(true, policy, 0.93, nil)
	if d.Publish || d.Reason != "below_min_confidence" {
		t.Fatalf("got %+v", d)
	}
	d = Decide(true, policy, 0.96, nil)
	if !d.Publish {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideNoProjection(t *testing.T) {
	d := Decide(false, Synthesize(Trusted), 1.0, nil)
	if d.Publish || d.Reason != "no_posting_projection" {
		t.Fatalf("got %+v", d)
	}
}
