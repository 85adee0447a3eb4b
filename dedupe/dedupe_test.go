package dedupe

import (
	"testing"
)

func snapshotPair() (Snapshot, Snapshot) {
	incoming := Snapshot{
		CandidateID:      "cand-new",
		CanonicalHash:    "hash-1",
		NormalizedURL:    "https://example.edu/jobs/biostats",
		CanonicalURL:     "https://example.edu/jobs/biostats",
		Title:            "Biostatistics Researcher",
		OrganizationName: "Example University",
	}
	existing := incoming
	existing.CandidateID = "cand-old"
	existing.HasPosting = true
	return incoming, existing
}

func TestScorePairExactMatch(t *testing.T) {
	incoming, existing := snapshotPair()
	score := ScorePair(incoming, existing)

	if score.Confidence < 0.93 {
		t.Fatalf("expected auto-merge confidence, got %v", score.Confidence)
	}
	if score.Confidence > 0.9999 {
		t.Fatalf("confidence above cap: %v", score.Confidence)
	}
	if len(score.StrongSignals) == 0 {
		t.Fatal("expected strong signals")
	}
	if len(score.RiskFlags) != 0 {
		t.Fatalf("unexpected risk flags: %v", score.RiskFlags)
	}
}

func TestScorePairNoStrongSignalCapped(t *testing.T) {
	incoming := Snapshot{
		CandidateID:      "cand-new",
		Title:            "Biostatistics Researcher Position",
		OrganizationName: "Example University",
		Tags:             []string{"biostatistics", "research"},
	}
	existing := incoming
	existing.CandidateID = "cand-old"

	score := ScorePair(incoming, existing)
	if len(score.StrongSignals) != 0 {
		t.Fatalf("unexpected strong signals: %v", score.StrongSignals)
	}
	if score.Confidence > 0.89 {
		t.Fatalf("no-strong-signal score must cap at 0.89, got %v", score.Confidence)
	}
	if !contains(score.RiskFlags, "manual_review_low_signal") {
		t.Fatalf("expected manual_review_low_signal, got %v", score.RiskFlags)
	}
}

func TestScorePairHashMismatchConflict(t *testing.T) {
	incoming, existing := snapshotPair()
	existing.CanonicalHash = "hash-other"

	score := ScorePair(incoming, existing)
	if !contains(score.RiskFlags, "conflict_hash_mismatch") {
		t.Fatalf("expected conflict_hash_mismatch, got %v", score.RiskFlags)
	}
}

func TestScorePairOrganizationMismatchConflict(t *testing.T) {
	incoming, existing := snapshotPair()
	existing.OrganizationName = "Entirely Different Institute"

	score := ScorePair(incoming, existing)
	if !contains(score.RiskFlags, "conflict_organization_mismatch") {
		t.Fatalf("expected conflict_organization_mismatch, got %v", score.RiskFlags)
	}
}

func TestEvaluateMergePolicyEmpty(t *testing.T) {
	decision := EvaluateMergePolicy(Snapshot{CandidateID: "x"}, nil, DefaultPolicy())
	if decision.Decision != DecisionNone {
		t.Fatalf("expected none, got %s", decision.Decision)
	}
}

func TestEvaluateMergePolicyAutoMerge(t *testing.T) {
	incoming, existing := snapshotPair()
	decision := EvaluateMergePolicy(incoming, []Snapshot{existing}, DefaultPolicy())

	if decision.Decision != DecisionAutoMerged {
		t.Fatalf("expected auto_merged, got %s (%v)", decision.Decision, decision.RiskFlags)
	}
	if decision.PrimaryCandidateID != "cand-old" {
		t.Fatalf("expected primary cand-old, got %s", decision.PrimaryCandidateID)
	}
	if decision.Confidence < 0.93 {
		t.Fatalf("confidence %v below auto-merge threshold", decision.Confidence)
	}
}

func TestEvaluateMergePolicyNoPostingGoesToReview(t *testing.T) {
	incoming, existing := snapshotPair()
	existing.HasPosting = false

	decision := EvaluateMergePolicy(incoming, []Snapshot{existing}, DefaultPolicy())
	if decision.Decision != DecisionNeedsReview {
		t.Fatalf("expected needs_review, got %s", decision.Decision)
	}
}

func TestEvaluateMergePolicyAmbiguity(t *testing.T) {
	incoming, first := snapshotPair()
	second := first
	second.CandidateID = "cand-old-2"

	decision := EvaluateMergePolicy(incoming, []Snapshot{first, second}, DefaultPolicy())
	if !contains(decision.RiskFlags, "conflict_multiple_close_matches") {
		t.Fatalf("expected ambiguity flag, got %v", decision.RiskFlags)
	}
	// A conflict flag blocks auto-merge even at full confidence.
	if decision.Decision != DecisionNeedsReview {
		t.Fatalf("expected needs_review, got %s", decision.Decision)
	}
}

func TestExtractNamedEntitiesShapes(t *testing.T) {
	mapShape := map[string]any{"ner": map[string]any{
		"org":      []any{"Example University"},
		"location": "Geneva",
	}}
	entities := ExtractNamedEntities(mapShape)
	if len(entities.Organizations) != 1 || entities.Organizations[0] != "Example University" {
		t.Fatalf("map shape orgs: %v", entities.Organizations)
	}
	if len(entities.Locations) != 1 || entities.Locations[0] != "Geneva" {
		t.Fatalf("map shape locations: %v", entities.Locations)
	}

	listShape := map[string]any{"entities": []any{
		map[string]any{"type": "ORG", "text": "Example University"},
		map[string]any{"label": "GPE", "value": "Geneva"},
		map[string]any{"type": "PERSON", "text": "Ada Lovelace"},
	}}
	entities = ExtractNamedEntities(listShape)
	if len(entities.Organizations) != 1 || len(entities.Locations) != 1 || len(entities.People) != 1 {
		t.Fatalf("list shape: %+v", entities)
	}
}

func TestExtractContactDomains(t *testing.T) {
	payload := map[string]any{
		"contact_email": "jobs@Example.EDU",
		"contact":       []any{"reach us at hr@example.org or hr@example.org"},
	}
	domains := ExtractContactDomains(payload)
	if len(domains) != 2 {
		t.Fatalf("expected 2 domains, got %v", domains)
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
