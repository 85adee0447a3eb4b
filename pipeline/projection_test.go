package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sloppyjobs/jobulator/internal/store"
)

func TestProjectTrustedAutoPublish(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")

	discoveryID := ingestAndExtract(t, svc, "conn-1", "https://example.edu/jobs/biostats",
		extractResult("Biostatistics Researcher", "Example University"))

	c := candidateForDiscovery(t, db, discoveryID)
	if c.State != "published" {
		t.Fatalf("candidate state %s", c.State)
	}
	if c.DedupeConfidence != 1.0 {
		t.Fatalf("dedupe confidence %v", c.DedupeConfidence)
	}

	p := postingForCandidateID(t, db, c.ID)
	if p == nil {
		t.Fatal("no posting projected")
	}
	if p.Status != "active" {
		t.Fatalf("posting status %s", p.Status)
	}
	if p.PublishedAt == 0 {
		t.Fatal("published_at not set")
	}
	if p.Title != "Biostatistics Researcher" || p.OrganizationName != "Example University" {
		t.Fatalf("posting fields %+v", p)
	}
	if p.NormalizedURL != "https://example.edu/jobs/biostats" {
		t.Fatalf("normalized_url %s", p.NormalizedURL)
	}

	types := eventTypes(t, db, "candidate", c.ID)
	for _, want := range []string{"materialized", "trust_policy_applied"} {
		if countEvents(types, want) != 1 {
			t.Fatalf("missing %s in %v", want, types)
		}
	}
	if countEvents(eventTypes(t, db, "posting", p.ID), "projected") != 1 {
		t.Fatal("missing projected event")
	}
	payload := eventPayload(t, db, "candidate", c.ID, "trust_policy_applied")
	if !strings.Contains(payload, "trusted_auto_publish") {
		t.Fatalf("payload %s", payload)
	}
}

func TestProjectUntrustedNeedsReview(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "untrusted")

	discoveryID := ingestAndExtract(t, svc, "conn-1", "https://example.org/jobs/1",
		extractResult("Field Coordinator", "Example NGO"))

	c := candidateForDiscovery(t, db, discoveryID)
	if c.State != "needs_review" {
		t.Fatalf("candidate state %s", c.State)
	}
	p := postingForCandidateID(t, db, c.ID)
	if p == nil {
		t.Fatal("posting should still be projected, just not public")
	}
	if p.Status != "archived" || p.PublishedAt != 0 {
		t.Fatalf("posting %s / %d", p.Status, p.PublishedAt)
	}
	payload := eventPayload(t, db, "candidate", c.ID, "trust_policy_applied")
	if !strings.Contains(payload, "untrusted_requires_moderation") {
		t.Fatalf("payload %s", payload)
	}
}

func TestProjectBelowMinConfidence(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")

	result := extractResult("Biostatistics Researcher", "Example University")
	result["dedupe_confidence"] = 0.4
	discoveryID := ingestAndExtract(t, svc, "conn-1", "https://example.edu/jobs/biostats", result)

	c := candidateForDiscovery(t, db, discoveryID)
	if c.State != "needs_review" {
		t.Fatalf("candidate state %s", c.State)
	}
	payload := eventPayload(t, db, "candidate", c.ID, "trust_policy_applied")
	if !strings.Contains(payload, "below_min_confidence") {
		t.Fatalf("payload %s", payload)
	}
}

func TestProjectNoSignal(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")

	discoveryID := ingestAndExtract(t, svc, "conn-1", "https://example.edu/jobs/empty",
		map[string]any{"note": "page had no structured content"})

	c := candidateForDiscovery(t, db, discoveryID)
	if c.State != "processed" {
		t.Fatalf("candidate state %s", c.State)
	}
	if p := postingForCandidateID(t, db, c.ID); p != nil {
		t.Fatalf("unexpected posting %+v", p)
	}
}

func TestProjectAutoMergeDuplicate(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")
	seedModule(t, db, "conn-2", "connector", "trusted")

	result := extractResult("Biostatistics Researcher", "Example University")
	firstDiscovery := ingestAndExtract(t, svc, "conn-1", "https://example.edu/jobs/biostats", result)
	primary := candidateForDiscovery(t, db, firstDiscovery)

	// The same URL reported by a second connector lands on the same
	// canonical hash and merges into the existing candidate.
	ingestAndExtract(t, svc, "conn-2", "https://example.edu/jobs/biostats", result)

	row := db.QueryRow(fmt.Sprintf(
		"SELECT %s FROM posting_candidates WHERE id != ?", store.CandidateColumns), primary.ID)
	secondary, err := store.ScanCandidate(row)
	if err != nil {
		t.Fatal(err)
	}
	if secondary.State != "archived" {
		t.Fatalf("secondary state %s", secondary.State)
	}

	var decision, decidedBy string
	var confidence float64
	err = db.QueryRow(`
		SELECT decision, decided_by, confidence FROM candidate_merge_decisions
		WHERE primary_candidate_id = ? AND secondary_candidate_id = ?`,
		primary.ID, secondary.ID).Scan(&decision, &decidedBy, &confidence)
	if err != nil {
		t.Fatal(err)
	}
	if decision != "auto_merged" || decidedBy != "machine_dedupe_v1" {
		t.Fatalf("decision %s by %s", decision, decidedBy)
	}
	if confidence < 0.93 {
		t.Fatalf("confidence %v", confidence)
	}

	if n := countRows(t, db, "SELECT COUNT(*) FROM postings"); n != 1 {
		t.Fatalf("postings %d", n)
	}
	// The primary now carries both discovery links.
	if n := countRows(t, db,
		"SELECT COUNT(*) FROM candidate_discoveries WHERE candidate_id = ?", primary.ID); n != 2 {
		t.Fatalf("primary discovery links %d", n)
	}
	if countEvents(eventTypes(t, db, "candidate", secondary.ID), "merged_away") != 1 {
		t.Fatal("missing merged_away event")
	}
}

func TestProjectCallerStateCannotRaise(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "untrusted")

	result := extractResult("Field Coordinator", "Example NGO")
	result["candidate_state"] = "published"
	discoveryID := ingestAndExtract(t, svc, "conn-1", "https://example.org/jobs/2", result)

	c := candidateForDiscovery(t, db, discoveryID)
	if c.State != "needs_review" {
		t.Fatalf("caller raised state to %s", c.State)
	}
}
