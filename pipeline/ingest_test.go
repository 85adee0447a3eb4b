package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestIngestDiscovery(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")
	ctx := context.Background()

	receipt, err := svc.IngestDiscovery(ctx, DiscoveryInput{
		OriginModuleID: "conn-1",
		URL:            "https://Example.EDU/jobs/biostats?utm_source=feed",
		TitleHint:      "Biostatistics Researcher",
	}, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.Created {
		t.Fatal("first ingest should create")
	}
	if receipt.NormalizedURL != "https://example.edu/jobs/biostats" {
		t.Fatalf("normalized_url %q", receipt.NormalizedURL)
	}
	if receipt.CanonicalHash == "" {
		t.Fatal("missing canonical_hash")
	}

	jobs, err := svc.ListQueuedJobs(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Kind != "extract" {
		t.Fatalf("expected one extract job, got %v", jobs)
	}

	types := eventTypes(t, db, "discovery", receipt.DiscoveryID)
	if countEvents(types, "ingested") != 1 {
		t.Fatalf("events %v", types)
	}
}

func TestIngestDiscoveryIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")
	ctx := context.Background()

	in := DiscoveryInput{
		OriginModuleID: "conn-1",
		URL:            "https://example.edu/jobs/biostats?utm_source=feed",
	}
	first, err := svc.IngestDiscovery(ctx, in, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}
	// Same URL modulo tracking params dedupes to the same discovery.
	in.URL = "https://example.edu/jobs/biostats?utm_medium=rss"
	second, err := svc.IngestDiscovery(ctx, in, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Created {
		t.Fatal("re-ingest should not create")
	}
	if second.DiscoveryID != first.DiscoveryID {
		t.Fatalf("got %s, want %s", second.DiscoveryID, first.DiscoveryID)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM jobs"); n != 1 {
		t.Fatalf("re-ingest enqueued extra jobs: %d", n)
	}
}

func TestIngestDiscoveryExternalIDKey(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")
	ctx := context.Background()

	first, err := svc.IngestDiscovery(ctx, DiscoveryInput{
		OriginModuleID: "conn-1",
		ExternalID:     "ext-42",
		URL:            "https://example.edu/a",
	}, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}
	// External id wins over the URL for the dedupe key.
	second, err := svc.IngestDiscovery(ctx, DiscoveryInput{
		OriginModuleID: "conn-1",
		ExternalID:     "ext-42",
		URL:            "https://example.edu/b",
	}, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || second.DiscoveryID != first.DiscoveryID {
		t.Fatalf("got %+v, want existing %s", second, first.DiscoveryID)
	}
}

func TestIngestDiscoveryResolveRedirects(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")
	ctx := context.Background()

	receipt, err := svc.IngestDiscovery(ctx, DiscoveryInput{
		OriginModuleID: "conn-1",
		URL:            "https://example.edu/r/123",
		Metadata:       map[string]any{"resolve_redirects": true},
	}, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}

	jobs, err := svc.ListQueuedJobs(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected extract + resolve jobs, got %d", len(jobs))
	}
	findJob(t, jobs, "extract", receipt.DiscoveryID)
	resolve := findJob(t, jobs, "resolve_url_redirects", receipt.DiscoveryID)
	if resolve.InputsJSON["url"] != "https://example.edu/r/123" {
		t.Fatalf("resolve inputs %v", resolve.InputsJSON)
	}
}

func TestIngestDiscoveryValidation(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")
	ctx := context.Background()

	_, err := svc.IngestDiscovery(ctx, DiscoveryInput{
		OriginModuleID: "ghost",
		URL:            "https://example.edu/x",
	}, MachineActor("ghost"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown module: %v", err)
	}

	_, err = svc.IngestDiscovery(ctx, DiscoveryInput{OriginModuleID: "conn-1"}, MachineActor("conn-1"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("missing key: %v", err)
	}

	_, err = svc.IngestDiscovery(ctx, DiscoveryInput{}, MachineActor("conn-1"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("missing module: %v", err)
	}
}

func TestRecordEvidence(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")
	ctx := context.Background()

	receipt, err := svc.IngestDiscovery(ctx, DiscoveryInput{
		OriginModuleID: "conn-1",
		URL:            "https://example.edu/jobs/1",
	}, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}

	id, err := svc.RecordEvidence(ctx, EvidenceInput{
		DiscoveryID: receipt.DiscoveryID,
		Kind:        "html_snapshot",
		URI:         "s3://evidence/1.html",
		ContentHash: "abc123",
	}, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}
	types := eventTypes(t, db, "evidence", id)
	if countEvents(types, "recorded") != 1 {
		t.Fatalf("events %v", types)
	}

	_, err = svc.RecordEvidence(ctx, EvidenceInput{
		DiscoveryID: "no-such-discovery",
		Kind:        "html_snapshot",
		URI:         "s3://evidence/2.html",
		ContentHash: "def456",
	}, MachineActor("conn-1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown discovery: %v", err)
	}

	_, err = svc.RecordEvidence(ctx, EvidenceInput{Kind: "html_snapshot"}, MachineActor("conn-1"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("missing fields: %v", err)
	}
}

func TestEvidenceLinkedToCandidate(t *testing.T) {
	svc, db := newTestService(t)
	seedModule(t, db, "conn-1", "connector", "trusted")
	ctx := context.Background()

	receipt, err := svc.IngestDiscovery(ctx, DiscoveryInput{
		OriginModuleID: "conn-1",
		URL:            "https://example.edu/jobs/1",
	}, MachineActor("conn-1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordEvidence(ctx, EvidenceInput{
		DiscoveryID: receipt.DiscoveryID,
		Kind:        "html_snapshot",
		URI:         "s3://evidence/1.html",
		ContentHash: "abc123",
	}, MachineActor("conn-1")); err != nil {
		t.Fatal(err)
	}

	jobs, err := svc.ListQueuedJobs(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	job := findJob(t, jobs, "extract", receipt.DiscoveryID)
	if _, err := svc.ClaimJob(ctx, job.ID, "proc-1", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitJobResult(ctx, job.ID, "proc-1", "done",
		extractResult("Researcher", "Example University"), nil); err != nil {
		t.Fatal(err)
	}

	c := candidateForDiscovery(t, db, receipt.DiscoveryID)
	if n := countRows(t, db, "SELECT COUNT(*) FROM candidate_evidence WHERE candidate_id = ?", c.ID); n != 1 {
		t.Fatalf("candidate_evidence rows: %d", n)
	}
}
