package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sloppyjobs/jobulator/dbopen"
	"github.com/sloppyjobs/jobulator/internal/store"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, Config{}, logger), db
}

func seedModule(t *testing.T, db *sql.DB, moduleID, kind, trustLevel string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO modules (id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at)
		VALUES (?,?,?,?,1,'[]',?,1,1)`,
		id, moduleID, moduleID, kind, trustLevel)
	if err != nil {
		t.Fatalf("seed module %s: %v", moduleID, err)
	}
	return id
}

// extractResult builds the minimal successful extract payload; the URL
// identity comes from the discovery via the projection fallback chain.
func extractResult(title, org string) map[string]any {
	return map[string]any{"posting": map[string]any{
		"title":             title,
		"organization_name": org,
	}}
}

func findJob(t *testing.T, jobs []*store.Job, kind, targetID string) *store.Job {
	t.Helper()
	for _, j := range jobs {
		if j.Kind == kind && j.TargetID == targetID {
			return j
		}
	}
	t.Fatalf("no %s job for target %s among %d jobs", kind, targetID, len(jobs))
	return nil
}

// ingestAndExtract runs the full connector-side flow: ingest the URL as
// moduleID, claim the extract job as proc-1, submit result. Returns the
// discovery id.
func ingestAndExtract(t *testing.T, svc *Service, moduleID, url string, result map[string]any) string {
	t.Helper()
	ctx := context.Background()

	receipt, err := svc.IngestDiscovery(ctx, DiscoveryInput{
		OriginModuleID: moduleID,
		URL:            url,
	}, MachineActor(moduleID))
	if err != nil {
		t.Fatalf("ingest %s: %v", url, err)
	}

	jobs, err := svc.ListQueuedJobs(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	job := findJob(t, jobs, "extract", receipt.DiscoveryID)

	if _, err := svc.ClaimJob(ctx, job.ID, "proc-1", 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.SubmitJobResult(ctx, job.ID, "proc-1", "done", result, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return receipt.DiscoveryID
}

func candidateForDiscovery(t *testing.T, db *sql.DB, discoveryID string) *store.Candidate {
	t.Helper()
	row := db.QueryRow(fmt.Sprintf(`
		SELECT %s FROM posting_candidates
		WHERE id IN (SELECT candidate_id FROM candidate_discoveries WHERE discovery_id = ?)`,
		store.CandidateColumns), discoveryID)
	c, err := store.ScanCandidate(row)
	if err != nil {
		t.Fatalf("candidate for discovery %s: %v", discoveryID, err)
	}
	return c
}

func candidateByID(t *testing.T, db *sql.DB, id string) *store.Candidate {
	t.Helper()
	row := db.QueryRow(fmt.Sprintf(
		"SELECT %s FROM posting_candidates WHERE id = ?", store.CandidateColumns), id)
	c, err := store.ScanCandidate(row)
	if err != nil {
		t.Fatalf("candidate %s: %v", id, err)
	}
	return c
}

func postingForCandidateID(t *testing.T, db *sql.DB, candidateID string) *store.Posting {
	t.Helper()
	row := db.QueryRow(fmt.Sprintf(
		"SELECT %s FROM postings WHERE candidate_id = ?", store.PostingColumns), candidateID)
	p, err := store.ScanPosting(row)
	if store.IsNoRows(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func eventTypes(t *testing.T, db *sql.DB, entityType, entityID string) []string {
	t.Helper()
	rows, err := db.Query(`
		SELECT event_type FROM provenance_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC`, entityType, entityID)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var et string
		if err := rows.Scan(&et); err != nil {
			t.Fatal(err)
		}
		types = append(types, et)
	}
	return types
}

func eventPayload(t *testing.T, db *sql.DB, entityType, entityID, eventType string) string {
	t.Helper()
	var payload string
	err := db.QueryRow(`
		SELECT payload FROM provenance_events
		WHERE entity_type = ? AND entity_id = ? AND event_type = ?
		ORDER BY id DESC LIMIT 1`, entityType, entityID, eventType).Scan(&payload)
	if err != nil {
		t.Fatalf("%s/%s event for %s: %v", entityType, eventType, entityID, err)
	}
	return payload
}

func countEvents(types []string, want string) int {
	n := 0
	for _, et := range types {
		if et == want {
			n++
		}
	}
	return n
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}
