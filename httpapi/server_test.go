package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sloppyjobs/jobulator/auth"
	"github.com/sloppyjobs/jobulator/dbopen"
	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/pipeline"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.New(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := pipeline.New(db, pipeline.Config{}, logger)

	moduleDBID := uuid.NewString()
	if _, err := db.Exec(`
		INSERT INTO modules (id, module_id, name, kind, enabled, scopes, trust_level, created_at, updated_at)
		VALUES (?,?,?,'connector',1,'["discoveries:write","evidence:write","jobs:read","jobs:write"]','trusted',1,1)`,
		moduleDBID, "conn-1", "conn-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`
		INSERT INTO module_credentials (id, module_id, key_hash, is_active, created_at)
		VALUES (?,?,?,1,1)`,
		uuid.NewString(), moduleDBID, auth.HashKey("conn-key")); err != nil {
		t.Fatal(err)
	}

	srv := New(svc, st, auth.NewMachineVerifier(st), auth.NewTokenVerifier("", testSecret), logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func humanToken(t *testing.T, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":          "user-" + role,
		"exp":          time.Now().Add(time.Hour).Unix(),
		"app_metadata": map[string]any{"role": role},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// call sends a request with optional machine or bearer credentials and
// decodes the JSON response into out (when non-nil).
func call(t *testing.T, ts *httptest.Server, method, path, bearer string, machine bool, body, out any) int {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, buf)
	if err != nil {
		t.Fatal(err)
	}
	if machine {
		req.Header.Set("X-Module-Id", "conn-1")
		req.Header.Set("X-API-Key", "conn-key")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	if status := call(t, ts, http.MethodGet, "/healthz", "", false, nil, nil); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
}

func TestMachineAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]any{"origin_module_id": "conn-1", "url": "https://example.edu/jobs/1"}
	if status := call(t, ts, http.MethodPost, "/discoveries", "", false, body, nil); status != http.StatusUnauthorized {
		t.Fatalf("no creds: %d", status)
	}

	// A connector cannot report for another module.
	spoofed := map[string]any{"origin_module_id": "conn-2", "url": "https://example.edu/jobs/1"}
	if status := call(t, ts, http.MethodPost, "/discoveries", "", true, spoofed, nil); status != http.StatusForbidden {
		t.Fatalf("spoofed origin: %d", status)
	}
}

func TestDiscoveryToPostingOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var receipt struct {
		DiscoveryID string `json:"discovery_id"`
		Created     bool   `json:"created"`
	}
	body := map[string]any{"origin_module_id": "conn-1", "url": "https://example.edu/jobs/biostats"}
	if status := call(t, ts, http.MethodPost, "/discoveries", "", true, body, &receipt); status != http.StatusAccepted {
		t.Fatalf("ingest: %d", status)
	}
	if !receipt.Created || receipt.DiscoveryID == "" {
		t.Fatalf("receipt %+v", receipt)
	}

	var jobList struct {
		Jobs []struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		} `json:"jobs"`
	}
	if status := call(t, ts, http.MethodGet, "/jobs", "", true, nil, &jobList); status != http.StatusOK {
		t.Fatalf("list jobs: %d", status)
	}
	if len(jobList.Jobs) != 1 || jobList.Jobs[0].Kind != "extract" {
		t.Fatalf("jobs %+v", jobList.Jobs)
	}
	jobID := jobList.Jobs[0].ID

	if status := call(t, ts, http.MethodPost, "/jobs/"+jobID+"/claim", "", true, nil, nil); status != http.StatusOK {
		t.Fatalf("claim: %d", status)
	}
	// Claiming again loses the race.
	if status := call(t, ts, http.MethodPost, "/jobs/"+jobID+"/claim", "", true, nil, nil); status != http.StatusConflict {
		t.Fatalf("re-claim: %d", status)
	}
	if status := call(t, ts, http.MethodPost, "/jobs/no-such-job/claim", "", true, nil, nil); status != http.StatusNotFound {
		t.Fatalf("unknown job: %d", status)
	}

	result := map[string]any{
		"status": "done",
		"result_json": map[string]any{"posting": map[string]any{
			"title":             "Biostatistics Researcher",
			"organization_name": "Example University",
		}},
	}
	if status := call(t, ts, http.MethodPost, "/jobs/"+jobID+"/result", "", true, result, nil); status != http.StatusOK {
		t.Fatalf("submit: %d", status)
	}

	// The projected posting is public, no auth needed.
	var catalog struct {
		Postings []struct {
			ID     string `json:"id"`
			Title  string `json:"title"`
			Status string `json:"status"`
		} `json:"postings"`
	}
	if status := call(t, ts, http.MethodGet, "/postings?status=active", "", false, nil, &catalog); status != http.StatusOK {
		t.Fatalf("catalog: %d", status)
	}
	if len(catalog.Postings) != 1 || catalog.Postings[0].Status != "active" {
		t.Fatalf("postings %+v", catalog.Postings)
	}
	if status := call(t, ts, http.MethodGet, "/postings/"+catalog.Postings[0].ID, "", false, nil, nil); status != http.StatusOK {
		t.Fatal("get posting failed")
	}
	if status := call(t, ts, http.MethodGet, "/postings/no-such-posting", "", false, nil, nil); status != http.StatusNotFound {
		t.Fatal("missing posting should 404")
	}
}

func TestModerationScopes(t *testing.T) {
	ts := newTestServer(t)

	if status := call(t, ts, http.MethodGet, "/candidates", "", false, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", status)
	}
	if status := call(t, ts, http.MethodGet, "/candidates", humanToken(t, "user"), false, nil, nil); status != http.StatusForbidden {
		t.Fatalf("plain user: %d", status)
	}
	if status := call(t, ts, http.MethodGet, "/candidates", humanToken(t, "moderator"), false, nil, nil); status != http.StatusOK {
		t.Fatalf("moderator: %d", status)
	}
}

func TestAdminScopes(t *testing.T) {
	ts := newTestServer(t)

	if status := call(t, ts, http.MethodGet, "/admin/modules", humanToken(t, "moderator"), false, nil, nil); status != http.StatusForbidden {
		t.Fatalf("moderator on admin: %d", status)
	}
	var out struct {
		Modules []struct {
			ModuleID   string `json:"module_id"`
			TrustLevel string `json:"trust_level"`
		} `json:"modules"`
	}
	if status := call(t, ts, http.MethodGet, "/admin/modules", humanToken(t, "admin"), false, nil, &out); status != http.StatusOK {
		t.Fatalf("admin: %d", status)
	}
	if len(out.Modules) != 1 || out.Modules[0].ModuleID != "conn-1" || out.Modules[0].TrustLevel != "trusted" {
		t.Fatalf("modules %+v", out.Modules)
	}
}

func TestAdminUpsertWireFormat(t *testing.T) {
	ts := newTestServer(t)
	admin := humanToken(t, "admin")

	var policy struct {
		SourceKey string         `json:"source_key"`
		RulesJSON map[string]any `json:"rules_json"`
	}
	body := map[string]any{
		"source_key":  "module:conn-1",
		"trust_level": "semi_trusted",
		"rules_json":  map[string]any{"min_confidence": 0.8},
	}
	if status := call(t, ts, http.MethodPut, "/admin/trust-policies", admin, false, body, &policy); status != http.StatusOK {
		t.Fatalf("upsert policy: %d", status)
	}
	if policy.SourceKey != "module:conn-1" || policy.RulesJSON["min_confidence"] != 0.8 {
		t.Fatalf("policy %+v", policy)
	}

	var rule struct {
		HostSuffix string `json:"host_suffix"`
		StripWWW   bool   `json:"strip_www"`
	}
	body = map[string]any{"host_suffix": "example.edu", "strip_www": true}
	if status := call(t, ts, http.MethodPut, "/admin/url-rules", admin, false, body, &rule); status != http.StatusOK {
		t.Fatalf("upsert rule: %d", status)
	}
	if rule.HostSuffix != "example.edu" || !rule.StripWWW {
		t.Fatalf("rule %+v", rule)
	}
}

func TestCandidatePatchConflict(t *testing.T) {
	ts := newTestServer(t)

	// Produce a published candidate via the machine surface.
	body := map[string]any{"origin_module_id": "conn-1", "url": "https://example.edu/jobs/1"}
	var receipt struct {
		DiscoveryID string `json:"discovery_id"`
	}
	call(t, ts, http.MethodPost, "/discoveries", "", true, body, &receipt)

	var jobList struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	call(t, ts, http.MethodGet, "/jobs", "", true, nil, &jobList)
	jobID := jobList.Jobs[0].ID
	call(t, ts, http.MethodPost, "/jobs/"+jobID+"/claim", "", true, nil, nil)
	call(t, ts, http.MethodPost, "/jobs/"+jobID+"/result", "", true, map[string]any{
		"status": "done",
		"result_json": map[string]any{"posting": map[string]any{
			"title":             "Researcher",
			"organization_name": "Example University",
		}},
	}, nil)

	var candidates struct {
		Candidates []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"candidates"`
	}
	mod := humanToken(t, "moderator")
	call(t, ts, http.MethodGet, "/candidates", mod, false, nil, &candidates)
	if len(candidates.Candidates) != 1 || candidates.Candidates[0].State != "published" {
		t.Fatalf("candidates %+v", candidates.Candidates)
	}
	id := candidates.Candidates[0].ID

	// published -> needs_review is not a legal moderated transition.
	patch := map[string]any{"state": "needs_review", "reason": "re-check"}
	if status := call(t, ts, http.MethodPatch, "/candidates/"+id, mod, false, patch, nil); status != http.StatusConflict {
		t.Fatalf("illegal transition: %d", status)
	}
	if status := call(t, ts, http.MethodPatch, "/candidates/"+id, mod, false, map[string]any{"state": "archived"}, nil); status != http.StatusOK {
		t.Fatal("archive failed")
	}
}
