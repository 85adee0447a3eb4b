package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sloppyjobs/jobulator/auth"
	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/pipeline"
	"github.com/sloppyjobs/jobulator/trust"
)

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := s.store.ListModules(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"modules": viewModules(modules)})
}

func (s *Server) handleUpsertModule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModuleID   string   `json:"module_id"`
		Name       string   `json:"name"`
		Kind       string   `json:"kind"`
		Enabled    *bool    `json:"enabled,omitempty"`
		Scopes     []string `json:"scopes"`
		TrustLevel string   `json:"trust_level"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.ModuleID == "" || req.Name == "" {
		respondError(w, fmt.Errorf("%w: module_id and name are required", pipeline.ErrValidation))
		return
	}
	if req.Kind != "connector" && req.Kind != "processor" {
		respondError(w, fmt.Errorf("%w: kind must be connector or processor", pipeline.ErrValidation))
		return
	}
	if !trust.ValidLevel(trust.Level(req.TrustLevel)) {
		respondError(w, fmt.Errorf("%w: unknown trust_level %q", pipeline.ErrValidation, req.TrustLevel))
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	module, err := s.store.UpsertModule(r.Context(), &store.Module{
		ModuleID:   req.ModuleID,
		Name:       req.Name,
		Kind:       req.Kind,
		Enabled:    enabled,
		Scopes:     req.Scopes,
		TrustLevel: req.TrustLevel,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewModule(module))
}

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	moduleDBID := chi.URLParam(r, "id")

	var req struct {
		APIKey    string `json:"api_key,omitempty"`
		ExpiresAt string `json:"expires_at,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
	}

	apiKey := req.APIKey
	if apiKey == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			respondError(w, err)
			return
		}
		apiKey = hex.EncodeToString(buf)
	}

	var expiresAt int64
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			respondError(w, fmt.Errorf("%w: expires_at must be RFC3339", pipeline.ErrValidation))
			return
		}
		expiresAt = t.UnixMilli()
	}

	id, err := s.store.CreateCredential(r.Context(), moduleDBID, auth.HashKey(apiKey), expiresAt)
	if err != nil {
		respondError(w, err)
		return
	}
	// The cleartext key is returned exactly once; only the hash is stored.
	respondJSON(w, http.StatusCreated, map[string]any{
		"credential_id": id,
		"api_key":       apiKey,
	})
}

func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RevokeCredential(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (s *Server) handleListTrustPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListTrustPolicies(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"trust_policies": viewTrustPolicies(policies)})
}

func (s *Server) handleUpsertTrustPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceKey          string         `json:"source_key"`
		TrustLevel         string         `json:"trust_level"`
		AutoPublish        bool           `json:"auto_publish"`
		RequiresModeration bool           `json:"requires_moderation"`
		RulesJSON          map[string]any `json:"rules_json,omitempty"`
		Enabled            *bool          `json:"enabled,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.SourceKey == "" {
		respondError(w, fmt.Errorf("%w: source_key is required", pipeline.ErrValidation))
		return
	}
	if !trust.ValidLevel(trust.Level(req.TrustLevel)) {
		respondError(w, fmt.Errorf("%w: unknown trust_level %q", pipeline.ErrValidation, req.TrustLevel))
		return
	}
	if _, err := trust.ValidateRules(req.RulesJSON); err != nil {
		respondError(w, fmt.Errorf("%w: %v", pipeline.ErrValidation, err))
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	policy, err := s.store.UpsertTrustPolicy(r.Context(), &store.TrustPolicy{
		SourceKey:          req.SourceKey,
		TrustLevel:         req.TrustLevel,
		AutoPublish:        req.AutoPublish,
		RequiresModeration: req.RequiresModeration,
		RulesJSON:          req.RulesJSON,
		Enabled:            enabled,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewTrustPolicy(policy))
}

func (s *Server) handleListURLRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListURLRules(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"url_rules": viewURLRules(rules)})
}

func (s *Server) handleUpsertURLRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostSuffix         string   `json:"host_suffix"`
		StripWWW           bool     `json:"strip_www"`
		ForceHTTPS         bool     `json:"force_https"`
		StripQueryParams   []string `json:"strip_query_params"`
		StripQueryPrefixes []string `json:"strip_query_prefixes"`
		Enabled            *bool    `json:"enabled,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.HostSuffix == "" {
		respondError(w, fmt.Errorf("%w: host_suffix is required", pipeline.ErrValidation))
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule, err := s.store.UpsertURLRule(r.Context(), &store.URLRule{
		HostSuffix:         req.HostSuffix,
		StripWWW:           req.StripWWW,
		ForceHTTPS:         req.ForceHTTPS,
		StripQueryParams:   req.StripQueryParams,
		StripQueryPrefixes: req.StripQueryPrefixes,
		Enabled:            enabled,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewURLRule(rule))
}

func (s *Server) handleAdminListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "dead_letter"
	}
	jobs, err := s.store.ListJobsByStatus(r.Context(), status, queryInt(r, "limit"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": viewJobs(jobs)})
}

func (s *Server) handleAdminGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	if job == nil {
		respondError(w, fmt.Errorf("%w: job %s", pipeline.ErrNotFound, chi.URLParam(r, "id")))
		return
	}
	respondJSON(w, http.StatusOK, viewJob(job))
}

func (s *Server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if err := s.svc.RequeueJob(r.Context(), chi.URLParam(r, "id"), actorFor(p)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"requeued": true})
}
