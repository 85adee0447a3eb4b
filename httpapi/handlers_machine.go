package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sloppyjobs/jobulator/pipeline"
)

type discoveryRequest struct {
	OriginModuleID string         `json:"origin_module_id"`
	ExternalID     string         `json:"external_id,omitempty"`
	DiscoveredAt   string         `json:"discovered_at,omitempty"`
	URL            string         `json:"url,omitempty"`
	TitleHint      string         `json:"title_hint,omitempty"`
	TextHint       string         `json:"text_hint,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateDiscovery(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req discoveryRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	// A connector may only report discoveries as itself.
	if req.OriginModuleID != p.ModuleID {
		respondError(w, fmt.Errorf("%w: origin_module_id must match the authenticated module", pipeline.ErrForbidden))
		return
	}

	var discoveredAt time.Time
	if req.DiscoveredAt != "" {
		var err error
		discoveredAt, err = time.Parse(time.RFC3339, req.DiscoveredAt)
		if err != nil {
			respondError(w, fmt.Errorf("%w: discovered_at must be RFC3339", pipeline.ErrValidation))
			return
		}
	}

	receipt, err := s.svc.IngestDiscovery(r.Context(), pipeline.DiscoveryInput{
		OriginModuleID: req.OriginModuleID,
		ExternalID:     req.ExternalID,
		DiscoveredAt:   discoveredAt,
		URL:            req.URL,
		TitleHint:      req.TitleHint,
		TextHint:       req.TextHint,
		Metadata:       req.Metadata,
	}, actorFor(p))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, receipt)
}

type evidenceRequest struct {
	DiscoveryID string         `json:"discovery_id,omitempty"`
	Kind        string         `json:"kind"`
	URI         string         `json:"uri"`
	ContentHash string         `json:"content_hash"`
	CapturedAt  string         `json:"captured_at,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	ByteSize    int64          `json:"byte_size,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateEvidence(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req evidenceRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	var capturedAt time.Time
	if req.CapturedAt != "" {
		var err error
		capturedAt, err = time.Parse(time.RFC3339, req.CapturedAt)
		if err != nil {
			respondError(w, fmt.Errorf("%w: captured_at must be RFC3339", pipeline.ErrValidation))
			return
		}
	}

	id, err := s.svc.RecordEvidence(r.Context(), pipeline.EvidenceInput{
		DiscoveryID: req.DiscoveryID,
		Kind:        req.Kind,
		URI:         req.URI,
		ContentHash: req.ContentHash,
		CapturedAt:  capturedAt,
		ContentType: req.ContentType,
		ByteSize:    req.ByteSize,
		Metadata:    req.Metadata,
	}, actorFor(p))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"evidence_id": id})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.ListQueuedJobs(r.Context(), queryInt(r, "limit"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": viewJobs(jobs)})
}

func (s *Server) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		LeaseSeconds int `json:"lease_seconds"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, err)
			return
		}
	}

	job, err := s.svc.ClaimJob(r.Context(), chi.URLParam(r, "id"), p.ModuleID, req.LeaseSeconds)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewJob(job))
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		Status     string         `json:"status"`
		ResultJSON map[string]any `json:"result_json,omitempty"`
		ErrorJSON  map[string]any `json:"error_json,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	job, err := s.svc.SubmitJobResult(r.Context(), chi.URLParam(r, "id"),
		p.ModuleID, req.Status, req.ResultJSON, req.ErrorJSON)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewJob(job))
}

func (s *Server) handleReapExpired(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	n, err := s.svc.ReapExpiredLeases(r.Context(), queryInt(r, "limit"), actorFor(p))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"requeued": n})
}

func (s *Server) handleEnqueueFreshness(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	n, err := s.svc.EnqueueDueFreshness(r.Context(), queryInt(r, "limit"), actorFor(p))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"enqueued": n})
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}
