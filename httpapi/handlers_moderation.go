package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/pipeline"
)

func (s *Server) handleListPostings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PostingFilter{
		Query:            q.Get("q"),
		OrganizationName: q.Get("organization_name"),
		Country:          q.Get("country"),
		Status:           q.Get("status"),
		Tag:              q.Get("tag"),
		SortBy:           q.Get("sort_by"),
		SortDesc:         q.Get("order") == "desc",
		Limit:            queryInt(r, "limit"),
		Offset:           queryInt(r, "offset"),
	}
	if raw := q.Get("remote"); raw != "" {
		remote, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, fmt.Errorf("%w: remote must be a boolean", pipeline.ErrValidation))
			return
		}
		filter.Remote = &remote
	}

	postings, err := s.store.ListPostings(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]postingView, 0, len(postings))
	for _, p := range postings {
		views = append(views, viewPosting(p))
	}
	respondJSON(w, http.StatusOK, map[string]any{"postings": views})
}

func (s *Server) handleGetPosting(w http.ResponseWriter, r *http.Request) {
	posting, err := s.store.GetPosting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	if posting == nil {
		respondError(w, fmt.Errorf("%w: posting", pipeline.ErrNotFound))
		return
	}
	respondJSON(w, http.StatusOK, viewPosting(posting))
}

func (s *Server) handlePatchPosting(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	posting, err := s.svc.UpdatePostingStatus(r.Context(), chi.URLParam(r, "id"),
		req.Status, actorFor(p), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewPosting(posting))
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.store.ListCandidates(r.Context(), store.CandidateFilter{
		State:  r.URL.Query().Get("state"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		views = append(views, viewCandidate(c))
	}
	respondJSON(w, http.StatusOK, map[string]any{"candidates": views})
}

func (s *Server) handleCandidateFacets(w http.ResponseWriter, r *http.Request) {
	facets, err := s.store.CandidateFacets(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"facets": facets})
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	candidate, err := s.store.GetCandidate(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if candidate == nil {
		respondError(w, fmt.Errorf("%w: candidate", pipeline.ErrNotFound))
		return
	}

	view := viewCandidate(candidate)
	if ids, err := s.store.CandidateDiscoveryIDs(r.Context(), id); err == nil {
		view.DiscoveryIDs = ids
	}
	if posting, err := s.store.PostingForCandidate(r.Context(), id); err == nil && posting != nil {
		view.PostingID = posting.ID
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleCandidateEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), "candidate", chi.URLParam(r, "id"), queryInt(r, "limit"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": viewEvents(events)})
}

func (s *Server) handlePatchCandidate(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		State  string `json:"state"`
		Reason string `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	candidate, err := s.svc.UpdateCandidateState(r.Context(), chi.URLParam(r, "id"),
		req.State, actorFor(p), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCandidate(candidate))
}

func (s *Server) handleOverrideCandidate(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		State         string `json:"state"`
		PostingStatus string `json:"posting_status,omitempty"`
		Reason        string `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	candidate, err := s.svc.OverrideCandidateState(r.Context(), chi.URLParam(r, "id"),
		req.State, req.PostingStatus, actorFor(p), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewCandidate(candidate))
}

func (s *Server) handleMergeCandidates(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req struct {
		SecondaryCandidateID string `json:"secondary_candidate_id"`
		Reason               string `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.SecondaryCandidateID == "" {
		respondError(w, fmt.Errorf("%w: secondary_candidate_id is required", pipeline.ErrValidation))
		return
	}

	err := s.svc.MergeCandidates(r.Context(), chi.URLParam(r, "id"),
		req.SecondaryCandidateID, actorFor(p), req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"merged": true})
}
