// Package httpapi exposes the control plane over HTTP: the machine
// surface for connectors and workers, the public posting catalog, the
// moderation surface, and admin CRUD. Handlers stay thin; every business
// rule lives in the pipeline package and errors map 1:1 onto status
// codes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sloppyjobs/jobulator/auth"
	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/pipeline"
)

// Server wires the pipeline service and the auth verifiers into a router.
type Server struct {
	svc      *pipeline.Service
	store    *store.Store
	machines *auth.MachineVerifier
	tokens   *auth.TokenVerifier
	log      *slog.Logger
}

// New builds a Server.
func New(svc *pipeline.Service, st *store.Store, machines *auth.MachineVerifier, tokens *auth.TokenVerifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, store: st, machines: machines, tokens: tokens, log: log}
}

// Router assembles the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	// Machine surface.
	r.Group(func(r chi.Router) {
		r.Use(s.requireMachine)
		r.With(s.requireScopes("discoveries:write")).Post("/discoveries", s.handleCreateDiscovery)
		r.With(s.requireScopes("evidence:write")).Post("/evidence", s.handleCreateEvidence)
		r.With(s.requireScopes("jobs:read")).Get("/jobs", s.handleListJobs)
		r.With(s.requireScopes("jobs:write")).Post("/jobs/{id}/claim", s.handleClaimJob)
		r.With(s.requireScopes("jobs:write")).Post("/jobs/{id}/result", s.handleSubmitResult)
		r.With(s.requireScopes("jobs:write")).Post("/jobs/reap-expired", s.handleReapExpired)
	})

	// Freshness enqueue accepts either a worker module or a human admin.
	r.With(s.requireMachineOrAdmin).Post("/jobs/enqueue-freshness", s.handleEnqueueFreshness)

	// Public catalog.
	r.Get("/postings", s.handleListPostings)
	r.Get("/postings/{id}", s.handleGetPosting)

	// Moderation surface.
	r.Group(func(r chi.Router) {
		r.Use(s.requireHuman)
		r.With(s.requireScopes("moderation:write")).Patch("/postings/{id}", s.handlePatchPosting)
		r.With(s.requireScopes("moderation:read")).Get("/candidates", s.handleListCandidates)
		r.With(s.requireScopes("moderation:read")).Get("/candidates/facets", s.handleCandidateFacets)
		r.With(s.requireScopes("moderation:read")).Get("/candidates/{id}", s.handleGetCandidate)
		r.With(s.requireScopes("moderation:read")).Get("/candidates/{id}/events", s.handleCandidateEvents)
		r.With(s.requireScopes("moderation:write")).Patch("/candidates/{id}", s.handlePatchCandidate)
		r.With(s.requireScopes("moderation:write")).Post("/candidates/{id}/override", s.handleOverrideCandidate)
		r.With(s.requireScopes("moderation:write")).Post("/candidates/{id}/merge", s.handleMergeCandidates)
	})

	// Admin surface.
	r.Group(func(r chi.Router) {
		r.Use(s.requireHuman)
		r.Use(s.requireScopes("admin:write"))
		r.Get("/admin/modules", s.handleListModules)
		r.Put("/admin/modules", s.handleUpsertModule)
		r.Post("/admin/modules/{id}/credentials", s.handleCreateCredential)
		r.Delete("/admin/credentials/{id}", s.handleRevokeCredential)
		r.Get("/admin/trust-policies", s.handleListTrustPolicies)
		r.Put("/admin/trust-policies", s.handleUpsertTrustPolicy)
		r.Get("/admin/url-rules", s.handleListURLRules)
		r.Put("/admin/url-rules", s.handleUpsertURLRule)
		r.Get("/admin/jobs", s.handleAdminListJobs)
		r.Get("/admin/jobs/{id}", s.handleAdminGetJob)
		r.Post("/admin/jobs/{id}/requeue", s.handleRequeueJob)
	})

	return r
}

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// requireMachine authenticates the X-Module-Id / X-API-Key pair.
func (s *Server) requireMachine(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.machines.Verify(r.Context(),
			r.Header.Get("X-Module-Id"), r.Header.Get("X-API-Key"))
		if err != nil {
			respondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// requireHuman authenticates the bearer token.
func (s *Server) requireHuman(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == r.Header.Get("Authorization") {
			token = ""
		}
		p, err := s.tokens.Verify(r.Context(), token)
		if err != nil {
			respondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// requireMachineOrAdmin resolves whichever credential the caller sent.
func (s *Server) requireMachineOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Module-Id") != "" {
			s.requireMachine(s.requireScopes("jobs:write")(next)).ServeHTTP(w, r)
			return
		}
		s.requireHuman(s.requireScopes("admin:write")(next)).ServeHTTP(w, r)
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok {
				respondError(w, auth.ErrUnauthorized)
				return
			}
			if err := p.RequireScopes(scopes...); err != nil {
				respondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// actorFor maps a principal onto a provenance actor.
func actorFor(p auth.Principal) pipeline.Actor {
	if p.Kind == auth.KindMachine {
		return pipeline.MachineActor(p.ModuleID)
	}
	return pipeline.HumanActor(p.UserID)
}
