// Package auth resolves request principals for the control plane.
// Machines present a module id and API key verified against stored
// SHA-256 hashes; humans present a bearer token validated against an
// external identity provider (or a local HS256 secret in development).
package auth

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	// ErrUnavailable means the identity provider could not be reached.
	// Never conflated with Unauthorized: a flaky provider must not look
	// like a revoked credential.
	ErrUnavailable = errors.New("auth: identity provider unavailable")
)

// Kind tags the principal variant.
type Kind string

const (
	KindHuman   Kind = "human"
	KindMachine Kind = "machine"
)

// Principal is the resolved caller of a request.
type Principal struct {
	Kind Kind

	// Human fields.
	UserID string
	Role   string

	// Machine fields. ModuleID is the external identifier modules present
	// on the wire; ModuleDBID is the row id referenced by foreign keys.
	ModuleID   string
	ModuleDBID string

	Scopes []string
}

// HasScope reports whether the principal carries scope.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RequireScopes checks that the principal carries every named scope.
func (p Principal) RequireScopes(scopes ...string) error {
	for _, scope := range scopes {
		if !p.HasScope(scope) {
			return fmt.Errorf("%w: missing scope %s", ErrForbidden, scope)
		}
	}
	return nil
}

// roleScopes maps an identity-provider role onto control-plane scopes.
// The role comes only from app_metadata, never from user-editable
// metadata.
func roleScopes(role string) []string {
	switch role {
	case "admin":
		return []string{
			"moderation:read", "moderation:write",
			"admin:write", "jobs:read", "jobs:write",
		}
	case "moderator":
		return []string{"moderation:read", "moderation:write"}
	default:
		return nil
	}
}
