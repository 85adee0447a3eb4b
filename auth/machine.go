package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/sloppyjobs/jobulator/internal/store"
)

// MachineVerifier checks module API keys against module_credentials.
type MachineVerifier struct {
	store *store.Store
}

// NewMachineVerifier builds a verifier over the control-plane store.
func NewMachineVerifier(s *store.Store) *MachineVerifier {
	return &MachineVerifier{store: s}
}

// HashKey is the stored form of an API key: lowercase hex SHA-256.
func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Verify resolves a machine principal from a module id and API key. The
// comparison is constant-time over every active credential, so a miss
// costs the same as a hit.
func (v *MachineVerifier) Verify(ctx context.Context, moduleID, apiKey string) (Principal, error) {
	if moduleID == "" || apiKey == "" {
		return Principal{}, fmt.Errorf("%w: missing module credentials", ErrUnauthorized)
	}

	creds, err := v.store.MachineCredentials(ctx, moduleID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	presented := []byte(HashKey(apiKey))
	for _, cred := range creds {
		if subtle.ConstantTimeCompare(presented, []byte(cred.KeyHash)) == 1 {
			return Principal{
				Kind:       KindMachine,
				ModuleID:   cred.ModuleID,
				ModuleDBID: cred.ModuleDBID,
				Scopes:     cred.Scopes,
			}, nil
		}
	}
	return Principal{}, fmt.Errorf("%w: invalid module credentials", ErrUnauthorized)
}
