package pipeline

import (
	"context"
	"fmt"

	"github.com/sloppyjobs/jobulator/internal/store"
)

// Actor identifies who drove a mutation, for provenance rows.
type Actor struct {
	Type string // human | machine | system
	ID   string
}

// MachineActor identifies a module principal.
func MachineActor(moduleID string) Actor { return Actor{Type: "machine", ID: moduleID} }

// HumanActor identifies a moderator or admin.
func HumanActor(userID string) Actor { return Actor{Type: "human", ID: userID} }

// SystemActor identifies an internal maintenance loop.
func SystemActor() Actor { return Actor{Type: "system", ID: "system"} }

// appendEvent writes one provenance row inside the caller's transaction.
// Events are append-only; nothing in the codebase updates or deletes them.
func appendEvent(ctx context.Context, q store.DBTX, now int64, entityType, entityID, eventType string, actor Actor, payload map[string]any) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO provenance_events (entity_type, entity_id, event_type, actor_type, actor_id, payload, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		entityType, store.NullIfEmpty(entityID), eventType, actor.Type,
		store.NullIfEmpty(actor.ID), store.MarshalJSON(payload), now)
	if err != nil {
		return fmt.Errorf("append %s/%s event: %w", entityType, eventType, err)
	}
	return nil
}
