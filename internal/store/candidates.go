package store

import (
	"context"
	"fmt"
	"strings"
)

// CandidateFilter is the moderation list filter.
type CandidateFilter struct {
	State  string
	Limit  int
	Offset int
}

// ListCandidates returns moderation-queue rows, newest first.
func (s *Store) ListCandidates(ctx context.Context, f CandidateFilter) ([]*Candidate, error) {
	var conditions []string
	var args []any
	if f.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, f.State)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM posting_candidates %s ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?",
		CandidateColumns, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		c, err := ScanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// GetCandidate returns a candidate by id, or nil when absent.
func (s *Store) GetCandidate(ctx context.Context, id string) (*Candidate, error) {
	row := s.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM posting_candidates WHERE id = ?", CandidateColumns), id)
	c, err := ScanCandidate(row)
	if IsNoRows(err) {
		return nil, nil
	}
	return c, err
}

// CandidateFacets counts candidates per state for the moderation UI.
func (s *Store) CandidateFacets(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM posting_candidates GROUP BY state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facets := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		facets[state] = count
	}
	return facets, rows.Err()
}

// CandidateDiscoveryIDs returns the discovery ids linked to a candidate.
func (s *Store) CandidateDiscoveryIDs(ctx context.Context, candidateID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT discovery_id FROM candidate_discoveries WHERE candidate_id = ? ORDER BY discovery_id",
		candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PostingForCandidate returns the posting linked to a candidate, or nil.
func (s *Store) PostingForCandidate(ctx context.Context, candidateID string) (*Posting, error) {
	row := s.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM postings WHERE candidate_id = ?", PostingColumns), candidateID)
	p, err := ScanPosting(row)
	if IsNoRows(err) {
		return nil, nil
	}
	return p, err
}

// ListEvents returns the provenance trail for one entity, oldest first.
func (s *Store) ListEvents(ctx context.Context, entityType, entityID string, limit int) ([]*ProvenanceEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, entity_type, COALESCE(entity_id,''), event_type, actor_type,
			COALESCE(actor_id,''), payload, created_at
		FROM provenance_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC
		LIMIT ?`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ProvenanceEvent
	for rows.Next() {
		var e ProvenanceEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.EventType,
			&e.ActorType, &e.ActorID, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = UnmarshalJSON(payload)
		events = append(events, &e)
	}
	return events, rows.Err()
}
