package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sloppyjobs/jobulator/dbopen"
	"github.com/sloppyjobs/jobulator/internal/store"
	"github.com/sloppyjobs/jobulator/lifecycle"
)

// UpdateCandidateState applies a moderated candidate transition. Moving
// to published requires a linked posting; when the new state drives a
// posting status (published, archived, closed, rejected) the posting is
// moved too, in the same transaction.
func (s *Service) UpdateCandidateState(ctx context.Context, candidateID, toState string, actor Actor, reason string) (*store.Candidate, error) {
	to := lifecycle.CandidateState(toState)
	if !lifecycle.ValidCandidateState(to) {
		return nil, fmt.Errorf("%w: unknown candidate state %q", ErrValidation, toState)
	}

	var updated *store.Candidate
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		candidate, err := candidateForUpdate(ctx, tx, candidateID)
		if err != nil {
			return err
		}
		from := lifecycle.CandidateState(candidate.State)

		if err := lifecycle.CheckCandidateTransition(from, to); err != nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}

		posting, err := postingForCandidate(ctx, tx, candidateID)
		if err != nil {
			return err
		}
		if to == lifecycle.CandidatePublished && posting == nil {
			return fmt.Errorf("%w: candidate %s has no posting to publish", ErrConflict, candidateID)
		}

		if err := s.applyCandidateState(ctx, tx, now, candidate, to, posting, actor, reason, "state_changed"); err != nil {
			return err
		}

		updated, err = candidateForUpdate(ctx, tx, candidateID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// OverrideCandidateState is the administrative escape hatch: it skips the
// candidate transition check, optionally forcing a posting status as
// well. Publishing a candidate without a posting is still refused.
func (s *Service) OverrideCandidateState(ctx context.Context, candidateID, toState, postingStatus string, actor Actor, reason string) (*store.Candidate, error) {
	to := lifecycle.CandidateState(toState)
	if !lifecycle.ValidCandidateState(to) {
		return nil, fmt.Errorf("%w: unknown candidate state %q", ErrValidation, toState)
	}
	var forced lifecycle.PostingStatus
	if postingStatus != "" {
		forced = lifecycle.PostingStatus(postingStatus)
		if !lifecycle.ValidPostingStatus(forced) {
			return nil, fmt.Errorf("%w: unknown posting status %q", ErrValidation, postingStatus)
		}
	}

	var updated *store.Candidate
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		candidate, err := candidateForUpdate(ctx, tx, candidateID)
		if err != nil {
			return err
		}

		posting, err := postingForCandidate(ctx, tx, candidateID)
		if err != nil {
			return err
		}
		if to == lifecycle.CandidatePublished && posting == nil {
			return fmt.Errorf("%w: candidate %s has no posting to publish", ErrConflict, candidateID)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE posting_candidates SET state = ?, updated_at = ? WHERE id = ?",
			string(to), now, candidateID)
		if err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, now, "candidate", candidateID, "state_overridden", actor, map[string]any{
			"from":   candidate.State,
			"to":     string(to),
			"reason": reason,
		}); err != nil {
			return err
		}

		target := forced
		if target == "" {
			if derived, ok := lifecycle.DerivedPostingStatus(to); ok {
				target = derived
			}
		}
		if posting != nil && target != "" && target != lifecycle.PostingStatus(posting.Status) {
			if err := applyPostingStatus(ctx, tx, now, posting, target); err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, now, "posting", posting.ID, "state_overridden", actor, map[string]any{
				"from":   posting.Status,
				"to":     string(target),
				"reason": reason,
			}); err != nil {
				return err
			}
		}

		updated, err = candidateForUpdate(ctx, tx, candidateID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MergeCandidates folds secondary into primary under a human decision.
func (s *Service) MergeCandidates(ctx context.Context, primaryID, secondaryID string, actor Actor, reason string) error {
	if primaryID == secondaryID {
		return fmt.Errorf("%w: cannot merge a candidate into itself", ErrValidation)
	}
	return dbopen.InTx(s.db, func(tx *sql.Tx) error {
		spec := mergeSpec{
			decision:   "manual_merged",
			decidedBy:  actor.ID,
			confidence: 1.0,
			rationale:  reason,
			metadata:   map[string]any{"reason": reason},
		}
		return applyCandidateMerge(ctx, tx, s.now(), primaryID, secondaryID, spec, actor)
	})
}

// UpdatePostingStatus applies a moderated posting transition, deriving
// and validating the linked candidate's transition in the same unit:
// either both moves are legal or neither applies.
func (s *Service) UpdatePostingStatus(ctx context.Context, postingID, toStatus string, actor Actor, reason string) (*store.Posting, error) {
	to := lifecycle.PostingStatus(toStatus)
	if !lifecycle.ValidPostingStatus(to) {
		return nil, fmt.Errorf("%w: unknown posting status %q", ErrValidation, toStatus)
	}

	var updated *store.Posting
	err := dbopen.InTx(s.db, func(tx *sql.Tx) error {
		now := s.now()

		row := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT %s FROM postings WHERE id = ?", store.PostingColumns), postingID)
		posting, err := store.ScanPosting(row)
		if store.IsNoRows(err) {
			return fmt.Errorf("%w: posting %s", ErrNotFound, postingID)
		}
		if err != nil {
			return err
		}
		from := lifecycle.PostingStatus(posting.Status)

		if err := lifecycle.CheckPostingTransition(from, to); err != nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}

		var candidate *store.Candidate
		var derivedState lifecycle.CandidateState
		if posting.CandidateID != "" {
			candidate, err = candidateForUpdate(ctx, tx, posting.CandidateID)
			if err != nil {
				return err
			}
			if derived, ok := lifecycle.DerivedCandidateState(to); ok {
				derivedState = derived
				if err := lifecycle.CheckCandidateTransition(lifecycle.CandidateState(candidate.State), derived); err != nil {
					return fmt.Errorf("%w: %v", ErrConflict, err)
				}
			}
		}

		if err := applyPostingStatus(ctx, tx, now, posting, to); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, now, "posting", postingID, "state_changed", actor, map[string]any{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		}); err != nil {
			return err
		}

		if candidate != nil && derivedState != "" && derivedState != lifecycle.CandidateState(candidate.State) {
			_, err = tx.ExecContext(ctx,
				"UPDATE posting_candidates SET state = ?, updated_at = ? WHERE id = ?",
				string(derivedState), now, candidate.ID)
			if err != nil {
				return err
			}
			if err := appendEvent(ctx, tx, now, "candidate", candidate.ID, "state_changed", actor, map[string]any{
				"from":   candidate.State,
				"to":     string(derivedState),
				"reason": reason,
			}); err != nil {
				return err
			}
		}

		row = tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT %s FROM postings WHERE id = ?", store.PostingColumns), postingID)
		updated, err = store.ScanPosting(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyCandidateState moves a candidate and, when the state drives a
// posting status, the linked posting with it.
func (s *Service) applyCandidateState(ctx context.Context, tx *sql.Tx, now int64, candidate *store.Candidate, to lifecycle.CandidateState, posting *store.Posting, actor Actor, reason, eventType string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE posting_candidates SET state = ?, updated_at = ? WHERE id = ?",
		string(to), now, candidate.ID)
	if err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, now, "candidate", candidate.ID, eventType, actor, map[string]any{
		"from":   candidate.State,
		"to":     string(to),
		"reason": reason,
	}); err != nil {
		return err
	}

	derived, ok := lifecycle.DerivedPostingStatus(to)
	if !ok || posting == nil || derived == lifecycle.PostingStatus(posting.Status) {
		return nil
	}
	if err := applyPostingStatus(ctx, tx, now, posting, derived); err != nil {
		return err
	}
	return appendEvent(ctx, tx, now, "posting", posting.ID, eventType, actor, map[string]any{
		"from":   posting.Status,
		"to":     string(derived),
		"reason": reason,
	})
}

// applyPostingStatus writes a posting status, stamping published_at on
// first activation.
func applyPostingStatus(ctx context.Context, tx *sql.Tx, now int64, posting *store.Posting, to lifecycle.PostingStatus) error {
	if to == lifecycle.PostingActive {
		_, err := tx.ExecContext(ctx,
			"UPDATE postings SET status = ?, published_at = COALESCE(published_at, ?), updated_at = ? WHERE id = ?",
			string(to), now, now, posting.ID)
		return err
	}
	_, err := tx.ExecContext(ctx,
		"UPDATE postings SET status = ?, updated_at = ? WHERE id = ?",
		string(to), now, posting.ID)
	return err
}

// mergeSpec parameterizes applyCandidateMerge for its two callers: the
// projection engine's auto-merge and the moderation endpoint.
type mergeSpec struct {
	decision   string
	decidedBy  string
	confidence float64
	rationale  string
	metadata   map[string]any
}

// applyCandidateMerge folds secondary into primary: re-parents a
// secondary posting when primary has none, copies the discovery and
// evidence links, archives the secondary, and records the merge
// decision. Rows are locked in ascending id order; merging two
// candidates that both own distinct postings is a conflict.
func applyCandidateMerge(ctx context.Context, tx *sql.Tx, now int64, primaryID, secondaryID string, spec mergeSpec, actor Actor) error {
	first, second := primaryID, secondaryID
	if second < first {
		first, second = second, first
	}
	if _, err := candidateForUpdate(ctx, tx, first); err != nil {
		return err
	}
	if _, err := candidateForUpdate(ctx, tx, second); err != nil {
		return err
	}

	primaryPosting, err := postingForCandidate(ctx, tx, primaryID)
	if err != nil {
		return err
	}
	secondaryPosting, err := postingForCandidate(ctx, tx, secondaryID)
	if err != nil {
		return err
	}
	if primaryPosting != nil && secondaryPosting != nil && primaryPosting.ID != secondaryPosting.ID {
		return fmt.Errorf("%w: candidates %s and %s both own postings", ErrConflict, primaryID, secondaryID)
	}

	if secondaryPosting != nil && primaryPosting == nil {
		_, err = tx.ExecContext(ctx,
			"UPDATE postings SET candidate_id = ?, updated_at = ? WHERE id = ?",
			primaryID, now, secondaryPosting.ID)
		if err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, now, "posting", secondaryPosting.ID, "candidate_reassigned", actor, map[string]any{
			"from_candidate_id": secondaryID,
			"to_candidate_id":   primaryID,
		}); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO candidate_discoveries (candidate_id, discovery_id)
		SELECT ?, discovery_id FROM candidate_discoveries WHERE candidate_id = ?
		ON CONFLICT DO NOTHING`, primaryID, secondaryID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO candidate_evidence (candidate_id, evidence_id)
		SELECT ?, evidence_id FROM candidate_evidence WHERE candidate_id = ?
		ON CONFLICT DO NOTHING`, primaryID, secondaryID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE posting_candidates SET state = 'archived', updated_at = ? WHERE id = ?",
		now, secondaryID)
	if err != nil {
		return err
	}

	if err := recordMergeDecision(ctx, tx, now, primaryID, secondaryID,
		spec.decision, spec.confidence, spec.decidedBy, spec.rationale, spec.metadata, actor); err != nil {
		return err
	}

	if err := appendEvent(ctx, tx, now, "candidate", primaryID, "merge_applied", actor, map[string]any{
		"secondary_candidate_id": secondaryID,
		"decision":               spec.decision,
		"confidence":             spec.confidence,
	}); err != nil {
		return err
	}
	return appendEvent(ctx, tx, now, "candidate", secondaryID, "merged_away", actor, map[string]any{
		"primary_candidate_id": primaryID,
		"decision":             spec.decision,
	})
}

func candidateForUpdate(ctx context.Context, tx *sql.Tx, id string) (*store.Candidate, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM posting_candidates WHERE id = ?", store.CandidateColumns), id)
	c, err := store.ScanCandidate(row)
	if store.IsNoRows(err) {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	return c, err
}

func postingForCandidate(ctx context.Context, tx *sql.Tx, candidateID string) (*store.Posting, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM postings WHERE candidate_id = ?", store.PostingColumns), candidateID)
	p, err := store.ScanPosting(row)
	if store.IsNoRows(err) {
		return nil, nil
	}
	return p, err
}
