// Package lifecycle guards the candidate and posting state machines and
// holds the cross-entity derivation maps used when one side drives the
// other. Transition checks are pure; callers abort their transaction on
// a guard failure.
package lifecycle

import "fmt"

// CandidateState is the moderation state of a posting candidate.
type CandidateState string

const (
	CandidateDiscovered  CandidateState = "discovered"
	CandidateProcessed   CandidateState = "processed"
	CandidatePublishable CandidateState = "publishable"
	CandidateNeedsReview CandidateState = "needs_review"
	CandidatePublished   CandidateState = "published"
	CandidateRejected    CandidateState = "rejected"
	CandidateArchived    CandidateState = "archived"
	CandidateClosed      CandidateState = "closed"
)

// PostingStatus is the public lifecycle status of a posting.
type PostingStatus string

const (
	PostingActive   PostingStatus = "active"
	PostingStale    PostingStatus = "stale"
	PostingArchived PostingStatus = "archived"
	PostingClosed   PostingStatus = "closed"
)

var candidateTransitions = map[CandidateState]map[CandidateState]bool{
	CandidateDiscovered:  {CandidateProcessed: true, CandidateNeedsReview: true, CandidateRejected: true, CandidateArchived: true},
	CandidateProcessed:   {CandidatePublishable: true, CandidateNeedsReview: true, CandidateRejected: true, CandidateArchived: true},
	CandidateNeedsReview: {CandidatePublishable: true, CandidateRejected: true, CandidateArchived: true, CandidateProcessed: true},
	CandidatePublishable: {CandidatePublished: true, CandidateRejected: true, CandidateNeedsReview: true, CandidateArchived: true},
	CandidatePublished:   {CandidateArchived: true, CandidateClosed: true},
	CandidateArchived:    {CandidatePublished: true, CandidateClosed: true},
	CandidateClosed:      {CandidateArchived: true},
	CandidateRejected:    {CandidateNeedsReview: true, CandidateArchived: true},
}

var postingTransitions = map[PostingStatus]map[PostingStatus]bool{
	PostingActive:   {PostingStale: true, PostingArchived: true, PostingClosed: true},
	PostingStale:    {PostingActive: true, PostingArchived: true, PostingClosed: true},
	PostingArchived: {PostingActive: true, PostingStale: true, PostingClosed: true},
	PostingClosed:   {PostingArchived: true},
}

// ValidCandidateState reports whether s is a known candidate state.
func ValidCandidateState(s CandidateState) bool {
	_, ok := candidateTransitions[s]
	return ok
}

// ValidPostingStatus reports whether s is a known posting status.
func ValidPostingStatus(s PostingStatus) bool {
	_, ok := postingTransitions[s]
	return ok
}

// CheckCandidateTransition validates from → to. Identity transitions are
// always allowed.
func CheckCandidateTransition(from, to CandidateState) error {
	if !ValidCandidateState(from) {
		return fmt.Errorf("lifecycle: unknown candidate state %q", from)
	}
	if !ValidCandidateState(to) {
		return fmt.Errorf("lifecycle: unknown candidate state %q", to)
	}
	if from == to || candidateTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("lifecycle: candidate transition %s -> %s not allowed", from, to)
}

// CheckPostingTransition validates from → to. Identity transitions are
// always allowed.
func CheckPostingTransition(from, to PostingStatus) error {
	if !ValidPostingStatus(from) {
		return fmt.Errorf("lifecycle: unknown posting status %q", from)
	}
	if !ValidPostingStatus(to) {
		return fmt.Errorf("lifecycle: unknown posting status %q", to)
	}
	if from == to || postingTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("lifecycle: posting transition %s -> %s not allowed", from, to)
}

// DerivedPostingStatus maps a candidate state to the posting status it
// drives, when any. ok is false for states with no projection.
func DerivedPostingStatus(state CandidateState) (PostingStatus, bool) {
	switch state {
	case CandidatePublished:
		return PostingActive, true
	case CandidateArchived:
		return PostingArchived, true
	case CandidateClosed:
		return PostingClosed, true
	case CandidateRejected:
		return PostingArchived, true
	}
	return "", false
}

// DerivedCandidateState maps a posting status to the candidate state it
// drives.
func DerivedCandidateState(status PostingStatus) (CandidateState, bool) {
	switch status {
	case PostingActive, PostingStale:
		return CandidatePublished, true
	case PostingArchived:
		return CandidateArchived, true
	case PostingClosed:
		return CandidateClosed, true
	}
	return "", false
}
