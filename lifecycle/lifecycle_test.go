package lifecycle

import "testing"

func TestCandidateTransitions(t *testing.T) {
	allowed := [][2]CandidateState{
		{CandidateDiscovered, CandidateProcessed},
		{CandidateProcessed, CandidatePublishable},
		{CandidatePublishable, CandidatePublished},
		{CandidatePublished, CandidateArchived},
		{CandidateArchived, CandidatePublished},
		{CandidateNeedsReview, CandidateRejected},
		{CandidateRejected, CandidateNeedsReview},
		{CandidateClosed, CandidateArchived},
		{CandidatePublished, CandidatePublished}, // identity
	}
	for _, pair := range allowed {
		if err := CheckCandidateTransition(pair[0], pair[1]); err != nil {
			t.Fatalf("%s -> %s: %v", pair[0], pair[1], err)
		}
	}

	refused := [][2]CandidateState{
		{CandidateDiscovered, CandidatePublished},
		{CandidatePublished, CandidateNeedsReview},
		{CandidateRejected, CandidatePublished},
		{CandidateClosed, CandidatePublished},
		{CandidateProcessed, CandidatePublished},
	}
	for _, pair := range refused {
		if err := CheckCandidateTransition(pair[0], pair[1]); err == nil {
			t.Fatalf("%s -> %s unexpectedly allowed", pair[0], pair[1])
		}
	}

	if err := CheckCandidateTransition("bogus", CandidatePublished); err == nil {
		t.Fatal("unknown from state unexpectedly allowed")
	}
	if err := CheckCandidateTransition(CandidateDiscovered, "bogus"); err == nil {
		t.Fatal("unknown to state unexpectedly allowed")
	}
}

func TestPostingTransitions(t *testing.T) {
	allowed := [][2]PostingStatus{
		{PostingActive, PostingStale},
		{PostingStale, PostingActive},
		{PostingStale, PostingArchived},
		{PostingArchived, PostingActive},
		{PostingClosed, PostingArchived},
		{PostingActive, PostingActive}, // identity
	}
	for _, pair := range allowed {
		if err := CheckPostingTransition(pair[0], pair[1]); err != nil {
			t.Fatalf("%s -> %s: %v", pair[0], pair[1], err)
		}
	}

	if err := CheckPostingTransition(PostingClosed, PostingActive); err == nil {
		t.Fatal("closed -> active unexpectedly allowed")
	}
	if err := CheckPostingTransition(PostingClosed, PostingStale); err == nil {
		t.Fatal("closed -> stale unexpectedly allowed")
	}
}

func TestDerivedPostingStatus(t *testing.T) {
	cases := map[CandidateState]struct {
		status PostingStatus
		ok     bool
	}{
		CandidatePublished:  {PostingActive, true},
		CandidateArchived:   {PostingArchived, true},
		CandidateClosed:     {PostingClosed, true},
		CandidateRejected:   {PostingArchived, true},
		CandidateProcessed:  {"", false},
		CandidateDiscovered: {"", false},
	}
	for state, want := range cases {
		got, ok := DerivedPostingStatus(state)
		if ok != want.ok || got != want.status {
			t.Fatalf("%s: got (%s, %v), want (%s, %v)", state, got, ok, want.status, want.ok)
		}
	}
}

func TestDerivedCandidateState(t *testing.T) {
	cases := map[PostingStatus]CandidateState{
		PostingActive:   CandidatePublished,
		PostingStale:    CandidatePublished,
		PostingArchived: CandidateArchived,
		PostingClosed:   CandidateClosed,
	}
	for status, want := range cases {
		got, ok := DerivedCandidateState(status)
		if !ok || got != want {
			t.Fatalf("%s: got (%s, %v), want %s", status, got, ok, want)
		}
	}
	if _, ok := DerivedCandidateState("bogus"); ok {
		t.Fatal("unknown status derived a candidate state")
	}
}
