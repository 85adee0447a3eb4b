// Package dedupe scores candidate pairs and decides whether an incoming
// posting candidate should be merged into an existing one. Scoring is a
// pure function over two snapshots; the merge policy ranks the scores and
// maps them to a decision the projection engine can act on.
package dedupe

// Decision is the outcome of the merge policy for an incoming candidate.
type Decision string

const (
	DecisionNone        Decision = "none"
	DecisionAutoMerged  Decision = "auto_merged"
	DecisionNeedsReview Decision = "needs_review"
	DecisionRejected    Decision = "rejected"
)

// NamedEntities are NER results mined from an extraction payload.
type NamedEntities struct {
	Organizations []string
	Locations     []string
	People        []string
}

// Snapshot is the scoring view of a posting candidate. Zero-value string
// fields mean "unknown" and never count as a match.
type Snapshot struct {
	CandidateID      string
	CanonicalHash    string
	NormalizedURL    string
	CanonicalURL     string
	ApplicationURL   string
	Title            string
	OrganizationName string
	DescriptionText  string
	Tags             []string
	Areas            []string
	Country          string
	Region           string
	City             string
	Entities         NamedEntities
	ContactDomains   []string
	HasPosting       bool
}

// Score is the result of scoring one existing candidate against the
// incoming one.
type Score struct {
	CandidateID   string
	Confidence    float64
	StrongSignals []string
	RiskFlags     []string
	HasPosting    bool
	Components    map[string]float64
}

// PolicyDecision is the merge policy outcome over all existing candidates.
type PolicyDecision struct {
	Decision           Decision
	PrimaryCandidateID string
	Confidence         float64
	RiskFlags          []string
	Metadata           map[string]any
}

// Policy holds the merge policy thresholds.
type Policy struct {
	AutoMergeThreshold float64
	ReviewThreshold    float64
	AmbiguityDelta     float64
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		AutoMergeThreshold: 0.93,
		ReviewThreshold:    0.72,
		AmbiguityDelta:     0.03,
	}
}
