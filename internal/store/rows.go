package store

import (
	"database/sql"
	"errors"
)

// Discovery is a connector-reported observation of a potential
// opportunity URL.
type Discovery struct {
	ID             string
	OriginModuleID string
	ExternalID     string
	DiscoveredAt   int64
	URL            string
	NormalizedURL  string
	CanonicalHash  string
	TitleHint      string
	TextHint       string
	Metadata       map[string]any
	CreatedAt      int64
	UpdatedAt      int64
}

// DiscoveryColumns is the canonical SELECT list for ScanDiscovery.
const DiscoveryColumns = `id, origin_module_id, COALESCE(external_id,''),
	discovered_at, COALESCE(url,''), COALESCE(normalized_url,''),
	COALESCE(canonical_hash,''), COALESCE(title_hint,''), COALESCE(text_hint,''),
	metadata, created_at, updated_at`

// ScanDiscovery scans a row selected with DiscoveryColumns.
func ScanDiscovery(row Scanner) (*Discovery, error) {
	var d Discovery
	var metadata string
	err := row.Scan(
		&d.ID, &d.OriginModuleID, &d.ExternalID,
		&d.DiscoveredAt, &d.URL, &d.NormalizedURL,
		&d.CanonicalHash, &d.TitleHint, &d.TextHint,
		&metadata, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Metadata = UnmarshalJSON(metadata)
	return &d, nil
}

// Evidence is a captured artifact attached to a discovery.
type Evidence struct {
	ID          string
	DiscoveryID string
	Kind        string
	URI         string
	ContentHash string
	CapturedAt  int64
	ContentType string
	ByteSize    int64
	Metadata    map[string]any
	CreatedAt   int64
}

// Job is one unit of machine work in the leased queue.
type Job struct {
	ID               string
	Kind             string
	TargetType       string
	TargetID         string
	InputsJSON       map[string]any
	Status           string
	Attempt          int
	LockedByModuleID string
	LockedAt         int64
	LeaseExpiresAt   int64
	NextRunAt        int64
	ResultJSON       map[string]any
	ErrorJSON        map[string]any
	CreatedAt        int64
	UpdatedAt        int64
}

// JobColumns is the canonical SELECT list for ScanJob.
const JobColumns = `id, kind, target_type, COALESCE(target_id,''), inputs_json,
	status, attempt, COALESCE(locked_by_module_id,''), COALESCE(locked_at,0),
	COALESCE(lease_expires_at,0), next_run_at, COALESCE(result_json,''),
	COALESCE(error_json,''), created_at, updated_at`

// ScanJob scans a row selected with JobColumns.
func ScanJob(row Scanner) (*Job, error) {
	var j Job
	var inputs, result, errJSON string
	err := row.Scan(
		&j.ID, &j.Kind, &j.TargetType, &j.TargetID, &inputs,
		&j.Status, &j.Attempt, &j.LockedByModuleID, &j.LockedAt,
		&j.LeaseExpiresAt, &j.NextRunAt, &result,
		&errJSON, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.InputsJSON = UnmarshalJSON(inputs)
	if result != "" {
		j.ResultJSON = UnmarshalJSON(result)
	}
	if errJSON != "" {
		j.ErrorJSON = UnmarshalJSON(errJSON)
	}
	return &j, nil
}

// Candidate is the internal working record between discovery and posting.
type Candidate struct {
	ID               string
	State            string
	DedupeBucketKey  string
	DedupeConfidence float64
	ExtractedFields  map[string]any
	RiskFlags        []string
	CreatedAt        int64
	UpdatedAt        int64
}

// CandidateColumns is the canonical SELECT list for ScanCandidate.
const CandidateColumns = `id, state, COALESCE(dedupe_bucket_key,''),
	COALESCE(dedupe_confidence,0), extracted_fields, risk_flags,
	created_at, updated_at`

// ScanCandidate scans a row selected with CandidateColumns.
func ScanCandidate(row Scanner) (*Candidate, error) {
	var c Candidate
	var fields, flags string
	err := row.Scan(
		&c.ID, &c.State, &c.DedupeBucketKey,
		&c.DedupeConfidence, &fields, &flags,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ExtractedFields = UnmarshalJSON(fields)
	c.RiskFlags = UnmarshalList(flags)
	return &c, nil
}

// Posting is the public canonical opportunity record.
type Posting struct {
	ID               string
	CandidateID      string
	Title            string
	CanonicalURL     string
	NormalizedURL    string
	CanonicalHash    string
	OrganizationName string
	Sector           string
	DegreeLevel      string
	OpportunityKind  string
	Country          string
	Region           string
	City             string
	Remote           bool
	Tags             []string
	Areas            []string
	DescriptionText  string
	ApplicationURL   string
	Deadline         string
	SourceRefs       []map[string]any
	Status           string
	PublishedAt      int64
	CreatedAt        int64
	UpdatedAt        int64
}

// PostingColumns is the canonical SELECT list for ScanPosting.
const PostingColumns = `id, COALESCE(candidate_id,''), title, canonical_url,
	normalized_url, canonical_hash, organization_name, COALESCE(sector,''),
	COALESCE(degree_level,''), COALESCE(opportunity_kind,''), COALESCE(country,''),
	COALESCE(region,''), COALESCE(city,''), remote, tags, areas,
	COALESCE(description_text,''), COALESCE(application_url,''), COALESCE(deadline,''),
	source_refs, status, COALESCE(published_at,0), created_at, updated_at`

// ScanPosting scans a row selected with PostingColumns.
func ScanPosting(row Scanner) (*Posting, error) {
	var p Posting
	var remote int
	var tags, areas, refs string
	err := row.Scan(
		&p.ID, &p.CandidateID, &p.Title, &p.CanonicalURL,
		&p.NormalizedURL, &p.CanonicalHash, &p.OrganizationName, &p.Sector,
		&p.DegreeLevel, &p.OpportunityKind, &p.Country,
		&p.Region, &p.City, &remote, &tags, &areas,
		&p.DescriptionText, &p.ApplicationURL, &p.Deadline,
		&refs, &p.Status, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Remote = remote != 0
	p.Tags = UnmarshalList(tags)
	p.Areas = UnmarshalList(areas)
	p.SourceRefs = unmarshalRefList(refs)
	return &p, nil
}

// MergeDecision is a recorded dedupe outcome for a candidate pair.
type MergeDecision struct {
	ID                   string
	PrimaryCandidateID   string
	SecondaryCandidateID string
	Decision             string
	Confidence           float64
	DecidedBy            string
	Rationale            string
	Metadata             map[string]any
	CreatedAt            int64
}

// Module is a registered machine principal (connector or processor).
type Module struct {
	ID         string
	ModuleID   string
	Name       string
	Kind       string
	Enabled    bool
	Scopes     []string
	TrustLevel string
	CreatedAt  int64
	UpdatedAt  int64
}

// ModuleColumns is the canonical SELECT list for ScanModule.
const ModuleColumns = `id, module_id, name, kind, enabled, scopes, trust_level,
	created_at, updated_at`

// ScanModule scans a row selected with ModuleColumns.
func ScanModule(row Scanner) (*Module, error) {
	var m Module
	var enabled int
	var scopes string
	err := row.Scan(
		&m.ID, &m.ModuleID, &m.Name, &m.Kind, &enabled, &scopes, &m.TrustLevel,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Enabled = enabled != 0
	m.Scopes = UnmarshalList(scopes)
	return &m, nil
}

// TrustPolicy is a stored source-trust policy row.
type TrustPolicy struct {
	ID                 string
	SourceKey          string
	TrustLevel         string
	AutoPublish        bool
	RequiresModeration bool
	RulesJSON          map[string]any
	Enabled            bool
	CreatedAt          int64
	UpdatedAt          int64
}

// TrustPolicyColumns is the canonical SELECT list for ScanTrustPolicy.
const TrustPolicyColumns = `id, source_key, trust_level, auto_publish,
	requires_moderation, rules_json, enabled, created_at, updated_at`

// ScanTrustPolicy scans a row selected with TrustPolicyColumns.
func ScanTrustPolicy(row Scanner) (*TrustPolicy, error) {
	var p TrustPolicy
	var autoPublish, requiresModeration, enabled int
	var rules string
	err := row.Scan(
		&p.ID, &p.SourceKey, &p.TrustLevel, &autoPublish,
		&requiresModeration, &rules, &enabled, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AutoPublish = autoPublish != 0
	p.RequiresModeration = requiresModeration != 0
	p.RulesJSON = UnmarshalJSON(rules)
	p.Enabled = enabled != 0
	return &p, nil
}

// URLRule is a stored per-host normalization override.
type URLRule struct {
	ID                 string
	HostSuffix         string
	StripWWW           bool
	ForceHTTPS         bool
	StripQueryParams   []string
	StripQueryPrefixes []string
	Enabled            bool
	CreatedAt          int64
	UpdatedAt          int64
}

// URLRuleColumns is the canonical SELECT list for ScanURLRule.
const URLRuleColumns = `id, host_suffix, strip_www, force_https,
	strip_query_params, strip_query_prefixes, enabled, created_at, updated_at`

// ScanURLRule scans a row selected with URLRuleColumns.
func ScanURLRule(row Scanner) (*URLRule, error) {
	var r URLRule
	var stripWWW, forceHTTPS, enabled int
	var params, prefixes string
	err := row.Scan(
		&r.ID, &r.HostSuffix, &stripWWW, &forceHTTPS,
		&params, &prefixes, &enabled, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.StripWWW = stripWWW != 0
	r.ForceHTTPS = forceHTTPS != 0
	r.StripQueryParams = UnmarshalList(params)
	r.StripQueryPrefixes = UnmarshalList(prefixes)
	r.Enabled = enabled != 0
	return &r, nil
}

// ProvenanceEvent is one append-only audit row.
type ProvenanceEvent struct {
	ID         int64
	EntityType string
	EntityID   string
	EventType  string
	ActorType  string
	ActorID    string
	Payload    map[string]any
	CreatedAt  int64
}

// IsNoRows reports whether err is sql.ErrNoRows, unwrapping as needed.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func unmarshalRefList(raw string) []map[string]any {
	if raw == "" {
		return nil
	}
	var refs []map[string]any
	if err := jsonUnmarshal(raw, &refs); err != nil {
		return nil
	}
	return refs
}
