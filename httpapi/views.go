package httpapi

import "github.com/sloppyjobs/jobulator/internal/store"

// Wire views over store rows. Timestamps stay Unix milliseconds, the
// store convention.

type jobView struct {
	ID               string         `json:"id"`
	Kind             string         `json:"kind"`
	TargetType       string         `json:"target_type"`
	TargetID         string         `json:"target_id,omitempty"`
	InputsJSON       map[string]any `json:"inputs_json"`
	Status           string         `json:"status"`
	Attempt          int            `json:"attempt"`
	LockedByModuleID string         `json:"locked_by_module_id,omitempty"`
	LeaseExpiresAt   int64          `json:"lease_expires_at,omitempty"`
	NextRunAt        int64          `json:"next_run_at"`
	ResultJSON       map[string]any `json:"result_json,omitempty"`
	ErrorJSON        map[string]any `json:"error_json,omitempty"`
	CreatedAt        int64          `json:"created_at"`
	UpdatedAt        int64          `json:"updated_at"`
}

func viewJob(j *store.Job) jobView {
	return jobView{
		ID:               j.ID,
		Kind:             j.Kind,
		TargetType:       j.TargetType,
		TargetID:         j.TargetID,
		InputsJSON:       j.InputsJSON,
		Status:           j.Status,
		Attempt:          j.Attempt,
		LockedByModuleID: j.LockedByModuleID,
		LeaseExpiresAt:   j.LeaseExpiresAt,
		NextRunAt:        j.NextRunAt,
		ResultJSON:       j.ResultJSON,
		ErrorJSON:        j.ErrorJSON,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}

func viewJobs(jobs []*store.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, viewJob(j))
	}
	return out
}

type postingView struct {
	ID               string           `json:"id"`
	CandidateID      string           `json:"candidate_id,omitempty"`
	Title            string           `json:"title"`
	CanonicalURL     string           `json:"canonical_url"`
	NormalizedURL    string           `json:"normalized_url"`
	CanonicalHash    string           `json:"canonical_hash"`
	OrganizationName string           `json:"organization_name"`
	Sector           string           `json:"sector,omitempty"`
	DegreeLevel      string           `json:"degree_level,omitempty"`
	OpportunityKind  string           `json:"opportunity_kind,omitempty"`
	Country          string           `json:"country,omitempty"`
	Region           string           `json:"region,omitempty"`
	City             string           `json:"city,omitempty"`
	Remote           bool             `json:"remote"`
	Tags             []string         `json:"tags"`
	Areas            []string         `json:"areas"`
	DescriptionText  string           `json:"description_text,omitempty"`
	ApplicationURL   string           `json:"application_url,omitempty"`
	Deadline         string           `json:"deadline,omitempty"`
	SourceRefs       []map[string]any `json:"source_refs"`
	Status           string           `json:"status"`
	PublishedAt      int64            `json:"published_at,omitempty"`
	CreatedAt        int64            `json:"created_at"`
	UpdatedAt        int64            `json:"updated_at"`
}

func viewPosting(p *store.Posting) postingView {
	v := postingView{
		ID:               p.ID,
		CandidateID:      p.CandidateID,
		Title:            p.Title,
		CanonicalURL:     p.CanonicalURL,
		NormalizedURL:    p.NormalizedURL,
		CanonicalHash:    p.CanonicalHash,
		OrganizationName: p.OrganizationName,
		Sector:           p.Sector,
		DegreeLevel:      p.DegreeLevel,
		OpportunityKind:  p.OpportunityKind,
		Country:          p.Country,
		Region:           p.Region,
		City:             p.City,
		Remote:           p.Remote,
		Tags:             p.Tags,
		Areas:            p.Areas,
		DescriptionText:  p.DescriptionText,
		ApplicationURL:   p.ApplicationURL,
		Deadline:         p.Deadline,
		SourceRefs:       p.SourceRefs,
		Status:           p.Status,
		PublishedAt:      p.PublishedAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if v.Areas == nil {
		v.Areas = []string{}
	}
	if v.SourceRefs == nil {
		v.SourceRefs = []map[string]any{}
	}
	return v
}

type candidateView struct {
	ID               string         `json:"id"`
	State            string         `json:"state"`
	DedupeBucketKey  string         `json:"dedupe_bucket_key,omitempty"`
	DedupeConfidence float64        `json:"dedupe_confidence"`
	ExtractedFields  map[string]any `json:"extracted_fields"`
	RiskFlags        []string       `json:"risk_flags"`
	DiscoveryIDs     []string       `json:"discovery_ids,omitempty"`
	PostingID        string         `json:"posting_id,omitempty"`
	CreatedAt        int64          `json:"created_at"`
	UpdatedAt        int64          `json:"updated_at"`
}

func viewCandidate(c *store.Candidate) candidateView {
	v := candidateView{
		ID:               c.ID,
		State:            c.State,
		DedupeBucketKey:  c.DedupeBucketKey,
		DedupeConfidence: c.DedupeConfidence,
		ExtractedFields:  c.ExtractedFields,
		RiskFlags:        c.RiskFlags,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if v.RiskFlags == nil {
		v.RiskFlags = []string{}
	}
	return v
}

type moduleView struct {
	ID         string   `json:"id"`
	ModuleID   string   `json:"module_id"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Enabled    bool     `json:"enabled"`
	Scopes     []string `json:"scopes"`
	TrustLevel string   `json:"trust_level"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

func viewModule(m *store.Module) moduleView {
	v := moduleView{
		ID:         m.ID,
		ModuleID:   m.ModuleID,
		Name:       m.Name,
		Kind:       m.Kind,
		Enabled:    m.Enabled,
		Scopes:     m.Scopes,
		TrustLevel: m.TrustLevel,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if v.Scopes == nil {
		v.Scopes = []string{}
	}
	return v
}

func viewModules(modules []*store.Module) []moduleView {
	out := make([]moduleView, 0, len(modules))
	for _, m := range modules {
		out = append(out, viewModule(m))
	}
	return out
}

type trustPolicyView struct {
	ID                 string         `json:"id"`
	SourceKey          string         `json:"source_key"`
	TrustLevel         string         `json:"trust_level"`
	AutoPublish        bool           `json:"auto_publish"`
	RequiresModeration bool           `json:"requires_moderation"`
	RulesJSON          map[string]any `json:"rules_json"`
	Enabled            bool           `json:"enabled"`
	CreatedAt          int64          `json:"created_at"`
	UpdatedAt          int64          `json:"updated_at"`
}

func viewTrustPolicy(p *store.TrustPolicy) trustPolicyView {
	v := trustPolicyView{
		ID:                 p.ID,
		SourceKey:          p.SourceKey,
		TrustLevel:         p.TrustLevel,
		AutoPublish:        p.AutoPublish,
		RequiresModeration: p.RequiresModeration,
		RulesJSON:          p.RulesJSON,
		Enabled:            p.Enabled,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if v.RulesJSON == nil {
		v.RulesJSON = map[string]any{}
	}
	return v
}

func viewTrustPolicies(policies []*store.TrustPolicy) []trustPolicyView {
	out := make([]trustPolicyView, 0, len(policies))
	for _, p := range policies {
		out = append(out, viewTrustPolicy(p))
	}
	return out
}

type urlRuleView struct {
	ID                 string   `json:"id"`
	HostSuffix         string   `json:"host_suffix"`
	StripWWW           bool     `json:"strip_www"`
	ForceHTTPS         bool     `json:"force_https"`
	StripQueryParams   []string `json:"strip_query_params"`
	StripQueryPrefixes []string `json:"strip_query_prefixes"`
	Enabled            bool     `json:"enabled"`
	CreatedAt          int64    `json:"created_at"`
	UpdatedAt          int64    `json:"updated_at"`
}

func viewURLRule(r *store.URLRule) urlRuleView {
	v := urlRuleView{
		ID:                 r.ID,
		HostSuffix:         r.HostSuffix,
		StripWWW:           r.StripWWW,
		ForceHTTPS:         r.ForceHTTPS,
		StripQueryParams:   r.StripQueryParams,
		StripQueryPrefixes: r.StripQueryPrefixes,
		Enabled:            r.Enabled,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if v.StripQueryParams == nil {
		v.StripQueryParams = []string{}
	}
	if v.StripQueryPrefixes == nil {
		v.StripQueryPrefixes = []string{}
	}
	return v
}

func viewURLRules(rules []*store.URLRule) []urlRuleView {
	out := make([]urlRuleView, 0, len(rules))
	for _, r := range rules {
		out = append(out, viewURLRule(r))
	}
	return out
}

type eventView struct {
	ID         int64          `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	EventType  string         `json:"event_type"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  int64          `json:"created_at"`
}

func viewEvents(events []*store.ProvenanceEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			ID:         e.ID,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			EventType:  e.EventType,
			ActorType:  e.ActorType,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}
