package pipeline

import (
	"strings"

	"github.com/sloppyjobs/jobulator/internal/store"
)

// projectionKeys are the top-level result keys that count as a projection
// signal when no nested posting object is present.
var projectionKeys = []string{
	"title", "organization_name", "canonical_url", "normalized_url",
	"canonical_hash", "tags", "areas", "country", "region", "city",
	"description_text", "application_url", "deadline", "source_refs",
}

// ExtractResult is the normalized view of an extract job's result_json.
// Workers may report projection fields either nested under "posting" or
// at the top level; the nested object is authoritative when present. All
// payload coercion happens here, nowhere else.
type ExtractResult struct {
	Title            string
	OrganizationName string
	CanonicalURL     string
	NormalizedURL    string
	CanonicalHash    string
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

	DedupeConfidence float64
	RiskFlags        []string
	SourceKey        string
	CandidateState   string

	// Payload is the authoritative projection object (nested or top
	// level), used for NER and contact mining.
	Payload map[string]any

	HasProjectionSignal bool
	CanProject          bool
}

// normalizeExtractResult resolves the projection fields of result against
// the discovery row, with the fallback chain of the projection contract:
// title falls back to the discovery hint, organization to discovery
// metadata, URLs to the discovery's own URL columns.
func normalizeExtractResult(result map[string]any, d *store.Discovery) ExtractResult {
	if result == nil {
		result = map[string]any{}
	}

	payload := result
	nested, nestedOK := result["posting"].(map[string]any)
	if nestedOK {
		payload = nested
	}

	hasSignal := nestedOK
	if !hasSignal {
		for _, key := range projectionKeys {
			if _, ok := result[key]; ok {
				hasSignal = true
				break
			}
		}
	}

	r := ExtractResult{
		Payload:             payload,
		HasProjectionSignal: hasSignal,

		Title:            coerceString(payload["title"]),
		OrganizationName: coerceString(payload["organization_name"]),
		Sector:           coerceString(payload["sector"]),
		DegreeLevel:      coerceString(payload["degree_level"]),
		OpportunityKind:  coerceString(payload["opportunity_kind"]),
		Country:          coerceString(payload["country"]),
		Region:           coerceString(payload["region"]),
		City:             coerceString(payload["city"]),
		Remote:           coerceBool(payload["remote"]),
		Tags:             coerceStringList(payload["tags"]),
		Areas:            coerceStringList(payload["areas"]),
		DescriptionText:  coerceString(payload["description_text"]),
		ApplicationURL:   coerceString(payload["application_url"]),
		Deadline:         coerceString(payload["deadline"]),
		SourceRefs:       coerceRefList(payload["source_refs"]),

		RiskFlags:        coerceStringList(result["risk_flags"]),
		SourceKey:        coerceString(result["source_key"]),
		CandidateState:   coerceString(result["candidate_state"]),
	}

	// A worker that reports no dedupe confidence is asserting nothing
	// about duplication; the confidence gate must not hold that against
	// an otherwise clean result.
	r.DedupeConfidence = 1.0
	if v, ok := result["dedupe_confidence"]; ok {
		r.DedupeConfidence = coerceFloat(v)
	}

	if r.Title == "" {
		r.Title = d.TitleHint
	}
	if r.OrganizationName == "" {
		r.OrganizationName = coerceString(d.Metadata["organization_name"])
	}

	r.CanonicalURL = firstNonEmpty(
		coerceString(payload["canonical_url"]),
		coerceString(payload["url"]),
		d.URL,
		d.NormalizedURL,
	)
	r.NormalizedURL = firstNonEmpty(
		coerceString(payload["normalized_url"]),
		d.NormalizedURL,
		r.CanonicalURL,
	)
	r.CanonicalHash = firstNonEmpty(
		coerceString(payload["canonical_hash"]),
		d.CanonicalHash,
	)

	r.CanProject = r.HasProjectionSignal &&
		r.Title != "" && r.OrganizationName != "" &&
		r.CanonicalURL != "" && r.NormalizedURL != "" && r.CanonicalHash != ""

	return r
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func coerceString(value any) string {
	s, _ := value.(string)
	return strings.TrimSpace(s)
}

func coerceBool(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case float64:
		return typed != 0
	case int:
		return typed != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

func coerceFloat(value any) float64 {
	switch typed := value.(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	}
	return 0
}

func coerceStringList(value any) []string {
	switch typed := value.(type) {
	case []string:
		return trimList(typed)
	case []any:
		var out []string
		for _, entry := range typed {
			if s, ok := entry.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
		return out
	case string:
		if trimmed := strings.TrimSpace(typed); trimmed != "" {
			return []string{trimmed}
		}
	}
	return nil
}

func trimList(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func coerceRefList(value any) []map[string]any {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	var refs []map[string]any
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			refs = append(refs, m)
		}
	}
	return refs
}
