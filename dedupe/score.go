package dedupe

import (
	"math"
	"net/url"
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "at": true, "for": true,
	"from": true, "in": true, "of": true, "on": true, "or": true,
	"the": true, "to": true, "with": true,
}

// ScorePair scores existing against incoming. Strong URL/hash signals are
// additive; textual similarity is weighted; NER overlaps break ties. When
// no strong signal fires the score is capped at 0.89 so pure text overlap
// can never auto-merge.
func ScorePair(incoming, existing Snapshot) Score {
	var strong []string
	score := 0.0

	if equalNonEmpty(incoming.CanonicalHash, existing.CanonicalHash) {
		strong = append(strong, "canonical_hash")
		score += 0.65
	}
	if equalNonEmpty(incoming.NormalizedURL, existing.NormalizedURL) {
		strong = append(strong, "normalized_url")
		score += 0.20
	}
	if equalNonEmpty(incoming.CanonicalURL, existing.CanonicalURL) {
		strong = append(strong, "canonical_url")
		score += 0.15
	}
	if equalNonEmpty(incoming.ApplicationURL, existing.ApplicationURL) {
		strong = append(strong, "application_url")
		score += 0.10
	}

	titleSim := jaccard(tokenize(incoming.Title), tokenize(existing.Title))
	orgSim := organizationSimilarity(incoming.OrganizationName, existing.OrganizationName)
	phraseSim := jaccard(phraseTokens(incoming), phraseTokens(existing))

	mediumScore := 0.45*titleSim + 0.25*orgSim + 0.10*phraseSim
	score += mediumScore

	orgNER := jaccard(normalizedSet(incoming.Entities.Organizations), normalizedSet(existing.Entities.Organizations))
	locOverlap := jaccard(
		union(normalizedSet(incoming.Entities.Locations), locationSet(incoming)),
		union(normalizedSet(existing.Entities.Locations), locationSet(existing)),
	)
	personOverlap := jaccard(normalizedSet(incoming.Entities.People), normalizedSet(existing.Entities.People))
	domainOverlap := jaccard(domainSet(incoming), domainSet(existing))
	contactOverlap := jaccard(normalizedSet(incoming.ContactDomains), normalizedSet(existing.ContactDomains))

	tieBreak := 0.10*orgNER + 0.05*locOverlap + 0.05*personOverlap + 0.05*domainOverlap + 0.05*contactOverlap
	score += tieBreak

	if len(strong) == 0 {
		score = math.Min(score, 0.89)
	}
	confidence := math.Min(score, 0.9999)

	return Score{
		CandidateID:   existing.CandidateID,
		Confidence:    confidence,
		StrongSignals: strong,
		RiskFlags:     riskFlags(incoming, existing, confidence, strong, titleSim, orgSim),
		HasPosting:    existing.HasPosting,
		Components: map[string]float64{
			"title_similarity":          round4(titleSim),
			"organization_similarity":   round4(orgSim),
			"phrase_similarity":         round4(phraseSim),
			"org_ner_overlap":           round4(orgNER),
			"location_overlap":          round4(locOverlap),
			"person_overlap":            round4(personOverlap),
			"domain_overlap":            round4(domainOverlap),
			"contact_domain_overlap":    round4(contactOverlap),
			"medium_score":              round4(mediumScore),
			"tie_break_score":           round4(tieBreak),
		},
	}
}

func riskFlags(incoming, existing Snapshot, confidence float64, strong []string, titleSim, orgSim float64) []string {
	var flags []string
	if len(strong) == 0 && confidence >= 0.72 {
		flags = append(flags, "manual_review_low_signal")
	}

	if incoming.CanonicalHash != "" && existing.CanonicalHash != "" &&
		incoming.CanonicalHash != existing.CanonicalHash &&
		(equalNonEmpty(incoming.NormalizedURL, existing.NormalizedURL) ||
			equalNonEmpty(incoming.CanonicalURL, existing.CanonicalURL)) {
		flags = append(flags, "conflict_hash_mismatch")
	}

	if len(strong) > 0 && incoming.OrganizationName != "" && existing.OrganizationName != "" && orgSim < 0.25 {
		flags = append(flags, "conflict_organization_mismatch")
	}
	if len(strong) > 0 && incoming.Title != "" && existing.Title != "" && titleSim < 0.25 {
		flags = append(flags, "conflict_title_mismatch")
	}
	if len(strong) > 0 && incoming.ApplicationURL != "" && existing.ApplicationURL != "" &&
		incoming.ApplicationURL != existing.ApplicationURL {
		flags = append(flags, "conflict_application_url_mismatch")
	}

	return dedupeList(flags)
}

func equalNonEmpty(left, right string) bool {
	return left != "" && right != "" && left == right
}

func organizationSimilarity(left, right string) float64 {
	if left == "" || right == "" {
		return 0.0
	}
	if strings.EqualFold(left, right) {
		return 1.0
	}
	return jaccard(tokenize(left), tokenize(right))
}

func phraseTokens(s Snapshot) map[string]bool {
	terms := make([]string, 0, len(s.Tags)+len(s.Areas)+1)
	terms = append(terms, s.Tags...)
	terms = append(terms, s.Areas...)
	if s.DescriptionText != "" {
		terms = append(terms, s.DescriptionText)
	}
	return tokenize(strings.Join(terms, " "))
}

func locationSet(s Snapshot) map[string]bool {
	return normalizedSet([]string{s.Country, s.Region, s.City})
}

func domainSet(s Snapshot) map[string]bool {
	var domains []string
	for _, raw := range []string{s.CanonicalURL, s.NormalizedURL, s.ApplicationURL} {
		if host := parseHost(raw); host != "" {
			domains = append(domains, host)
		}
	}
	return normalizedSet(domains)
}

func parseHost(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parsed.Hostname()))
}

func tokenize(value string) map[string]bool {
	if value == "" {
		return nil
	}
	tokens := tokenRe.FindAllString(strings.ToLower(value), -1)
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if !stopWords[tok] {
			set[tok] = true
		}
	}
	return set
}

func normalizedSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" {
			set[strings.ToLower(v)] = true
		}
	}
	return set
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func jaccard(left, right map[string]bool) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0.0
	}
	intersection := 0
	for k := range left {
		if right[k] {
			intersection++
		}
	}
	unionSize := len(left) + len(right) - intersection
	if unionSize <= 0 {
		return 0.0
	}
	return float64(intersection) / float64(unionSize)
}

func dedupeList(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
