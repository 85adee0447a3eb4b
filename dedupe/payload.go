package dedupe

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@([A-Z0-9.-]+\.[A-Z]{2,})\b`)

// ExtractNamedEntities mines NER output from an extraction payload.
// Two shapes are accepted: a map of label → values ({"org": [...], ...})
// or a list of {type|label, text|value} objects.
func ExtractNamedEntities(payload map[string]any) NamedEntities {
	if payload == nil {
		return NamedEntities{}
	}

	raw := payload["ner"]
	if raw == nil {
		raw = payload["named_entities"]
	}
	if raw == nil {
		raw = payload["entities"]
	}

	var organizations, locations, people []string

	switch typed := raw.(type) {
	case map[string]any:
		for _, key := range []string{"org", "orgs", "organization", "organizations"} {
			organizations = append(organizations, textValues(typed[key])...)
		}
		for _, key := range []string{"location", "locations", "place", "places"} {
			locations = append(locations, textValues(typed[key])...)
		}
		for _, key := range []string{"person", "people", "persons"} {
			people = append(people, textValues(typed[key])...)
		}
	case []any:
		for _, item := range typed {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			label := coerceText(entry["type"])
			if label == "" {
				label = coerceText(entry["label"])
			}
			value := coerceText(entry["text"])
			if value == "" {
				value = coerceText(entry["value"])
			}
			if value == "" {
				continue
			}
			switch strings.ToUpper(strings.TrimSpace(label)) {
			case "ORG", "ORGANIZATION":
				organizations = append(organizations, value)
			case "LOC", "LOCATION", "GPE":
				locations = append(locations, value)
			case "PERSON", "PER":
				people = append(people, value)
			}
		}
	}

	return NamedEntities{
		Organizations: dedupeList(organizations),
		Locations:     dedupeList(locations),
		People:        dedupeList(people),
	}
}

// ExtractContactDomains pulls email domains out of the contact fields of
// an extraction payload.
func ExtractContactDomains(payload map[string]any) []string {
	if payload == nil {
		return nil
	}
	var candidates []string
	for _, key := range []string{"contact_email", "contact_emails", "email", "emails", "contact"} {
		candidates = append(candidates, textValues(payload[key])...)
	}
	var domains []string
	for _, candidate := range candidates {
		for _, match := range emailRe.FindAllStringSubmatch(candidate, -1) {
			domains = append(domains, strings.ToLower(match[1]))
		}
	}
	return dedupeList(domains)
}

func coerceText(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	default:
		return ""
	}
}

func textValues(value any) []string {
	switch typed := value.(type) {
	case string:
		if trimmed := strings.TrimSpace(typed); trimmed != "" {
			return []string{trimmed}
		}
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
	case []string:
		var out []string
		for _, s := range typed {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return nil
}
