// Package urlnorm canonicalizes discovery URLs. The normalized form is the
// idempotency and dedupe seed for the whole pipeline: the same input plus
// the same override rules must always produce byte-identical output, and
// the canonical hash is SHA-256 over that output.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned when the input cannot be parsed as a URL.
var ErrInvalidURL = fmt.Errorf("urlnorm: invalid url")

// trackingKeys are query parameters always dropped, independent of overrides.
var trackingKeys = map[string]bool{
	"ref":    true,
	"fbclid": true,
	"gclid":  true,
}

// Rule is a per-host normalization override. HostSuffix is matched against
// the URL host by whole labels, longest suffix first ("example.edu" matches
// both "example.edu" and "jobs.example.edu").
type Rule struct {
	HostSuffix         string   `json:"host_suffix"`
	StripWWW           bool     `json:"strip_www"`
	ForceHTTPS         bool     `json:"force_https"`
	StripQueryParams   []string `json:"strip_query_params"`
	StripQueryPrefixes []string `json:"strip_query_prefixes"`
}

// Normalize canonicalizes raw in a fixed order:
// lowercase scheme/host, strip default ports, apply the longest-suffix
// host override, collapse the path, filter and sort query params, drop
// the fragment. Non-http(s) URLs are returned unchanged.
func Normalize(raw string, rules []Rule) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		// Internal or synthetic schemes pass through untouched.
		return trimmed, nil
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	host := strings.ToLower(parsed.Host)
	if h, port, ok := strings.Cut(host, ":"); ok {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
		}
	}

	rule := matchRule(host, rules)
	if rule != nil {
		if rule.StripWWW {
			host = strings.TrimPrefix(host, "www.")
		}
		if rule.ForceHTTPS {
			scheme = "https"
		}
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	} else if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	query := normalizeQuery(parsed.RawQuery, rule)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String(), nil
}

// Hash returns the hex SHA-256 of the normalized URL.
func Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// matchRule picks the rule whose HostSuffix matches host on whole labels,
// preferring the suffix with the most labels.
func matchRule(host string, rules []Rule) *Rule {
	hostLabels := strings.Split(host, ".")

	var best *Rule
	bestLen := 0
	for i := range rules {
		suffix := strings.ToLower(strings.TrimSpace(rules[i].HostSuffix))
		if suffix == "" {
			continue
		}
		ruleLabels := strings.Split(suffix, ".")
		if len(ruleLabels) > len(hostLabels) {
			continue
		}
		matched := true
		for j := 1; j <= len(ruleLabels); j++ {
			if hostLabels[len(hostLabels)-j] != ruleLabels[len(ruleLabels)-j] {
				matched = false
				break
			}
		}
		if matched && len(ruleLabels) > bestLen {
			best = &rules[i]
			bestLen = len(ruleLabels)
		}
	}
	return best
}

func normalizeQuery(rawQuery string, rule *Rule) string {
	if rawQuery == "" {
		return ""
	}

	type pair struct{ key, value string }
	var pairs []pair

	for _, chunk := range strings.Split(rawQuery, "&") {
		if chunk == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(chunk, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			key = rawKey
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			value = rawValue
		}
		if dropParam(strings.ToLower(key), rule) {
			continue
		}
		pairs = append(pairs, pair{key: key, value: value})
	}

	// Stable sort by key: duplicates keep their original relative order.
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

func dropParam(key string, rule *Rule) bool {
	if strings.HasPrefix(key, "utm_") || trackingKeys[key] {
		return true
	}
	if rule == nil {
		return false
	}
	for _, p := range rule.StripQueryParams {
		if key == strings.ToLower(strings.TrimSpace(p)) {
			return true
		}
	}
	for _, p := range rule.StripQueryPrefixes {
		prefix := strings.ToLower(strings.TrimSpace(p))
		if prefix != "" && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
