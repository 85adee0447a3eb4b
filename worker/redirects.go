package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sloppyjobs/jobulator/urlnorm"
)

// ResolveRedirects follows the redirect chain of a discovery URL and
// returns the resolved triple the control plane writes back onto the
// discovery. HEAD first; servers that refuse HEAD get a GET.
func ResolveRedirects(ctx context.Context, client *http.Client, rawURL string, rules []urlnorm.Rule) (map[string]any, error) {
	if client == nil {
		client = http.DefaultClient
	}

	final, err := followURL(ctx, client, http.MethodHead, rawURL)
	if err != nil || final == "" {
		final, err = followURL(ctx, client, http.MethodGet, rawURL)
		if err != nil {
			return nil, fmt.Errorf("worker: resolve redirects: %w", err)
		}
	}

	normalized, err := urlnorm.Normalize(final, rules)
	if err != nil {
		return nil, fmt.Errorf("worker: normalize resolved url: %w", err)
	}
	return map[string]any{
		"url":            final,
		"normalized_url": normalized,
		"canonical_hash": urlnorm.Hash(normalized),
	}, nil
}

func followURL(ctx context.Context, client *http.Client, method, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	if method == http.MethodHead && resp.StatusCode == http.StatusMethodNotAllowed {
		return "", nil
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Request.URL.String(), nil
}

// rulesFromInputs decodes the url_rules override snapshot the control
// plane overlays into resolve_url_redirects job inputs.
func rulesFromInputs(inputs map[string]any) []urlnorm.Rule {
	raw, ok := inputs["url_rules"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var rules []urlnorm.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil
	}
	return rules
}
