package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier resolves human principals from bearer tokens. With an
// IssuerURL it calls the identity provider's userinfo endpoint; with a
// LocalSecret it validates HS256 tokens locally, which is the
// development and test mode.
type TokenVerifier struct {
	IssuerURL   string
	LocalSecret string
	HTTPClient  *http.Client
}

// NewTokenVerifier builds a verifier. The outbound timeout is bounded so
// a stuck provider degrades to Unavailable instead of hanging requests.
func NewTokenVerifier(issuerURL, localSecret string) *TokenVerifier {
	return &TokenVerifier{
		IssuerURL:   strings.TrimRight(issuerURL, "/"),
		LocalSecret: localSecret,
		HTTPClient:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Verify resolves a human principal from a bearer token.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	if v.LocalSecret != "" {
		return v.verifyLocal(token)
	}
	if v.IssuerURL != "" {
		return v.verifyRemote(ctx, token)
	}
	return Principal{}, fmt.Errorf("%w: no identity provider configured", ErrUnavailable)
}

type userinfoResponse struct {
	Sub         string `json:"sub"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

func (v *TokenVerifier) verifyRemote(ctx context.Context, token string) (Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.IssuerURL+"/userinfo", nil)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Principal{}, fmt.Errorf("%w: identity provider rejected token", ErrUnauthorized)
	default:
		return Principal{}, fmt.Errorf("%w: identity provider returned %d", ErrUnavailable, resp.StatusCode)
	}

	var info userinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if info.Sub == "" {
		return Principal{}, fmt.Errorf("%w: userinfo without subject", ErrUnauthorized)
	}
	return humanPrincipal(info.Sub, info.AppMetadata.Role), nil
}

func (v *TokenVerifier) verifyLocal(token string) (Principal, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(v.LocalSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, fmt.Errorf("%w: token without subject", ErrUnauthorized)
	}

	role := ""
	if meta, ok := claims["app_metadata"].(map[string]any); ok {
		role, _ = meta["role"].(string)
	}
	return humanPrincipal(sub, role), nil
}

func humanPrincipal(userID, role string) Principal {
	return Principal{
		Kind:   KindHuman,
		UserID: userID,
		Role:   role,
		Scopes: roleScopes(role),
	}
}
