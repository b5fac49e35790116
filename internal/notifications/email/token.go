package email

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"

	"hearth/internal/types"
)

// tokenBytes gives 256 bits of entropy.
const tokenBytes = 32

var tokenShape = regexp.MustCompile(`^[A-Za-z0-9_-]{32,128}$`)

// GenerateToken returns a new URL-safe unsubscribe token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalTokenGen, "failed to generate unsubscribe token", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidTokenShape reports whether token could have been produced by
// GenerateToken. It is checked before any lookup.
func ValidTokenShape(token string) bool {
	return tokenShape.MatchString(token)
}

// TokenStore persists tokens. EnsureUnsubscribeToken stores candidate only
// when the client has no token yet and returns whichever token is stored.
type TokenStore interface {
	EnsureUnsubscribeToken(ctx context.Context, clientID, candidate string) (string, error)
}

// TokenService issues unsubscribe tokens lazily and builds the links that
// carry them.
type TokenService struct {
	store    TokenStore
	baseURL  string
	generate func() (string, error)
}

// NewTokenService validates siteBaseURL, which must be absolute.
func NewTokenService(store TokenStore, siteBaseURL string) (*TokenService, error) {
	base := strings.TrimRight(strings.TrimSpace(siteBaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, types.NewAppError(types.ErrCodeConfigSiteBaseURL, "site base URL must be absolute", err)
	}
	return &TokenService{store: store, baseURL: base, generate: GenerateToken}, nil
}

// UnsubscribeURL returns the absolute self-service unsubscribe link.
func (s *TokenService) UnsubscribeURL(token string) string {
	return s.baseURL + "/unsubscribe?token=" + url.QueryEscape(token)
}

// Ensure returns the recipient's token, generating and persisting one if
// it has none. When another writer stored a token first, that token wins.
// An error means no traceable link exists and the recipient must not be
// mailed.
func (s *TokenService) Ensure(ctx context.Context, r types.BlastRecipient) (string, error) {
	if r.UnsubscribeToken != "" {
		return r.UnsubscribeToken, nil
	}
	candidate, err := s.generate()
	if err != nil {
		return "", err
	}
	stored, err := s.store.EnsureUnsubscribeToken(ctx, r.ID, candidate)
	if err != nil {
		return "", err
	}
	return stored, nil
}
