package auth

import (
	"net/http"
	"strings"
	"time"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/metrics"
	"github.com/alexjbarnes/kbgate/internal/models"
)

// Token lifetimes.
const (
	clientLifetime        = 2 * 365 * 24 * time.Hour
	upstreamStateLifetime = 10 * time.Minute
	authCodeLifetime      = 5 * time.Minute
	accessTokenLifetime   = time.Hour
	refreshTokenLifetime  = 30 * 24 * time.Hour
)

// DefaultScope is used when a client asks for no scope at all.
const DefaultScope = "openid email profile"

// Endpoints are the public URLs derived from the issuer.
type Endpoints struct {
	Issuer       string
	Authorize    string
	Token        string
	Registration string
	Callback     string
	MCP          string
	ResourceMeta string
	ServerMeta   string
}

// Authority mints and parses every token kind. It resolves the issuer per
// request unless one is configured.
type Authority struct {
	codec   *Codec
	issuer  string
	metrics *metrics.Metrics
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithIssuer pins the issuer instead of deriving it from the request.
func WithIssuer(issuer string) AuthorityOption {
	return func(a *Authority) {
		a.issuer = strings.TrimRight(strings.TrimSpace(issuer), "/")
	}
}

// WithMetrics counts minted tokens.
func WithMetrics(m *metrics.Metrics) AuthorityOption {
	return func(a *Authority) {
		a.metrics = m
	}
}

// NewAuthority returns an Authority that signs with codec.
func NewAuthority(codec *Codec, opts ...AuthorityOption) *Authority {
	a := &Authority{codec: codec}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issuer returns the configured issuer, or the request origin.
func (a *Authority) Issuer(r *http.Request) string {
	if a.issuer != "" {
		return a.issuer
	}
	return strings.TrimRight(requestOrigin(r), "/")
}

// Endpoints returns the URLs for the request's issuer.
func (a *Authority) Endpoints(r *http.Request) Endpoints {
	iss := a.Issuer(r)
	return Endpoints{
		Issuer:       iss,
		Authorize:    iss + "/authorize",
		Token:        iss + "/token",
		Registration: iss + "/register",
		Callback:     iss + "/callback",
		MCP:          iss + "/mcp",
		ResourceMeta: iss + "/.well-known/oauth-protected-resource",
		ServerMeta:   iss + "/.well-known/oauth-authorization-server",
	}
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host
}

func (a *Authority) claims(r *http.Request, kind string, lifetime time.Duration) models.Claims {
	now := a.codec.Now().Unix()
	return models.Claims{
		Typ: kind,
		Iss: a.Issuer(r),
		Iat: now,
		Exp: now + int64(lifetime/time.Second),
	}
}

func (a *Authority) sign(kind string, payload any) (string, error) {
	tok, err := a.codec.Sign(payload)
	if err != nil {
		return "", err
	}
	a.metrics.TokenIssued(kind)
	return tok, nil
}

// MintClientID signs a registered client. The token is the client_id.
func (a *Authority) MintClientID(r *http.Request, redirectURIs []string, clientName string) (string, error) {
	return a.sign(models.KindClient, models.ClientPayload{
		Claims:       a.claims(r, models.KindClient, clientLifetime),
		ClientName:   clientName,
		RedirectURIs: redirectURIs,
	})
}

// ParseClientID verifies a client_id and returns its registration.
func (a *Authority) ParseClientID(r *http.Request, clientID string) (*models.ClientPayload, error) {
	var p models.ClientPayload
	if err := a.codec.Verify(clientID, models.KindClient, &p); err != nil {
		return nil, err
	}
	if err := a.checkIssuer(r, p.Iss); err != nil {
		return nil, err
	}
	return &p, nil
}

// checkIssuer rejects tokens minted under another issuer with the same key.
func (a *Authority) checkIssuer(r *http.Request, iss string) error {
	if iss != a.Issuer(r) {
		return kberrors.InvalidGrant("Token issuer mismatch")
	}
	return nil
}

// MintUpstreamState signs the pending authorization request.
func (a *Authority) MintUpstreamState(r *http.Request, p models.UpstreamStatePayload) (string, error) {
	p.Claims = a.claims(r, models.KindUpstreamState, upstreamStateLifetime)
	return a.sign(models.KindUpstreamState, p)
}

// ParseUpstreamState verifies the state returned by the identity provider
// and checks it was minted by this issuer.
func (a *Authority) ParseUpstreamState(r *http.Request, state string) (*models.UpstreamStatePayload, error) {
	var p models.UpstreamStatePayload
	if err := a.codec.Verify(state, models.KindUpstreamState, &p); err != nil {
		return nil, err
	}
	if p.Iss != a.Issuer(r) {
		return nil, kberrors.InvalidRequest("State issuer mismatch")
	}
	return &p, nil
}

// MintAuthorizationCode signs a short-lived authorization code.
func (a *Authority) MintAuthorizationCode(r *http.Request, p models.AuthorizationCodePayload) (string, error) {
	p.Claims = a.claims(r, models.KindAuthorizationCode, authCodeLifetime)
	return a.sign(models.KindAuthorizationCode, p)
}

// ParseAuthorizationCode verifies an authorization code.
func (a *Authority) ParseAuthorizationCode(r *http.Request, code string) (*models.AuthorizationCodePayload, error) {
	var p models.AuthorizationCodePayload
	if err := a.codec.Verify(code, models.KindAuthorizationCode, &p); err != nil {
		return nil, err
	}
	if err := a.checkIssuer(r, p.Iss); err != nil {
		return nil, err
	}
	return &p, nil
}

// MintAccessToken signs an access token and reports its lifetime in seconds.
func (a *Authority) MintAccessToken(r *http.Request, id models.Identity, scope string) (string, int, error) {
	tok, err := a.sign(models.KindAccessToken, models.AccessTokenPayload{
		Claims: a.claims(r, models.KindAccessToken, accessTokenLifetime),
		Sub:    id.Sub,
		Email:  id.Email,
		Name:   id.Name,
		Scope:  scope,
	})
	if err != nil {
		return "", 0, err
	}
	return tok, int(accessTokenLifetime / time.Second), nil
}

// MintRefreshToken signs a refresh token.
func (a *Authority) MintRefreshToken(r *http.Request, id models.Identity, scope string) (string, error) {
	return a.sign(models.KindRefreshToken, models.AccessTokenPayload{
		Claims: a.claims(r, models.KindRefreshToken, refreshTokenLifetime),
		Sub:    id.Sub,
		Email:  id.Email,
		Name:   id.Name,
		Scope:  scope,
	})
}

// ParseRefreshToken verifies a refresh token.
func (a *Authority) ParseRefreshToken(r *http.Request, token string) (*models.AccessTokenPayload, error) {
	var p models.AccessTokenPayload
	if err := a.codec.Verify(token, models.KindRefreshToken, &p); err != nil {
		return nil, err
	}
	if err := a.checkIssuer(r, p.Iss); err != nil {
		return nil, err
	}
	return &p, nil
}

// VerifyAccessToken checks a bearer token for the resource guard. Codec
// failures become invalid_token; a missing signing key stays server_error.
func (a *Authority) VerifyAccessToken(r *http.Request, token string) (*models.AccessTokenPayload, error) {
	var p models.AccessTokenPayload
	if err := a.codec.Verify(token, models.KindAccessToken, &p); err != nil {
		if kberrors.IsCode(err, kberrors.CodeServerError) {
			return nil, err
		}
		return nil, kberrors.InvalidToken(kberrors.AsOAuth(err, "Invalid access token").Description)
	}
	if p.Iss != a.Issuer(r) {
		return nil, kberrors.InvalidToken("Token issuer mismatch")
	}
	return &p, nil
}
