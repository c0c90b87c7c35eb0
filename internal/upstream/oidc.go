package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/metrics"
	"github.com/alexjbarnes/kbgate/internal/models"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout = 10 * time.Second
	maxJWKSBytes   = 1 << 20
	maxTokenBytes  = 1 << 20
)

// upstreamScopes are always requested, whatever the client asked for.
var upstreamScopes = []string{"openid", "email", "profile"}

// Config describes the upstream confidential client.
type Config struct {
	ClientID         string
	ClientSecret     string
	AuthorizationURL string
	TokenURL         string
	JWKSURL          string
	// Issuer, when set, must equal the id_token iss claim.
	Issuer  string
	Timeout time.Duration
}

func (c Config) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" &&
		c.AuthorizationURL != "" && c.TokenURL != "" && c.JWKSURL != ""
}

// OIDC is a Bridge backed by a standard OpenID Connect provider.
type OIDC struct {
	cfg     Config
	client  *http.Client
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ Bridge = (*OIDC)(nil)

// Option configures an OIDC bridge.
type Option func(*OIDC)

// WithHTTPClient replaces the bounded-timeout default client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OIDC) {
		o.client = c
	}
}

// WithMetrics records upstream call latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *OIDC) {
		o.metrics = m
	}
}

// WithClock replaces time.Now for id_token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *OIDC) {
		o.now = now
	}
}

// NewOIDC returns a bridge for cfg. Incomplete configuration is not an
// error here; every method reports server_error until it is fixed.
func NewOIDC(cfg Config, opts ...Option) *OIDC {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	o := &OIDC{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OIDC) requireConfig() error {
	if !o.cfg.complete() {
		return kberrors.ServerError("ACCESS_CLIENT_ID, ACCESS_CLIENT_SECRET, ACCESS_AUTHORIZATION_URL, ACCESS_TOKEN_URL, and ACCESS_JWKS_URL are required")
	}
	return nil
}

func (o *OIDC) oauthConfig(callbackURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     o.cfg.ClientID,
		ClientSecret: o.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   o.cfg.AuthorizationURL,
			TokenURL:  o.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: callbackURL,
		Scopes:      upstreamScopes,
	}
}

// AuthorizationURL builds the provider authorization request.
func (o *OIDC) AuthorizationURL(callbackURL, state string) (string, error) {
	if err := o.requireConfig(); err != nil {
		return "", err
	}
	return o.oauthConfig(callbackURL).AuthCodeURL(state), nil
}

// ExchangeCode redeems code at the token endpoint and verifies the
// returned id_token. The call is made once, with no retry.
func (o *OIDC) ExchangeCode(ctx context.Context, code, callbackURL string) (*models.Identity, error) {
	if err := o.requireConfig(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	capture := &bodyCapture{base: o.client.Transport}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: capture,
		Timeout:   o.client.Timeout,
	})

	started := time.Now()
	tok, err := o.oauthConfig(callbackURL).Exchange(ctx, code)
	o.metrics.ObserveUpstream("exchange", started)

	var idToken string
	switch {
	case err == nil:
		idToken, _ = tok.Extra("id_token").(string)
	case capture.body == nil:
		// No response at all: transport failure or timeout.
		return nil, fmt.Errorf("exchanging upstream code: %w", err)
	default:
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, kberrors.AccessDenied(
				fmt.Sprintf("Failed to exchange upstream authorization code (%d): %s", status, clip(string(re.Body), 160)),
				http.StatusBadGateway,
			)
		}
		// A 2xx body x/oauth2 refuses, usually for lacking access_token.
		// Only the id_token matters here.
		if v := gjson.GetBytes(capture.body, "id_token"); v.Type == gjson.String {
			idToken = v.Str
		}
	}

	if idToken == "" {
		return nil, kberrors.AccessDenied("Missing id_token from upstream response", http.StatusBadGateway)
	}

	return o.VerifyIDToken(ctx, idToken)
}

// VerifyIDToken checks the RS256 signature against the provider JWKS,
// then expiry, issuer and audience, and extracts the identity.
func (o *OIDC) VerifyIDToken(ctx context.Context, idToken string) (*models.Identity, error) {
	if err := o.requireConfig(); err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseSigned(idToken, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, kberrors.AccessDenied("Upstream id_token is malformed", http.StatusBadGateway)
	}

	if len(parsed.Headers) == 0 || parsed.Headers[0].KeyID == "" {
		return nil, kberrors.AccessDenied("id_token is missing kid header", http.StatusBadGateway)
	}
	kid := parsed.Headers[0].KeyID

	jwks, err := o.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}

	keys := jwks.Key(kid)
	if len(keys) == 0 {
		return nil, kberrors.AccessDenied("Upstream JWKS did not contain matching key", http.StatusBadGateway)
	}

	var claims map[string]any
	if err := parsed.Claims(keys[0].Key, &claims); err != nil {
		return nil, kberrors.AccessDenied("Invalid upstream id_token signature", http.StatusBadGateway)
	}

	return o.identityFromClaims(claims)
}

func (o *OIDC) fetchJWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.JWKSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := o.client.Do(req)
	o.metrics.ObserveUpstream("jwks", started)

	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, kberrors.AccessDenied(
			fmt.Sprintf("Failed to fetch upstream JWKS (%d)", resp.StatusCode),
			http.StatusBadGateway,
		)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return nil, kberrors.AccessDenied("Upstream JWKS is malformed", http.StatusBadGateway)
	}

	return &set, nil
}

func (o *OIDC) identityFromClaims(claims map[string]any) (*models.Identity, error) {
	exp, ok := claims["exp"].(float64)
	if !ok || exp <= float64(o.now().Unix()) {
		return nil, kberrors.AccessDenied("Upstream id_token is expired", http.StatusUnauthorized)
	}

	if o.cfg.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != o.cfg.Issuer {
			return nil, kberrors.AccessDenied("Upstream id_token issuer mismatch", http.StatusUnauthorized)
		}
	}

	switch aud := claims["aud"].(type) {
	case string:
		if aud != o.cfg.ClientID {
			return nil, kberrors.AccessDenied("Upstream id_token audience mismatch", http.StatusUnauthorized)
		}
	case []any:
		if !containsString(aud, o.cfg.ClientID) {
			return nil, kberrors.AccessDenied("Upstream id_token audience mismatch", http.StatusUnauthorized)
		}
	default:
		return nil, kberrors.AccessDenied("Upstream id_token missing audience", http.StatusUnauthorized)
	}

	sub := claimString(claims, "sub")
	email := claimString(claims, "email")
	if sub == "" || email == "" {
		return nil, kberrors.AccessDenied("Upstream id_token missing required identity claims", http.StatusBadGateway)
	}

	name := claimString(claims, "name")
	if name == "" {
		name = email
	}

	return &models.Identity{Sub: sub, Email: email, Name: name}, nil
}

func claimString(claims map[string]any, key string) string {
	switch v := claims[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprint(v))
	default:
		return ""
	}
}

func containsString(values []any, want string) bool {
	for _, v := range values {
		if s, ok := v.(string); ok && s == want {
			return true
		}
	}
	return false
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// bodyCapture keeps a copy of the token endpoint response body so fields
// can still be read when x/oauth2 rejects the response.
type bodyCapture struct {
	base http.RoundTripper
	body []byte
}

func (c *bodyCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	base := c.base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBytes))
	if err != nil {
		return nil, err
	}

	c.body = raw
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp, nil
}
