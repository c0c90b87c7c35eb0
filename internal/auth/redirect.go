package auth

import (
	"net/url"
	"slices"
	"strings"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
)

// ValidateRedirectURI checks that raw is an absolute http(s) URL without a
// fragment and returns its normalized form. Scheme and host are lowercased
// and an empty path becomes "/", so registered and presented URIs compare
// as plain strings.
func ValidateRedirectURI(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", kberrors.InvalidRequest("redirect_uri is required")
	}

	u, err := url.Parse(candidate)
	if err != nil || !u.IsAbs() {
		return "", kberrors.InvalidRequest("redirect_uri is invalid")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", kberrors.InvalidRequest("redirect_uri must use http or https")
	}

	if u.Host == "" {
		return "", kberrors.InvalidRequest("redirect_uri is invalid")
	}

	if u.Fragment != "" || strings.Contains(candidate, "#") {
		return "", kberrors.InvalidRequest("redirect_uri must not include hash")
	}

	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// ensureRedirectAllowed requires an exact match against the registration.
func ensureRedirectAllowed(redirectURI string, allowed []string) error {
	if !slices.Contains(allowed, redirectURI) {
		return kberrors.InvalidRequest("redirect_uri is not registered for this client_id")
	}
	return nil
}

// withQuery returns base with params set, keeping any other query keys.
func withQuery(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
