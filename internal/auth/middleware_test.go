package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// guarded wraps a handler that records the identity it was given.
func guarded(a *Authority) (http.Handler, *string) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := RequestIdentity(r.Context()); id != nil {
			seen = id.Sub + "|" + RequestRemoteIP(r.Context())
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return Middleware(a, testLogger())(next), &seen
}

func mcpRequest(authorization string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, testIssuer+"/mcp", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return req
}

func TestMiddleware_ValidToken(t *testing.T) {
	a, _ := testAuthority(t)
	access, _, err := a.MintAccessToken(mcpRequest(""), *testIdentity, "openid")
	require.NoError(t, err)

	h, seen := guarded(a)
	for _, header := range []string{"Bearer " + access, "bearer   " + access} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, mcpRequest(header))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "user-123|203.0.113.7", *seen)
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	a, clock := testAuthority(t)
	req := mcpRequest("")

	access, _, err := a.MintAccessToken(req, *testIdentity, "openid")
	require.NoError(t, err)
	refresh, err := a.MintRefreshToken(req, *testIdentity, "openid")
	require.NoError(t, err)

	other := NewAuthority(NewCodec(testSecret, WithClock(clock.Now)), WithIssuer("https://other.example.com"))
	foreign, _, err := other.MintAccessToken(req, *testIdentity, "openid")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		desc   string
	}{
		{"missing header", "", "Missing Authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Invalid bearer token"},
		{"empty bearer", "Bearer ", "Invalid bearer token"},
		{"garbage token", "Bearer not-a-token", "JWT must contain 3 segments"},
		{"refresh token", "Bearer " + refresh, "Token type is invalid"},
		{"foreign issuer", "Bearer " + foreign, "Token issuer mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, seen := guarded(a)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, mcpRequest(tt.header))

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, *seen)

			challenge := rec.Header().Get("WWW-Authenticate")
			assert.Contains(t, challenge, `Bearer error="invalid_token"`)
			assert.Contains(t, challenge, `resource_metadata="https://kb.example.com/.well-known/oauth-protected-resource"`)

			body := decodeError(t, rec)
			assert.Equal(t, "invalid_token", body.Error)
			assert.Equal(t, tt.desc, body.ErrorDescription)
		})
	}

	t.Run("expired", func(t *testing.T) {
		clock.Advance(time.Hour)
		h, _ := guarded(a)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, mcpRequest("Bearer "+access))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Token is expired", decodeError(t, rec).ErrorDescription)
	})
}

func TestMiddleware_MissingSigningKey(t *testing.T) {
	a := NewAuthority(NewCodec(" "), WithIssuer(testIssuer))
	h, _ := guarded(a)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mcpRequest("Bearer a.b.c"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "server_error", decodeError(t, rec).Error)
}

func TestParseBearerToken(t *testing.T) {
	tok, err := parseBearerToken("BEARER  abc.def.ghi ")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)
}
