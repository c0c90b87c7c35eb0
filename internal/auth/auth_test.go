package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testIssuer      = "https://kb.example.com"
	testSecret      = "test-signing-secret"
	testRedirectURI = "https://client.test/cb"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by a codec and its authority.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// testAuthority returns an authority with a pinned issuer and a clock
// the test can move.
func testAuthority(t *testing.T) (*Authority, *testClock) {
	t.Helper()
	clock := &testClock{now: testNow}
	codec := NewCodec(testSecret, WithClock(clock.Now))
	return NewAuthority(codec, WithIssuer(testIssuer)), clock
}

func pkceChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// issuerRequest is any request the pinned test issuer is served on.
func issuerRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, testIssuer+"/", nil)
}

// foreignAuthority shares the signing key but is pinned to another issuer.
func foreignAuthority(clock *testClock) *Authority {
	return NewAuthority(NewCodec(testSecret, WithClock(clock.Now)), WithIssuer("https://evil.example.com"))
}

// registerTestClient mints a client_id for redirectURIs.
func registerTestClient(t *testing.T, a *Authority, redirectURIs ...string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, testIssuer+"/register", nil)
	id, err := a.MintClientID(req, redirectURIs, "Test Client")
	require.NoError(t, err)
	return id
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}
