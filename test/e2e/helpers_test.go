package e2e_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alexjbarnes/kbgate/internal/auth"
	"github.com/alexjbarnes/kbgate/internal/docs"
	"github.com/alexjbarnes/kbgate/internal/mcpserver"
	"github.com/alexjbarnes/kbgate/internal/metrics"
	"github.com/alexjbarnes/kbgate/internal/server"
	"github.com/alexjbarnes/kbgate/internal/upstream"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

const (
	signingKey       = "e2e-signing-key-value"
	upstreamClientID = "kbgate-upstream"
	upstreamSecret   = "kbgate-upstream-secret"
	upstreamCode     = "idp-code"
	idpKeyID         = "idp-key-1"
	pkceVerifier     = "e2e-test-pkce-verifier-that-is-long-enough"
	redirectURI      = "http://127.0.0.1:19876/callback"
)

const searchIndex = `{"docs":[
	{"location":"person/grace-hopper/","title":"Grace Hopper","text":"Grace Hopper built the first compiler."},
	{"location":"person/ada-lovelace/","title":"Ada Lovelace","text":"Ada Lovelace wrote the first program."},
	{"location":"org/navy/","title":"Navy","text":"Grace served in the navy."}
]}`

const gracePage = `<html><head><title>Grace Hopper</title></head>
<body><h1>Grace Hopper</h1><p>Built the first compiler.</p></body></html>`

// harness holds the full e2e stack: kbgate behind a real HTTP server,
// a fake identity provider and a fake documentation site.
type harness struct {
	URL    string
	IDP    *fakeIDP
	Docs   *httptest.Server
	Client *http.Client
}

// fakeIDP is a minimal OIDC provider. Its authorize endpoint approves
// every request immediately unless deny is set.
type fakeIDP struct {
	URL  string
	key  *rsa.PrivateKey
	deny bool
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	idp := &fakeIDP{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		back := url.Values{"state": {q.Get("state")}}
		if idp.deny {
			back.Set("error", "access_denied")
		} else {
			back.Set("code", upstreamCode)
		}
		http.Redirect(w, r, q.Get("redirect_uri")+"?"+back.Encode(), http.StatusFound)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.PostFormValue("code") != upstreamCode || r.PostFormValue("client_secret") != upstreamSecret {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		idToken, err := idp.idToken()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "idp-access-token",
			"token_type":   "Bearer",
			"id_token":     idToken,
		})
	})
	mux.HandleFunc("/certs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &idp.key.PublicKey,
			KeyID:     idpKeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	idp.URL = srv.URL

	return idp
}

func (idp *fakeIDP) idToken() (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: idp.key},
		(&jose.SignerOptions{}).WithHeader("kid", idpKeyID),
	)
	if err != nil {
		return "", err
	}

	return jwt.Signed(signer).Claims(map[string]any{
		"iss":   idp.URL,
		"sub":   "user-42",
		"aud":   upstreamClientID,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"email": "grace@example.com",
		"name":  "Grace Hopper",
	}).Serialize()
}

func newDocSite(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/search/search_index.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, searchIndex)
	})
	mux.HandleFunc("/person/grace-hopper/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, gracePage)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newHarness wires the same components the serve command does and starts
// an httptest server in front of them. The issuer follows the request
// origin, so it is the httptest URL.
func newHarness(t *testing.T) *harness {
	t.Helper()

	idp := newFakeIDP(t)
	site := newDocSite(t)
	logger := slog.New(slog.DiscardHandler)
	m := metrics.New()

	authority := auth.NewAuthority(auth.NewCodec(signingKey), auth.WithMetrics(m))

	bridge := upstream.NewOIDC(upstream.Config{
		ClientID:         upstreamClientID,
		ClientSecret:     upstreamSecret,
		AuthorizationURL: idp.URL + "/authorize",
		TokenURL:         idp.URL + "/token",
		JWKSURL:          idp.URL + "/certs",
		Issuer:           idp.URL,
		Timeout:          5 * time.Second,
	}, upstream.WithMetrics(m))

	fetcher, err := docs.NewFetcher(site.URL, docs.WithMetrics(m))
	require.NoError(t, err)

	mcpServer := mcpserver.NewServer("kbgate-e2e", "test", mcpserver.Deps{
		Fetcher:         fetcher,
		AllowedPrefixes: []string{"/person"},
		Logger:          logger,
	})

	ts := httptest.NewServer(server.New(server.MuxConfig{
		Authority:  authority,
		Bridge:     bridge,
		MCPHandler: mcpserver.NewHandler(mcpServer),
		Metrics:    m,
		Logger:     logger,
	}))
	t.Cleanup(ts.Close)

	return &harness{
		URL:    ts.URL,
		IDP:    idp,
		Docs:   site,
		Client: ts.Client(),
	}
}

// tokenResponse is the JSON body returned by POST /token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// registerClient performs dynamic client registration and returns the
// signed client_id.
func (h *harness) registerClient(t *testing.T, redirectURIs []string) string {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"client_name":   "e2e",
		"redirect_uris": redirectURIs,
	})
	require.NoError(t, err)

	resp := h.doPostJSON(t, "/register", body)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		ClientID string `json:"client_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotEmpty(t, result.ClientID)

	return result.ClientID
}

// authorize walks /authorize, the identity provider and /callback
// without following the final redirect, and returns where the client
// was sent.
func (h *harness) authorize(t *testing.T, clientID string) *url.URL {
	t.Helper()

	authURL := h.URL + "/authorize?" + url.Values{
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"code_challenge":        {pkceChallenge(pkceVerifier)},
		"code_challenge_method": {"S256"},
		"state":                 {"e2e-state"},
		"scope":                 {"openid email"},
	}.Encode()

	// kbgate -> identity provider -> kbgate /callback -> client.
	loc := authURL
	for hop := 0; hop < 3; hop++ {
		resp := h.doGetNoRedirect(t, loc)
		resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode, "hop %d: %s", hop, loc)

		loc = resp.Header.Get("Location")
		require.NotEmpty(t, loc)
	}

	back, err := url.Parse(loc)
	require.NoError(t, err)

	return back
}

// authCodeFlow registers a client and runs the authorization code + PKCE
// flow through the fake identity provider.
func (h *harness) authCodeFlow(t *testing.T) (string, tokenResponse) {
	t.Helper()

	clientID := h.registerClient(t, []string{redirectURI})

	back := h.authorize(t, clientID)
	require.Equal(t, "e2e-state", back.Query().Get("state"))
	code := back.Query().Get("code")
	require.NotEmpty(t, code, "authorization code missing from redirect")

	resp := h.doPostForm(t, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {pkceVerifier},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))

	return clientID, tr
}

// refreshToken exchanges a refresh token for a new access token.
func (h *harness) refreshToken(t *testing.T, clientID, refresh string) tokenResponse {
	t.Helper()

	resp := h.doPostForm(t, "/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
		"client_id":     {clientID},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))

	return tr
}

// mcpSession creates an MCP client session authenticated with the given
// Bearer token.
func (h *harness) mcpSession(t *testing.T, token string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: token,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// doGet performs a GET request with t.Context().
func (h *harness) doGet(t *testing.T, fullURL string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, fullURL, nil)
	require.NoError(t, err)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doGetNoRedirect performs a GET that does not follow redirects.
func (h *harness) doGetNoRedirect(t *testing.T, fullURL string) *http.Response {
	t.Helper()

	noRedirect := *h.Client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, fullURL, nil)
	require.NoError(t, err)

	resp, err := noRedirect.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostForm performs a POST with form-encoded body and t.Context().
func (h *harness) doPostForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		t.Context(), http.MethodPost, h.URL+path,
		bytes.NewBufferString(form.Encode()),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostJSON performs a POST with JSON body and t.Context().
func (h *harness) doPostJSON(t *testing.T, path string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		t.Context(), http.MethodPost, h.URL+path,
		bytes.NewReader(body),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

// pkceChallenge computes the S256 code challenge for a given verifier.
func pkceChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
