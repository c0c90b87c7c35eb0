package auth

import (
	"log/slog"
	"net/http"
	"strings"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/models"
	"github.com/alexjbarnes/kbgate/internal/upstream"
)

// HandleAuthorize returns the /authorize handler. The request is checked,
// signed into an upstream state token and the browser is sent to the
// identity provider. Nothing is stored.
func HandleAuthorize(a *Authority, bridge upstream.Bridge, logger *slog.Logger) http.HandlerFunc {
	rt := route{
		name:     "authorize",
		fallback: "Unexpected authorization error",
		methods:  []string{http.MethodGet},
		logger:   logger,
		metrics:  a.metrics,
	}

	return rt.handle(func(w http.ResponseWriter, r *http.Request) error {
		q := r.URL.Query()
		param := func(key string) string {
			return strings.TrimSpace(q.Get(key))
		}

		if param("response_type") != "code" {
			return kberrors.UnsupportedResponseType("Only response_type=code is supported")
		}

		clientID := param("client_id")
		if clientID == "" {
			return kberrors.InvalidRequest("client_id is required")
		}

		redirectURI, err := ValidateRedirectURI(param("redirect_uri"))
		if err != nil {
			return err
		}

		client, err := a.ParseClientID(r, clientID)
		if err != nil {
			return err
		}

		if err := ensureRedirectAllowed(redirectURI, client.RedirectURIs); err != nil {
			return err
		}

		state := param("state")
		if state == "" {
			return kberrors.InvalidRequest("state is required")
		}

		challenge := param("code_challenge")
		method := param("code_challenge_method")
		if method == "" {
			method = "S256"
		}
		if challenge != "" && method != "S256" {
			return kberrors.InvalidRequest("Only code_challenge_method=S256 is supported")
		}

		pending := models.UpstreamStatePayload{
			ClientID:    clientID,
			RedirectURI: redirectURI,
			State:       state,
			Scope:       NormalizeScope(q.Get("scope")),
		}
		if challenge != "" {
			pending.CodeChallenge = challenge
			pending.CodeChallengeMethod = "S256"
		}

		upstreamState, err := a.MintUpstreamState(r, pending)
		if err != nil {
			return err
		}

		destination, err := bridge.AuthorizationURL(a.Endpoints(r).Callback, upstreamState)
		if err != nil {
			return err
		}

		logger.Debug("authorize: redirecting to identity provider",
			slog.String("client_name", client.ClientName),
			slog.String("redirect_uri", redirectURI),
			slog.String("scope", pending.Scope),
		)

		http.Redirect(w, r, destination, http.StatusFound)
		return nil
	})
}
