package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/models"
	"github.com/alexjbarnes/kbgate/internal/upstream"
)

const defaultDeniedDescription = "Authentication was denied by the identity provider"

// HandleCallback returns the /callback handler. Until the upstream state
// verifies, errors are written as JSON. After that every failure goes back
// to the client's redirect_uri so the client sees it.
func HandleCallback(a *Authority, bridge upstream.Bridge, logger *slog.Logger) http.HandlerFunc {
	rt := route{
		name:     "callback",
		fallback: "Unexpected callback error",
		methods:  []string{http.MethodGet},
		logger:   logger,
		metrics:  a.metrics,
	}

	return rt.handle(func(w http.ResponseWriter, r *http.Request) error {
		q := r.URL.Query()

		state := strings.TrimSpace(q.Get("state"))
		if state == "" {
			return kberrors.InvalidRequest("Missing OAuth state")
		}

		pending, err := a.ParseUpstreamState(r, state)
		if err != nil {
			return err
		}

		if upstreamErr := strings.TrimSpace(q.Get("error")); upstreamErr != "" {
			desc := strings.TrimSpace(q.Get("error_description"))
			if desc == "" {
				desc = defaultDeniedDescription
			}
			logger.Info("callback: identity provider returned an error",
				slog.String("error", upstreamErr),
				slog.String("redirect_uri", pending.RedirectURI),
			)
			return redirectWithError(w, r, pending, upstreamErr, desc)
		}

		if err := completeCallback(w, r, a, bridge, pending, strings.TrimSpace(q.Get("code"))); err != nil {
			oe := kberrors.AsOAuth(err, rt.fallback)
			if oe.Status >= http.StatusInternalServerError {
				logger.Error("callback: request failed", slog.String("error", err.Error()))
			} else {
				logger.Debug("callback: request rejected",
					slog.String("code", oe.Code),
					slog.String("description", oe.Description),
				)
			}
			a.metrics.OAuthError(rt.name, oe.Code)
			return redirectWithError(w, r, pending, oe.Code, oe.Description)
		}

		return nil
	})
}

func completeCallback(w http.ResponseWriter, r *http.Request, a *Authority, bridge upstream.Bridge, pending *models.UpstreamStatePayload, code string) error {
	if code == "" {
		return kberrors.InvalidRequest("Missing authorization code from the identity provider")
	}

	identity, err := bridge.ExchangeCode(r.Context(), code, a.Endpoints(r).Callback)
	if err != nil {
		return err
	}

	authCode, err := a.MintAuthorizationCode(r, models.AuthorizationCodePayload{
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		Scope:               pending.Scope,
		Sub:                 identity.Sub,
		Email:               identity.Email,
		Name:                identity.Name,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
	})
	if err != nil {
		return err
	}

	params := map[string]string{"code": authCode}
	if pending.State != "" {
		params["state"] = pending.State
	}

	destination, err := withQuery(pending.RedirectURI, params)
	if err != nil {
		return fmt.Errorf("building client redirect: %w", err)
	}

	http.Redirect(w, r, destination, http.StatusFound)
	return nil
}

// redirectWithError sends an OAuth error to the client's redirect_uri.
func redirectWithError(w http.ResponseWriter, r *http.Request, pending *models.UpstreamStatePayload, code, description string) error {
	params := map[string]string{
		"error":             code,
		"error_description": description,
	}
	if pending.State != "" {
		params["state"] = pending.State
	}

	destination, err := withQuery(pending.RedirectURI, params)
	if err != nil {
		return fmt.Errorf("building client error redirect: %w", err)
	}

	http.Redirect(w, r, destination, http.StatusFound)
	return nil
}
