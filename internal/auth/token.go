package auth

import (
	"log/slog"
	"net/http"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/models"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// HandleToken returns the /token handler. Codes and refresh tokens are
// verified by signature alone, so neither is single-use.
func HandleToken(a *Authority, logger *slog.Logger) http.HandlerFunc {
	rt := route{
		name:     "token",
		fallback: "Unexpected token error",
		methods:  []string{http.MethodPost},
		logger:   logger,
		metrics:  a.metrics,
	}

	return rt.handle(func(w http.ResponseWriter, r *http.Request) error {
		body, err := readBody(w, r)
		if err != nil {
			return err
		}

		switch body.get("grant_type") {
		case "authorization_code":
			return exchangeAuthorizationCode(w, r, a, logger, body)
		case "refresh_token":
			return exchangeRefreshToken(w, r, a, logger, body)
		default:
			return kberrors.UnsupportedGrantType("Supported grant types are authorization_code and refresh_token")
		}
	})
}

func exchangeAuthorizationCode(w http.ResponseWriter, r *http.Request, a *Authority, logger *slog.Logger, body *requestBody) error {
	code := body.get("code")
	clientID := body.get("client_id")
	rawRedirect := body.get("redirect_uri")

	if code == "" {
		return kberrors.InvalidRequest("code is required")
	}
	if clientID == "" {
		return kberrors.InvalidRequest("client_id is required")
	}
	if rawRedirect == "" {
		return kberrors.InvalidRequest("redirect_uri is required")
	}

	redirectURI, err := ValidateRedirectURI(rawRedirect)
	if err != nil {
		return err
	}

	payload, err := a.ParseAuthorizationCode(r, code)
	if err != nil {
		return err
	}

	if payload.ClientID != clientID {
		return kberrors.InvalidGrant("client_id does not match code")
	}
	if payload.RedirectURI != redirectURI {
		return kberrors.InvalidGrant("redirect_uri does not match code")
	}

	if !VerifyCodeChallenge(payload.CodeChallengeMethod, body.get("code_verifier"), payload.CodeChallenge) {
		return kberrors.InvalidGrant("PKCE verification failed")
	}

	id := models.Identity{Sub: payload.Sub, Email: payload.Email, Name: payload.Name}
	if err := issueTokenPair(w, r, a, id, payload.Scope); err != nil {
		return err
	}

	logger.Info("token: issued for authorization code",
		slog.String("sub", id.Sub),
		slog.String("ip", remoteIP(r)),
	)

	return nil
}

func exchangeRefreshToken(w http.ResponseWriter, r *http.Request, a *Authority, logger *slog.Logger, body *requestBody) error {
	refresh := body.get("refresh_token")
	if refresh == "" {
		return kberrors.InvalidRequest("refresh_token is required")
	}

	payload, err := a.ParseRefreshToken(r, refresh)
	if err != nil {
		return err
	}

	id := models.Identity{Sub: payload.Sub, Email: payload.Email, Name: payload.Name}
	if err := issueTokenPair(w, r, a, id, payload.Scope); err != nil {
		return err
	}

	logger.Debug("token: refreshed",
		slog.String("sub", id.Sub),
		slog.String("ip", remoteIP(r)),
	)

	return nil
}

func issueTokenPair(w http.ResponseWriter, r *http.Request, a *Authority, id models.Identity, scope string) error {
	access, expiresIn, err := a.MintAccessToken(r, id, scope)
	if err != nil {
		return err
	}

	refresh, err := a.MintRefreshToken(r, id, scope)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refresh,
		Scope:        scope,
	})

	return nil
}
