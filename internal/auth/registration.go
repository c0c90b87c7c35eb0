package auth

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/tidwall/gjson"
)

// registrationResponse is the DCR response (RFC 7591 Section 3.2.1).
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	RedirectURIs            []string `json:"redirect_uris"`
}

// HandleRegistration returns the /register handler. Nothing is stored:
// the registration is signed into the returned client_id.
func HandleRegistration(a *Authority, logger *slog.Logger) http.HandlerFunc {
	rt := route{
		name:     "register",
		fallback: "Unexpected registration error",
		methods:  []string{http.MethodPost},
		logger:   logger,
		metrics:  a.metrics,
	}

	return rt.handle(func(w http.ResponseWriter, r *http.Request) error {
		body, err := readBody(w, r)
		if err != nil {
			return err
		}

		raw := collectRedirectURIs(body)
		if len(raw) == 0 {
			return kberrors.InvalidClientMetadata("redirect_uris is required")
		}

		uris := make([]string, 0, len(raw))
		for _, u := range raw {
			normalized, err := ValidateRedirectURI(u)
			if err != nil {
				return err
			}
			if !slices.Contains(uris, normalized) {
				uris = append(uris, normalized)
			}
		}

		clientName := body.get("client_name")

		clientID, err := a.MintClientID(r, uris, clientName)
		if err != nil {
			return err
		}

		logger.Info("client registered",
			slog.String("client_name", clientName),
			slog.Int("redirect_uris", len(uris)),
		)

		writeJSON(w, http.StatusCreated, registrationResponse{
			ClientID:                clientID,
			ClientIDIssuedAt:        a.codec.Now().Unix(),
			ClientName:              clientName,
			GrantTypes:              []string{"authorization_code", "refresh_token"},
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: "none",
			RedirectURIs:            uris,
		})

		return nil
	})
}

// collectRedirectURIs merges every place a client may put redirect URIs:
// repeated redirect_uri form fields, redirect_uris as repeated form fields
// or a JSON array string, and JSON redirect_uris or redirect_uri.
func collectRedirectURIs(body *requestBody) []string {
	var out []string

	add := func(v string) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	if body.json == nil {
		for _, v := range body.form["redirect_uri"] {
			add(v)
		}
		for _, v := range body.form["redirect_uris"] {
			if strings.HasPrefix(strings.TrimSpace(v), "[") {
				for _, s := range parseStringArray(v) {
					add(s)
				}
				continue
			}
			add(v)
		}
		return out
	}

	uris := gjson.GetBytes(body.json, "redirect_uris")
	switch {
	case uris.IsArray():
		for _, s := range stringArray(uris) {
			add(s)
		}
	case uris.Type == gjson.String && strings.HasPrefix(strings.TrimSpace(uris.Str), "["):
		for _, s := range parseStringArray(uris.Str) {
			add(s)
		}
	case uris.Type == gjson.String:
		add(uris.Str)
	}

	if single := gjson.GetBytes(body.json, "redirect_uri"); single.Type == gjson.String {
		add(single.Str)
	}

	return out
}

// parseStringArray decodes a JSON array carried inside a string value.
// Malformed JSON is ignored.
func parseStringArray(raw string) []string {
	if !gjson.Valid(raw) {
		return nil
	}
	return stringArray(gjson.Parse(raw))
}

// stringArray returns the string members of a JSON array; anything else
// yields nothing.
func stringArray(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}

	var out []string
	for _, item := range v.Array() {
		if item.Type == gjson.String {
			out = append(out, item.Str)
		}
	}
	return out
}
