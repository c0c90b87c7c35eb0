package auth

import (
	"encoding/json"
	"net/http"
)

var supportedScopes = []string{"openid", "email", "profile"}

// ProtectedResourceMetadata is the RFC 9728 response.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

// ServerMetadata is the RFC 8414 response.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// HandleProtectedResourceMetadata returns the /.well-known/oauth-protected-resource handler.
// URLs follow the request issuer, so the document is built per request.
func HandleProtectedResourceMetadata(a *Authority) http.HandlerFunc {
	return CORS(OAuthCORSMethods)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ep := a.Endpoints(r)
		meta := ProtectedResourceMetadata{
			Resource:               ep.MCP,
			AuthorizationServers:   []string{ep.Issuer},
			BearerMethodsSupported: []string{"header"},
			ScopesSupported:        supportedScopes,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(meta)
	})).ServeHTTP
}

// HandleServerMetadata returns the /.well-known/oauth-authorization-server handler.
func HandleServerMetadata(a *Authority) http.HandlerFunc {
	return CORS(OAuthCORSMethods)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ep := a.Endpoints(r)
		meta := ServerMetadata{
			Issuer:                            ep.Issuer,
			AuthorizationEndpoint:             ep.Authorize,
			TokenEndpoint:                     ep.Token,
			RegistrationEndpoint:              ep.Registration,
			ResponseTypesSupported:            []string{"code"},
			GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
			TokenEndpointAuthMethodsSupported: []string{"none"},
			CodeChallengeMethodsSupported:     []string{"S256"},
			ScopesSupported:                   supportedScopes,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(meta)
	})).ServeHTTP
}
