// Package models defines the payload shapes carried inside signed tokens.
// None of these are stored server-side.
package models

// Token kinds, carried in the payload "typ" claim.
const (
	KindClient            = "client"
	KindUpstreamState     = "upstream_state"
	KindAuthorizationCode = "authorization_code"
	KindAccessToken       = "access_token"
	KindRefreshToken      = "refresh_token"
)

// Claims are present on every payload kind.
type Claims struct {
	Typ string `json:"typ"`
	Iss string `json:"iss"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// ClientPayload is a dynamically registered client. Its signed form is
// the client_id handed back to the caller.
type ClientPayload struct {
	Claims
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
}

// UpstreamStatePayload carries the client authorization request across
// the round trip to the upstream identity provider.
type UpstreamStatePayload struct {
	Claims
	ClientID            string `json:"oauth_client_id"`
	RedirectURI         string `json:"oauth_redirect_uri"`
	State               string `json:"oauth_state"`
	Scope               string `json:"oauth_scope"`
	CodeChallenge       string `json:"oauth_code_challenge,omitempty"`
	CodeChallengeMethod string `json:"oauth_code_challenge_method,omitempty"`
}

// AuthorizationCodePayload is the code returned to the client redirect URI.
type AuthorizationCodePayload struct {
	Claims
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	Sub                 string `json:"sub"`
	Email               string `json:"email"`
	Name                string `json:"name"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// AccessTokenPayload is used for both access and refresh tokens; only the
// typ claim and lifetime differ.
type AccessTokenPayload struct {
	Claims
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

// Identity is the end user as asserted by the upstream identity provider.
type Identity struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
