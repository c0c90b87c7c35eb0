package errors

import (
	"errors"
	"net/http"
)

// Standard OAuth 2.0 error codes (RFC 6749 Section 5.2, RFC 6750 Section 3.1,
// RFC 7591 Section 3.2.2).
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClientMetadata   = "invalid_client_metadata"
	CodeInvalidGrant            = "invalid_grant"
	CodeInvalidToken            = "invalid_token"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeAccessDenied            = "access_denied"
	CodeServerError             = "server_error"
)

// OAuthError is a protocol error that maps directly onto an OAuth error
// response body and HTTP status.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return e.Code + ": " + e.Description
}

// New returns an OAuthError with an explicit status.
func New(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

func InvalidRequest(description string) *OAuthError {
	return New(CodeInvalidRequest, description, http.StatusBadRequest)
}

func InvalidClientMetadata(description string) *OAuthError {
	return New(CodeInvalidClientMetadata, description, http.StatusBadRequest)
}

func InvalidGrant(description string) *OAuthError {
	return New(CodeInvalidGrant, description, http.StatusBadRequest)
}

func InvalidToken(description string) *OAuthError {
	return New(CodeInvalidToken, description, http.StatusUnauthorized)
}

func UnsupportedResponseType(description string) *OAuthError {
	return New(CodeUnsupportedResponseType, description, http.StatusBadRequest)
}

func UnsupportedGrantType(description string) *OAuthError {
	return New(CodeUnsupportedGrantType, description, http.StatusBadRequest)
}

// AccessDenied is used for upstream identity failures. The status varies:
// 502 when the provider misbehaved, 401 when its token was unacceptable.
func AccessDenied(description string, status int) *OAuthError {
	return New(CodeAccessDenied, description, status)
}

func ServerError(description string) *OAuthError {
	return New(CodeServerError, description, http.StatusInternalServerError)
}

// AsOAuth returns err as an *OAuthError. Anything that is not already a
// protocol error is replaced by a server_error carrying fallback, so
// internal details never reach the client.
func AsOAuth(err error, fallback string) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}
	return ServerError(fallback)
}

// IsCode reports whether err is an OAuthError with the given code.
func IsCode(err error, code string) bool {
	var oe *OAuthError
	return errors.As(err, &oe) && oe.Code == code
}

// Document proxy and search index errors.
var (
	ErrUnsafePath     = errors.New("unsafe document path")
	ErrCrossOrigin    = errors.New("cross-origin path is not allowed")
	ErrBaseURLMissing = errors.New("PUBLIC_BASE_URL is not configured")
	ErrInvalidIndex   = errors.New("search index format is invalid")
)
