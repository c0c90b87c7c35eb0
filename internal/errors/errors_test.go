package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_CodeAndStatus(t *testing.T) {
	tests := []struct {
		err    *OAuthError
		code   string
		status int
	}{
		{InvalidRequest("x"), CodeInvalidRequest, http.StatusBadRequest},
		{InvalidClientMetadata("x"), CodeInvalidClientMetadata, http.StatusBadRequest},
		{InvalidGrant("x"), CodeInvalidGrant, http.StatusBadRequest},
		{InvalidToken("x"), CodeInvalidToken, http.StatusUnauthorized},
		{UnsupportedResponseType("x"), CodeUnsupportedResponseType, http.StatusBadRequest},
		{UnsupportedGrantType("x"), CodeUnsupportedGrantType, http.StatusBadRequest},
		{AccessDenied("x", http.StatusBadGateway), CodeAccessDenied, http.StatusBadGateway},
		{ServerError("x"), CodeServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, "x", tt.err.Description)
		})
	}
}

func TestOAuthError_Message(t *testing.T) {
	err := InvalidGrant("Token is expired")
	assert.Equal(t, "invalid_grant: Token is expired", err.Error())
}

func TestAsOAuth_PassesThroughWrapped(t *testing.T) {
	orig := InvalidGrant("bad code")
	wrapped := fmt.Errorf("exchanging: %w", orig)

	got := AsOAuth(wrapped, "fallback")
	require.NotNil(t, got)
	assert.Same(t, orig, got)
}

func TestAsOAuth_CoercesUnknown(t *testing.T) {
	got := AsOAuth(errors.New("disk on fire"), "Unexpected token error")
	assert.Equal(t, CodeServerError, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.Equal(t, "Unexpected token error", got.Description)
}

func TestIsCode(t *testing.T) {
	assert.True(t, IsCode(fmt.Errorf("w: %w", InvalidToken("x")), CodeInvalidToken))
	assert.False(t, IsCode(InvalidToken("x"), CodeInvalidGrant))
	assert.False(t, IsCode(errors.New("plain"), CodeInvalidGrant))
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrUnsafePath,
		ErrCrossOrigin,
		ErrBaseURLMissing,
		ErrInvalidIndex,
	}
	for i := 0; i < len(sentinels); i++ {
		assert.NotEmpty(t, sentinels[i].Error())
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}
