// Package upstream talks to the identity provider that authenticates end
// users on behalf of the authorization server.
package upstream

//go:generate mockgen -destination=mocks/mock_bridge.go -package=mocks github.com/alexjbarnes/kbgate/internal/upstream Bridge

import (
	"context"

	"github.com/alexjbarnes/kbgate/internal/models"
)

// Bridge is the upstream OIDC provider as seen by the callback handler.
type Bridge interface {
	// AuthorizationURL returns where to send the browser. callbackURL is
	// this server's /callback and state is the signed upstream state.
	AuthorizationURL(callbackURL, state string) (string, error)

	// ExchangeCode trades an upstream authorization code for a verified
	// identity.
	ExchangeCode(ctx context.Context, code, callbackURL string) (*models.Identity, error)

	// VerifyIDToken checks an id_token signature and claims.
	VerifyIDToken(ctx context.Context, idToken string) (*models.Identity, error)
}
