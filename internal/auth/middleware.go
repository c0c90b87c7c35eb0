package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/models"
)

type contextKey int

const (
	ctxIdentity contextKey = iota
	ctxRemoteIP
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// RequestIdentity returns the verified access token payload from the
// context, or nil.
func RequestIdentity(ctx context.Context) *models.AccessTokenPayload {
	v, _ := ctx.Value(ctxIdentity).(*models.AccessTokenPayload)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// parseBearerToken extracts the token from an Authorization header.
func parseBearerToken(header string) (string, error) {
	if header == "" {
		return "", kberrors.InvalidToken("Missing Authorization header")
	}

	m := bearerPattern.FindStringSubmatch(header)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return "", kberrors.InvalidToken("Invalid bearer token")
	}

	return strings.TrimSpace(m[1]), nil
}

// Middleware returns HTTP middleware that validates Bearer access tokens.
// Rejections are 401 with a WWW-Authenticate header pointing to the
// protected resource metadata (RFC 9728 Section 5.1). A missing signing
// key is reported as server_error instead.
func Middleware(a *Authority, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			payload, err := authenticate(a, r)
			if err != nil {
				oe := kberrors.AsOAuth(err, "Unable to validate access token")
				logger.Debug("middleware: rejected bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("code", oe.Code),
					slog.String("description", oe.Description),
				)
				a.metrics.OAuthError("mcp", oe.Code)

				if oe.Code == kberrors.CodeInvalidToken {
					w.Header().Set("WWW-Authenticate", fmt.Sprintf(
						`Bearer error="invalid_token", error_description=%q, resource_metadata=%q`,
						oe.Description, a.Endpoints(r).ResourceMeta,
					))
				}
				writeOAuthError(w, oe)

				return
			}

			logger.Debug("middleware: authenticated via bearer token",
				slog.String("sub", payload.Sub),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxIdentity, payload)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(a *Authority, r *http.Request) (*models.AccessTokenPayload, error) {
	token, err := parseBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return a.VerifyAccessToken(r, token)
}
