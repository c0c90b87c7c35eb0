// Package server provides HTTP server construction for kbgate.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/kbgate/internal/auth"
	"github.com/alexjbarnes/kbgate/internal/mcpserver"
	"github.com/alexjbarnes/kbgate/internal/metrics"
	"github.com/alexjbarnes/kbgate/internal/upstream"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Authority  *auth.Authority
	Bridge     upstream.Bridge
	MCPHandler http.Handler
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux with OAuth discovery, registration,
// authorization, callback, token, and MCP endpoints. The MCP endpoint is
// protected by Bearer token middleware. /metrics is only mounted when
// Metrics is set.
func NewMux(cfg MuxConfig) *http.ServeMux {
	a := cfg.Authority

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", auth.HandleProtectedResourceMetadata(a))
	mux.HandleFunc("/.well-known/oauth-authorization-server", auth.HandleServerMetadata(a))
	mux.HandleFunc("/register", auth.HandleRegistration(a, cfg.Logger))
	mux.HandleFunc("/authorize", auth.HandleAuthorize(a, cfg.Bridge, cfg.Logger))
	mux.HandleFunc("/callback", auth.HandleCallback(a, cfg.Bridge, cfg.Logger))
	mux.HandleFunc("/token", auth.HandleToken(a, cfg.Logger))

	authMiddleware := auth.Middleware(a, cfg.Logger)
	mcpHandler := mcpserver.PostOnly(authMiddleware(mcpserver.BatchHandler(cfg.MCPHandler, cfg.Logger)))
	mux.Handle("/mcp", auth.CORS(auth.MCPCORSMethods)(mcpHandler))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}

	return mux
}

// New returns the mux wrapped in request logging.
func New(cfg MuxConfig) http.Handler {
	return RequestLogger(cfg.Logger, NewMux(cfg))
}
