package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/metrics"
)

// Methods advertised in CORS preflight responses.
const (
	OAuthCORSMethods = "GET, POST, OPTIONS"
	MCPCORSMethods   = "POST, OPTIONS"
)

// SetCORSHeaders echoes the request origin, or "*" when there is none.
func SetCORSHeaders(w http.ResponseWriter, r *http.Request, methods string) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Headers", "authorization, content-type")
	h.Set("Access-Control-Allow-Methods", methods)
	h.Set("Access-Control-Max-Age", "86400")
	h.Set("Vary", "Origin")
}

// CORS adds CORS headers to every response and answers preflight requests
// with 204 before next runs.
func CORS(methods string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetCORSHeaders(w, r, methods)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// route adapts an error-returning handler. Protocol errors are written
// as OAuth JSON; anything else becomes server_error with fallback as the
// description, and the underlying error is only logged.
type route struct {
	name     string
	fallback string
	methods  []string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func (rt route) handle(h func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	cors := CORS(OAuthCORSMethods)

	return cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(rt.methods, r.Method) {
			w.Header().Set("Allow", strings.Join(rt.methods, ", ")+", "+http.MethodOptions)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		err := h(w, r)
		if err == nil {
			return
		}

		oe := kberrors.AsOAuth(err, rt.fallback)
		if oe.Status >= http.StatusInternalServerError {
			rt.logger.Error(rt.name+": request failed",
				slog.String("error", err.Error()),
				slog.String("code", oe.Code),
			)
		} else {
			rt.logger.Debug(rt.name+": request rejected",
				slog.String("code", oe.Code),
				slog.String("description", oe.Description),
			)
		}

		rt.metrics.OAuthError(rt.name, oe.Code)
		writeOAuthError(w, oe)
	})).ServeHTTP
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// writeJSON writes body with no-store caching headers.
func writeJSON(w http.ResponseWriter, status int, body any) {
	setNoStore(w)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func writeOAuthError(w http.ResponseWriter, oe *kberrors.OAuthError) {
	writeJSON(w, oe.Status, errorBody{Error: oe.Code, ErrorDescription: oe.Description})
}
