package mcpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
)

const (
	maxRPCBody    = 4 << 20
	maxBatchInFly = 8
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   rpcError        `json:"error"`
}

var nullID = json.RawMessage("null")

func rpcErrorBody(id json.RawMessage, code int, message string) []byte {
	body, _ := json.Marshal(rpcErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcError{Code: code, Message: message},
	})
	return body
}

func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(rpcErrorBody(nullID, code, message))
}

// PostOnly rejects anything but POST with a JSON-RPC envelope.
func PostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST, OPTIONS")
			writeRPCError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "Only POST is supported")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BatchHandler accepts JSON-RPC batches in front of next, which only
// handles single messages. Each batch member is replayed against next as
// its own request, concurrently, and the responses are returned in request
// order. Members that produce no response (notifications) are left out; a
// batch of only notifications gets 202.
func BatchHandler(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeRPCError(w, http.StatusRequestEntityTooLarge, codeInvalidRequest, "Request body is too large")
				return
			}
			writeRPCError(w, http.StatusBadRequest, codeParseError, "Invalid JSON body")
			return
		}

		if !gjson.ValidBytes(raw) {
			writeRPCError(w, http.StatusBadRequest, codeParseError, "Invalid JSON body")
			return
		}

		root := gjson.ParseBytes(raw)
		if !root.IsArray() {
			r.Body = io.NopCloser(bytes.NewReader(raw))
			r.ContentLength = int64(len(raw))
			prepare(r)
			next.ServeHTTP(w, r)
			return
		}

		members := root.Array()
		if len(members) == 0 {
			writeRPCError(w, http.StatusBadRequest, codeInvalidRequest, "Batch payload cannot be empty")
			return
		}

		responses := make([][]byte, len(members))

		var g errgroup.Group
		g.SetLimit(maxBatchInFly)
		for i, member := range members {
			g.Go(func() error {
				responses[i] = dispatch(next, r, member)
				return nil
			})
		}
		_ = g.Wait()

		var out [][]byte
		for _, resp := range responses {
			if resp != nil {
				out = append(out, resp)
			}
		}

		logger.Debug("mcp: batch dispatched",
			slog.Int("requests", len(members)),
			slog.Int("responses", len(out)),
		)

		if len(out) == 0 {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("["))
		_, _ = w.Write(bytes.Join(out, []byte(",")))
		_, _ = w.Write([]byte("]"))
	})
}

// dispatch runs one batch member through next and returns its JSON-RPC
// response, or nil when there is none.
func dispatch(next http.Handler, parent *http.Request, member gjson.Result) []byte {
	sub := parent.Clone(parent.Context())
	sub.Body = io.NopCloser(strings.NewReader(member.Raw))
	sub.ContentLength = int64(len(member.Raw))
	prepare(sub)

	rec := newBufferedResponse()
	next.ServeHTTP(rec, sub)

	body := bytes.TrimSpace(rec.body.Bytes())
	if len(body) == 0 {
		return nil
	}
	if gjson.ValidBytes(body) && gjson.GetBytes(body, "jsonrpc").Exists() {
		return body
	}

	// next rejected the member with a plain HTTP error.
	id := nullID
	if v := member.Get("id"); member.IsObject() && v.Exists() {
		id = json.RawMessage(v.Raw)
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(rec.status)
	}

	return rpcErrorBody(id, codeInvalidRequest, msg)
}

// prepare fills in the headers the streamable transport insists on.
// Older clients send neither.
func prepare(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")

	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream") {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}
}

// bufferedResponse collects a handler's output in memory.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) Flush() {}
