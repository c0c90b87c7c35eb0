// Package mcpserver registers the knowledge base MCP tools and serves them
// over stateless streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/alexjbarnes/kbgate/internal/docs"
	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/search"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DefaultIndexPath is where mkdocs writes its search index.
const DefaultIndexPath = "/search/search_index.json"

const (
	searchUserAgent = "DexMcpSearch/1.0"
	searchAccept    = "application/json,text/plain,*/*;q=0.1"
	fetchUserAgent  = "DexMcpFetch/1.0"
	fetchAccept     = "text/html,application/xhtml+xml,text/plain,application/xml,*/*;q=0.1"
)

// Deps are the collaborators the tools need.
type Deps struct {
	Fetcher         *docs.Fetcher
	IndexPath       string
	AllowedPrefixes []string
	Logger          *slog.Logger
}

// NewServer returns an MCP server with the search and fetch tools.
func NewServer(name, version string, d Deps) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	RegisterTools(server, d)
	return server
}

// NewHandler serves server over streamable HTTP without sessions, answering
// each POST with a plain JSON body.
func NewHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: true,
	})
}

// RegisterTools adds the knowledge base tools to the given MCP server.
func RegisterTools(server *mcp.Server, d Deps) {
	if d.IndexPath == "" {
		d.IndexPath = DefaultIndexPath
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search",
		Description: "Search the VB knowledge base. Returns result id/title/url for follow-up fetch.",
	}, searchHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch",
		Description: "Fetch full document content for one search result id.",
	}, fetchHandler(d))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// SearchInput holds parameters for search.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"search text, at least 2 characters"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum results, 1 to 25, defaults to 8"`
	PathPrefix string `json:"pathPrefix,omitempty" jsonschema:"optional path filter like /person or /org"`
	MaxChars   int    `json:"maxChars,omitempty" jsonschema:"snippet length, 120 to 5000, defaults to 320"`
}

// FetchInput holds parameters for fetch.
type FetchInput struct {
	ID       string `json:"id" jsonschema:"result id returned by search"`
	Format   string `json:"format,omitempty" jsonschema:"text or html, defaults to text"`
	MaxChars int    `json:"maxChars,omitempty" jsonschema:"content length, 1000 to 200000, defaults to 60000"`
}

// --- Output types ---

// SearchHit is one search result.
type SearchHit struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchResult is the search tool output.
type SearchResult struct {
	Query     string      `json:"query"`
	TotalHits int         `json:"totalHits"`
	Count     int         `json:"count"`
	Results   []SearchHit `json:"results"`
}

// FetchResult is the fetch tool output.
type FetchResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// --- Handlers ---

func searchHandler(d Deps) mcp.ToolHandlerFor[SearchInput, *SearchResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, *SearchResult, error) {
		query := strings.TrimSpace(input.Query)
		if query == "" {
			return nil, nil, toolError("Missing query")
		}
		if utf8.RuneCountInString(query) < 2 {
			return nil, nil, toolError("query must be at least 2 characters")
		}

		limit := docs.ClampInt(input.Limit, 1, 25, 8)
		maxChars := docs.ClampInt(input.MaxChars, 120, 5000, 320)

		indexPath := strings.TrimSpace(d.IndexPath)
		if !docs.IsSafePath(indexPath) {
			return nil, nil, toolError("SEARCH_INDEX_PATH is invalid")
		}
		if docs.IsAPIPath(docs.ExtractPathname(indexPath)) {
			return nil, nil, toolError("SEARCH_INDEX_PATH must not point to /api/*")
		}

		var requested string
		if prefix := strings.TrimSpace(input.PathPrefix); prefix != "" {
			if !docs.IsSafePath(prefix) {
				return nil, nil, toolError("Invalid pathPrefix")
			}
			requested = docs.ExtractPathname(prefix)
			if docs.IsAPIPath(requested) {
				return nil, nil, toolError("pathPrefix cannot target /api/*")
			}
			if !docs.IsPathAllowed(requested, d.AllowedPrefixes) {
				return nil, nil, toolErrorf("pathPrefix not allowed. Allowed prefixes: %s", strings.Join(d.AllowedPrefixes, ", "))
			}
		}

		resp, err := d.Fetcher.Fetch(ctx, indexPath, docs.Request{Accept: searchAccept, UserAgent: searchUserAgent})
		if err != nil {
			return nil, nil, d.upstreamError("search", err)
		}
		if resp.Status == http.StatusNotFound {
			return nil, nil, toolError("Search index not found")
		}
		if !resp.OK() {
			return nil, nil, toolErrorf("Search index error: %d", resp.Status)
		}

		entries, err := search.ParseDocs(resp.Body)
		if err != nil {
			return nil, nil, toolError("Search index format is invalid")
		}

		ranked := search.Rank(entries, search.Options{
			Query:           query,
			BaseURL:         d.Fetcher.BaseURL(),
			AllowedPrefixes: d.AllowedPrefixes,
			RequestedPrefix: requested,
			MaxChars:        maxChars,
		})

		hits := make([]SearchHit, 0, min(limit, len(ranked)))
		for _, r := range ranked[:min(limit, len(ranked))] {
			hits = append(hits, SearchHit{ID: r.ID, Title: r.Title, URL: r.URL})
		}

		result := &SearchResult{
			Query:     query,
			TotalHits: len(ranked),
			Count:     len(hits),
			Results:   hits,
		}
		return textResult(result), result, nil
	}
}

func fetchHandler(d Deps) mcp.ToolHandlerFor[FetchInput, *FetchResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FetchInput) (*mcp.CallToolResult, *FetchResult, error) {
		id := strings.TrimSpace(input.ID)
		if id == "" {
			return nil, nil, toolError("Missing id")
		}

		location, ok := search.ParseResultID(id)
		if !ok {
			return nil, nil, toolError("Invalid id")
		}

		path := docs.LocationToPath(location)
		if path == "" || !docs.IsSafePath(path) {
			return nil, nil, toolError("Invalid document path")
		}

		pathname := docs.ExtractPathname(path)
		if docs.IsAPIPath(pathname) {
			return nil, nil, toolError("Disallowed path")
		}
		if !docs.IsPathAllowed(pathname, d.AllowedPrefixes) {
			return nil, nil, toolErrorf("Path not allowed. Allowed prefixes: %s", strings.Join(d.AllowedPrefixes, ", "))
		}

		asHTML := input.Format == "html"
		maxChars := docs.ClampInt(input.MaxChars, 1000, 200000, 60000)

		resp, err := d.Fetcher.Fetch(ctx, path, docs.Request{Accept: fetchAccept, UserAgent: fetchUserAgent})
		if err != nil {
			return nil, nil, d.upstreamError("fetch", err)
		}
		if resp.Status == http.StatusNotFound {
			return nil, nil, toolError("Document not found")
		}
		if !resp.OK() {
			return nil, nil, toolErrorf("Fetch error: %d", resp.Status)
		}

		contentType := resp.ContentType
		if contentType == "" {
			contentType = "text/html; charset=utf-8"
		}
		isHTML := strings.Contains(contentType, "html")
		body := string(resp.Body)

		result := &FetchResult{ID: id}
		if isHTML {
			result.Title = docs.ExtractTitle(body)
		}

		result.URL, err = d.Fetcher.ResolveURL(location)
		if err != nil {
			return nil, nil, d.upstreamError("fetch", err)
		}

		switch {
		case asHTML:
			result.ContentType = contentType
			result.Content = docs.Truncate(body, maxChars)
		case isHTML:
			result.ContentType = "text/plain; charset=utf-8"
			result.Content = docs.Truncate(docs.HTMLToText(body), maxChars)
		default:
			result.ContentType = "text/plain; charset=utf-8"
			result.Content = docs.Truncate(strings.TrimSpace(body), maxChars)
		}

		return textResult(result), result, nil
	}
}

// upstreamError maps fetcher failures to the message shown to the client.
// Transport details are logged, not returned.
func (d Deps) upstreamError(tool string, err error) error {
	switch {
	case errors.Is(err, kberrors.ErrBaseURLMissing):
		return toolError("PUBLIC_BASE_URL is not configured")
	case errors.Is(err, kberrors.ErrUnsafePath):
		return toolError("Invalid target path")
	case errors.Is(err, kberrors.ErrCrossOrigin):
		return toolError("Cross-origin path is not allowed")
	}

	d.Logger.Warn("tool: upstream request failed",
		slog.String("tool", tool),
		slog.String("error", err.Error()),
	)
	return toolError("Upstream request failed")
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// toolError is a message shown verbatim to the MCP client as the tool
// result text.
type toolError string

func (e toolError) Error() string { return string(e) }

func toolErrorf(format string, args ...any) error {
	return toolError(fmt.Sprintf(format, args...))
}
