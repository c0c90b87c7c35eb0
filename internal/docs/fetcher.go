// Package docs reads pages from the protected documentation site on behalf
// of MCP tools. Paths are checked before any request leaves the process.
package docs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/alexjbarnes/kbgate/internal/metrics"
)

const (
	defaultTimeout   = 10 * time.Second
	maxDocumentBytes = 10 << 20
	defaultAccept    = "text/html,application/xhtml+xml,text/plain,*/*;q=0.1"
	defaultUserAgent = "DexProtectedDocs/1.0"
)

// Request carries per-call headers.
type Request struct {
	Accept    string
	UserAgent string
}

// Response is the first non-404 candidate, or the last 404.
type Response struct {
	URL         *url.URL
	Path        string
	Status      int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Fetcher issues GETs against PUBLIC_BASE_URL.
type Fetcher struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithTimeout bounds each outbound request.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMetrics records fetch latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// NewFetcher returns a fetcher for baseURL. An empty baseURL is accepted;
// every Fetch then fails with ErrBaseURLMissing.
func NewFetcher(baseURL string, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{timeout: defaultTimeout}

	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing PUBLIC_BASE_URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("PUBLIC_BASE_URL must use http or https")
		}
		f.base = u
	}

	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}

	return f, nil
}

// BaseURL returns the configured docs origin, or nil.
func (f *Fetcher) BaseURL() *url.URL {
	return f.base
}

// ResolveURL returns the public URL of a search index location.
func (f *Fetcher) ResolveURL(location string) (string, error) {
	if f.base == nil {
		return "", kberrors.ErrBaseURLMissing
	}

	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parsing location %q: %w", location, err)
	}

	return f.base.ResolveReference(ref).String(), nil
}

// Fetch tries each candidate of path in turn and returns the first
// response that is not a 404. Only that response's body is read.
func (f *Fetcher) Fetch(ctx context.Context, path string, req Request) (*Response, error) {
	if f.base == nil {
		return nil, kberrors.ErrBaseURLMissing
	}
	if !IsSafePath(path) {
		return nil, kberrors.ErrUnsafePath
	}

	if req.Accept == "" {
		req.Accept = defaultAccept
	}
	if req.UserAgent == "" {
		req.UserAgent = defaultUserAgent
	}

	var last *Response

	for _, candidate := range Candidates(path) {
		target, err := f.resolve(candidate)
		if err != nil {
			return nil, err
		}

		resp, err := f.get(ctx, target, req)
		if err != nil {
			return nil, err
		}

		resp.Path = candidate
		if resp.Status != http.StatusNotFound {
			return resp, nil
		}
		last = resp
	}

	return last, nil
}

func (f *Fetcher) resolve(candidate string) (*url.URL, error) {
	ref, err := url.Parse(candidate)
	if err != nil {
		return nil, kberrors.ErrUnsafePath
	}

	target := f.base.ResolveReference(ref)
	if target.Scheme != f.base.Scheme || target.Host != f.base.Host {
		return nil, kberrors.ErrCrossOrigin
	}

	return target, nil
}

func (f *Fetcher) get(ctx context.Context, target *url.URL, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", req.Accept)
	httpReq.Header.Set("User-Agent", req.UserAgent)

	started := time.Now()
	resp, err := f.client.Do(httpReq)
	f.metrics.ObserveUpstream("docs", started)

	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target.Path, err)
	}
	defer resp.Body.Close()

	out := &Response{
		URL:         target,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentBytes))
		return out, nil
	}

	out.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", target.Path, err)
	}

	return out, nil
}
