// Package fetcher implements the HTTP-only acquisition path (stealth level 0).
// No browser, no JS: one GET whose body is parsed into an in-memory document
// for a static dry run, or inspected to decide whether a browser is needed.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/domreplay/htmldoc"
	"github.com/hazyhaar/domreplay/urlguard"
)

// Result is the outcome of an HTTP fetch.
type Result struct {
	HTML       []byte
	FinalURL   string // after redirects; the base for script sources
	StatusCode int
	Sufficient bool // enough static content that no browser is needed
}

// Fetcher performs HTTP GETs.
type Fetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher with sensible defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; DOMReplay/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs a URL.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetcher: %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := urlguard.ReadLimited(resp.Body, urlguard.MaxPageBody)
	if err != nil {
		return nil, fmt.Errorf("fetcher: read %s: %w", pageURL, err)
	}

	res := &Result{
		HTML:       body,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Sufficient: IsSufficient(body),
	}

	f.logger.Debug("fetcher: fetched",
		"url", pageURL, "status", resp.StatusCode,
		"size", len(body), "sufficient", res.Sufficient)

	return res, nil
}

// Document fetches a URL and parses it into an in-memory document whose
// script sources resolve against the final URL.
func (f *Fetcher) Document(ctx context.Context, pageURL string) (*htmldoc.Document, *Result, error) {
	res, err := f.Fetch(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := htmldoc.Parse(bytes.NewReader(res.HTML),
		htmldoc.WithBaseURL(res.FinalURL),
		htmldoc.WithLogger(f.logger))
	if err != nil {
		return nil, nil, fmt.Errorf("fetcher: %w", err)
	}
	return doc, res, nil
}

// NeedsBrowser decides the "auto" stealth level: a page whose static HTML
// is sufficient and carries no scripts has nothing to replay.
func NeedsBrowser(doc *htmldoc.Document, res *Result) bool {
	if !res.Sufficient {
		return true
	}
	scripts, err := doc.Scripts()
	return err != nil || len(scripts) > 0
}
