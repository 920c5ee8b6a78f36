// Package fetcher downloads tracked resources over plain HTTP for tasks
// whose resource ids map to a URL template.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hazyhaar/pagewatch/horosafe"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// Placeholder is replaced by the (query-escaped) resource id in templates.
const Placeholder = "{id}"

// DefaultUserAgent is sent when no override is configured.
const DefaultUserAgent = "Mozilla/5.0 (compatible; pagewatch/1.0)"

// Fetcher performs resource GETs.
type Fetcher struct {
	client   *http.Client
	ua       string
	lang     string
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.ua = ua
		}
	}
}

// WithAcceptLanguage sets the Accept-Language header.
func WithAcceptLanguage(l string) Option {
	return func(f *Fetcher) {
		if l != "" {
			f.lang = l
		}
	}
}

// WithMaxBytes caps a download. Default: horosafe.MaxResourceBytes.
func WithMaxBytes(n int64) Option { return func(f *Fetcher) { f.maxBytes = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// New returns a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 60 * time.Second},
		ua:       DefaultUserAgent,
		lang:     "en-US,en;q=0.8",
		maxBytes: horosafe.MaxResourceBytes,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Template returns a task.ResourceFetcher resolving ids through tpl. An
// empty template, or one without the placeholder, treats the id itself
// as the URL, resolved against base.
func (f *Fetcher) Template(tpl, base string) task.ResourceFetcher {
	return task.FetcherFunc(func(ctx context.Context, id string) (task.Resource, error) {
		u, err := Expand(tpl, base, id)
		if err != nil {
			return task.Resource{}, err
		}
		return f.Get(ctx, u, id)
	})
}

// Expand builds the download URL for id.
func Expand(tpl, base, id string) (string, error) {
	raw := id
	if strings.Contains(tpl, Placeholder) {
		raw = strings.ReplaceAll(tpl, Placeholder, url.QueryEscape(id))
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("fetcher: bad resource url %q: %w", raw, err)
	}
	if !ref.IsAbs() && base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("fetcher: bad base url %q: %w", base, err)
		}
		ref = b.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", fmt.Errorf("fetcher: unsupported scheme in %q", ref.String())
	}
	return ref.String(), nil
}

// Get downloads rawURL. Non-2xx responses are errors.
func (f *Fetcher) Get(ctx context.Context, rawURL, id string) (task.Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return task.Resource{}, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept-Language", f.lang)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return task.Resource{}, fmt.Errorf("fetcher: get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return task.Resource{}, fmt.Errorf("fetcher: get %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := horosafe.LimitedReadAll(resp.Body, f.maxBytes)
	if err != nil {
		return task.Resource{}, fmt.Errorf("fetcher: read %s: %w", rawURL, err)
	}

	f.logger.Debug("fetcher: downloaded", "url", rawURL, "id", id, "size", len(body))
	return task.Resource{Name: suggestName(resp, rawURL), Data: body}, nil
}

func suggestName(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "." && b != "/" {
			return b
		}
	}
	return ""
}
