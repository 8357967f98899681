// Package offlinecache is the field device's caching proxy. The browser talks to the
// proxy instead of the registry server; the proxy answers from a local response
// cache whenever the server cannot be reached.
package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"relief/internal/offlinecache/metrics"
	"relief/internal/offlinecache/models"
	"relief/pkg/platform/sentinel"
)

const (
	// HeaderCacheSource marks responses that did not come from the network.
	HeaderCacheSource = "X-Offline-Cache"
	// DefaultMarkerHeader is sent by the page framework on data-only requests.
	DefaultMarkerHeader = "X-Inertia"
	// OfflineMessage is the last-resort body when nothing usable is cached.
	OfflineMessage = "You are offline and this page has not been cached yet. Please connect and reload."

	staticPrefix   = "/build/"
	defaultTimeout = 10 * time.Second
)

// ErrNetworkUnavailable is returned by Fetch when the upstream cannot be reached and
// no cached answer is acceptable.
var ErrNetworkUnavailable = errors.New("network unavailable")

var defaultAssetHosts = []string{"fonts.bunny.net", "fonts.googleapis.com"}

// hop-by-hop headers are never forwarded.
var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// CacheStore persists cached responses by (cache, URL).
type CacheStore interface {
	Get(ctx context.Context, cache, url string) (*models.CachedResponse, error)
	Put(ctx context.Context, resp models.CachedResponse) error
	Names(ctx context.Context) ([]string, error)
	Drop(ctx context.Context, cache string) error
}

type strategy int

const (
	passThrough strategy = iota
	cacheFirst
	networkFirst
)

// Response is a fully buffered answer to one proxied request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// Source is "network" or the X-Offline-Cache value.
	Source string
}

type Proxy struct {
	origin     *url.URL
	http       *resty.Client
	store      CacheStore
	logger     *slog.Logger
	metrics    *metrics.Metrics
	marker     string
	assetHosts map[string]struct{}
	now        func() time.Time
}

type Option func(*Proxy)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// WithTimeout bounds every upstream fetch.
func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) { p.http.SetTimeout(d) }
}

func WithMarkerHeader(name string) Option {
	return func(p *Proxy) { p.marker = name }
}

// WithAssetHosts replaces the long-lived third-party asset hosts.
func WithAssetHosts(hosts ...string) Option {
	return func(p *Proxy) {
		p.assetHosts = make(map[string]struct{}, len(hosts))
		for _, h := range hosts {
			p.assetHosts[strings.ToLower(h)] = struct{}{}
		}
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) { p.http.SetTransport(rt) }
}

func WithClock(now func() time.Time) Option {
	return func(p *Proxy) { p.now = now }
}

// New builds a proxy in front of origin. Relative request URLs are resolved against
// origin; absolute-form requests go to their own host.
func New(origin string, st CacheStore, opts ...Option) (*Proxy, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin must be http(s), got %q", origin)
	}

	p := &Proxy{
		origin: u,
		http: resty.New().
			SetTimeout(defaultTimeout).
			SetRetryCount(0).
			SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			})),
		store:  st,
		logger: slog.Default(),
		marker: DefaultMarkerHeader,
		now:    time.Now,
	}
	WithAssetHosts(defaultAssetHosts...)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Install takes over immediately. Nothing is precached; pages are cached on first
// visit.
func (p *Proxy) Install(ctx context.Context) error {
	dropped, err := p.Activate(ctx)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "offline cache installed", "purged", dropped)
	return nil
}

// Activate drops every cache outside the current versioned set and returns the
// names it dropped.
func (p *Proxy) Activate(ctx context.Context) ([]string, error) {
	names, err := p.store.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	var dropped []string
	for _, name := range names {
		if isKnownCache(name) {
			continue
		}
		if err := p.store.Drop(ctx, name); err != nil {
			return dropped, fmt.Errorf("drop %s: %w", name, err)
		}
		dropped = append(dropped, name)
		if p.metrics != nil {
			p.metrics.CachePurged.Inc()
		}
	}
	return dropped, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := p.Fetch(r)
	if err != nil {
		if errors.Is(err, ErrNetworkUnavailable) {
			p.logger.DebugContext(r.Context(), "aborting offline request", "url", r.URL.String())
			// the caller must see a network failure, not a substitute response
			panic(http.ErrAbortHandler)
		}
		p.logger.ErrorContext(r.Context(), "proxy failure", "url", r.URL.String(), "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	for k, vs := range resp.Header {
		w.Header()[k] = vs
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// Fetch answers r the way ServeHTTP would, without writing it.
func (p *Proxy) Fetch(r *http.Request) (*Response, error) {
	target := p.target(r)
	strat, cache := p.route(r.Method, target)

	var (
		resp *Response
		err  error
	)
	switch strat {
	case passThrough:
		cache = "none"
		resp, err = p.forward(r, target)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
		}
	case cacheFirst:
		resp, err = p.cacheFirst(r, target, cache)
	default:
		resp, err = p.networkFirst(r, target, cache)
	}

	if p.metrics != nil {
		source := metrics.SourceAborted
		if resp != nil {
			source = resp.Source
		}
		p.metrics.IncrementResponse(cache, source)
	}
	return resp, err
}

func (p *Proxy) route(method string, target *url.URL) (strategy, string) {
	if method != http.MethodGet {
		return passThrough, ""
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return passThrough, ""
	}
	if _, ok := p.assetHosts[strings.ToLower(target.Hostname())]; ok {
		return cacheFirst, models.FontsCache
	}
	if strings.HasPrefix(target.Path, staticPrefix) {
		return cacheFirst, models.StaticCache
	}
	return networkFirst, models.PagesCache
}

func (p *Proxy) target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return p.origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
}

func (p *Proxy) cacheFirst(r *http.Request, target *url.URL, cache string) (*Response, error) {
	ctx := r.Context()
	key := target.String()

	cached, err := p.store.Get(ctx, cache, key)
	if err == nil {
		return fromCache(cached, metrics.SourceHit), nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		p.logger.WarnContext(ctx, "cache read failed", "cache", cache, "url", key, "error", err)
	}

	start := time.Now()
	resp, err := p.forward(r, target)
	if p.metrics != nil {
		p.metrics.ObserveFetch(cache, start)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	if isOK(resp.Status) {
		p.put(ctx, cache, key, resp, models.KindAsset)
	}
	return resp, nil
}

func (p *Proxy) networkFirst(r *http.Request, target *url.URL, cache string) (*Response, error) {
	ctx := r.Context()
	key := target.String()
	data := p.isDataRequest(r)

	start := time.Now()
	resp, fetchErr := p.forward(r, target)
	if p.metrics != nil {
		p.metrics.ObserveFetch(cache, start)
	}
	if fetchErr == nil {
		if isOK(resp.Status) {
			kind := models.KindData
			if !data && isHTML(resp.Header.Get("Content-Type")) {
				kind = models.KindPage
				p.put(ctx, cache, models.ShellKey, resp, models.KindPage)
			}
			p.put(ctx, cache, key, resp, kind)
		}
		return resp, nil
	}

	p.logger.DebugContext(ctx, "upstream unreachable, trying cache", "url", key, "error", fetchErr)

	cached, err := p.store.Get(ctx, cache, key)
	switch {
	case err == nil:
		if data || cached.Kind != models.KindData {
			return fromCache(cached, metrics.SourceHit), nil
		}
		shell, ok := p.shell(ctx, cache)
		if !ok {
			return offlineFallback(), nil
		}
		out := fromCache(shell, metrics.SourceHit)
		out.Body = Synthesize(shell.Body, cached.Body)
		return out, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		p.logger.WarnContext(ctx, "cache read failed", "cache", cache, "url", key, "error", err)
	}

	if data {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, fetchErr)
	}
	if shell, ok := p.shell(ctx, cache); ok {
		return fromCache(shell, metrics.SourceShell), nil
	}
	return offlineFallback(), nil
}

func (p *Proxy) forward(r *http.Request, target *url.URL) (*Response, error) {
	req := p.http.R().SetContext(r.Context())

	header := r.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	// let the transport negotiate compression so cached bodies are plain
	header.Del("Accept-Encoding")
	req.SetHeaderMultiValues(header)

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if len(body) > 0 {
			req.SetBody(body)
		}
	}

	res, err := req.Execute(r.Method, target.String())
	if err != nil {
		return nil, err
	}

	out := res.Header().Clone()
	for _, h := range hopHeaders {
		out.Del(h)
	}
	out.Del("Content-Length")
	return &Response{
		Status: res.StatusCode(),
		Header: out,
		Body:   res.Body(),
		Source: metrics.SourceNetwork,
	}, nil
}

func (p *Proxy) put(ctx context.Context, cache, key string, resp *Response, kind models.Kind) {
	err := p.store.Put(ctx, models.CachedResponse{
		Cache:       cache,
		URL:         key,
		Status:      resp.Status,
		ContentType: resp.Header.Get("Content-Type"),
		Kind:        kind,
		Body:        resp.Body,
		StoredAt:    p.now().UTC(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "cache write failed", "cache", cache, "url", key, "error", err)
	}
}

func (p *Proxy) shell(ctx context.Context, cache string) (*models.CachedResponse, bool) {
	shell, err := p.store.Get(ctx, cache, models.ShellKey)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			p.logger.WarnContext(ctx, "shell read failed", "error", err)
		}
		return nil, false
	}
	return shell, true
}

func (p *Proxy) isDataRequest(r *http.Request) bool {
	return r.Header.Get(p.marker) != ""
}

func fromCache(c *models.CachedResponse, source string) *Response {
	h := http.Header{}
	if c.ContentType != "" {
		h.Set("Content-Type", c.ContentType)
	}
	h.Set(HeaderCacheSource, source)
	return &Response{Status: c.Status, Header: h, Body: c.Body, Source: source}
}

func offlineFallback() *Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set(HeaderCacheSource, metrics.SourceFallback)
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   []byte(OfflineMessage),
		Source: metrics.SourceFallback,
	}
}

func isKnownCache(name string) bool {
	for _, known := range models.KnownCaches {
		if name == known {
			return true
		}
	}
	return false
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}
