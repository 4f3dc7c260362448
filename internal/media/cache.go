// Package media keeps question and reaction videos on local disk so playback
// does not depend on the backend while a participant is waiting.
//
// [Cache.Get] downloads a remote URL once and returns a local reference served
// by [Cache.Handler]. Any failure returns the original URL unchanged and is not
// remembered, so the next request tries again. Entries are never evicted;
// files already present in the cache directory from a previous run are reused
// without a download.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/voxquiz/internal/observe"
)

const (
	// DefaultPrefix is the URL path under which cached files are served.
	DefaultPrefix = "/media/"

	// DefaultConcurrency bounds parallel downloads during [Cache.Prefetch].
	DefaultConcurrency = 4
)

// Option configures a [Cache].
type Option func(*Cache)

// WithBaseURL sets the URL that relative media paths are resolved against.
func WithBaseURL(base string) Option {
	return func(c *Cache) {
		if u, err := url.Parse(base); err == nil && base != "" {
			c.base = u
		}
	}
}

// WithHTTPClient replaces the download client. The client's timeout bounds
// each download.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Cache) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithPrefix sets the path prefix of returned references. It must match the
// route [Cache.Handler] is mounted on.
func WithPrefix(p string) Option {
	return func(c *Cache) {
		if p != "" {
			c.prefix = "/" + strings.Trim(p, "/") + "/"
		}
	}
}

// WithConcurrency bounds parallel downloads during Prefetch.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Cache is a write-once disk cache keyed by absolute URL. Safe for concurrent
// use.
type Cache struct {
	dir         string
	base        *url.URL
	client      *http.Client
	prefix      string
	concurrency int
	metrics     *observe.Metrics

	mu      sync.RWMutex
	entries map[string]string // absolute URL -> local reference
	group   singleflight.Group
}

// New creates the cache directory if needed and returns an empty Cache.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("media: cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create cache dir %q: %w", dir, err)
	}
	c := &Cache{
		dir:         dir,
		client:      &http.Client{Timeout: 2 * time.Minute},
		prefix:      DefaultPrefix,
		concurrency: DefaultConcurrency,
		entries:     make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Get returns a local reference for rawURL, downloading it on first use.
// Concurrent calls for the same URL share one download. On any failure the
// original rawURL is returned and nothing is cached. Empty input and
// references that are already local are returned as-is.
func (c *Cache) Get(ctx context.Context, rawURL string) string {
	abs, ok := c.resolve(rawURL)
	if !ok {
		return rawURL
	}
	if ref, hit := c.lookup(abs); hit {
		c.metrics.RecordMediaLookup(ctx, "hit")
		return ref
	}

	v, err, _ := c.group.Do(abs, func() (any, error) {
		if ref, hit := c.lookup(abs); hit {
			return ref, nil
		}
		// Detached from the caller so one cancelled waiter does not fail the
		// download for everyone sharing it.
		ref, err := c.fetch(context.WithoutCancel(ctx), abs)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[abs] = ref
		c.mu.Unlock()
		return ref, nil
	})
	if err != nil {
		c.metrics.RecordMediaLookup(ctx, "failed")
		slog.Warn("media: caching failed, using remote url", "url", abs, "err", err)
		return rawURL
	}
	c.metrics.RecordMediaLookup(ctx, "fetched")
	return v.(string)
}

// Lookup returns the local reference for rawURL if it is already cached, and
// rawURL otherwise. It never blocks on the network.
func (c *Cache) Lookup(rawURL string) string {
	abs, ok := c.resolve(rawURL)
	if !ok {
		return rawURL
	}
	if ref, hit := c.lookup(abs); hit {
		return ref
	}
	return rawURL
}

// Prefetch warms the cache for urls with bounded parallelism. Duplicates and
// empty entries are skipped. Individual failures are logged by Get and do not
// stop the others; the only error returned is ctx's.
func (c *Cache) Prefetch(ctx context.Context, urls ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c.Get(gctx, u)
			return nil
		})
	}
	return g.Wait()
}

// Handler serves cached files. Mount it at the cache prefix.
func (c *Cache) Handler() http.Handler {
	fs := http.FileServer(http.Dir(c.dir))
	return http.StripPrefix(strings.TrimSuffix(c.prefix, "/"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		fs.ServeHTTP(w, r)
	}))
}

// Len returns the number of cached entries known to this process.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(abs string) (string, bool) {
	c.mu.RLock()
	ref, ok := c.entries[abs]
	c.mu.RUnlock()
	if ok {
		return ref, true
	}
	// A file left by a previous run counts as cached.
	name := fileName(abs)
	if info, err := os.Stat(filepath.Join(c.dir, name)); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		ref = c.prefix + name
		c.mu.Lock()
		c.entries[abs] = ref
		c.mu.Unlock()
		return ref, true
	}
	return "", false
}

// resolve turns rawURL into an absolute http(s) URL. It reports false for
// input that should not be cached at all.
func (c *Cache) resolve(rawURL string) (string, bool) {
	if rawURL == "" || strings.HasPrefix(rawURL, c.prefix) {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if !u.IsAbs() {
		if c.base == nil {
			return "", false
		}
		u = c.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

func (c *Cache) fetch(ctx context.Context, abs string) (string, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, abs, nil)
	if err != nil {
		return "", fmt.Errorf("media: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("media: download: unexpected status %d", resp.StatusCode)
	}

	name := fileName(abs)
	tmp, err := os.CreateTemp(c.dir, ".part-*")
	if err != nil {
		return "", fmt.Errorf("media: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("media: write %q: %w", name, err)
	}
	if n == 0 {
		return "", fmt.Errorf("media: download: empty body")
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		return "", fmt.Errorf("media: store %q: %w", name, err)
	}

	c.metrics.MediaFetchDuration.Record(ctx, time.Since(start).Seconds())
	slog.Debug("media: cached", "url", abs, "file", name, "bytes", n)
	return c.prefix + name, nil
}

// fileName derives a stable file name from the URL: the SHA-256 of the URL
// plus the extension of its path.
func fileName(abs string) string {
	sum := sha256.Sum256([]byte(abs))
	name := hex.EncodeToString(sum[:])
	if u, err := url.Parse(abs); err == nil {
		if ext := path.Ext(u.Path); len(ext) > 1 && len(ext) <= 6 {
			name += strings.ToLower(ext)
		}
	}
	return name
}
