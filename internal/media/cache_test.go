package media_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxquiz/internal/media"
	"github.com/MrWong99/voxquiz/internal/observe"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// videoServer serves "video:<path>" for every request and counts hits per path.
// Paths starting with /broken answer 500.
type videoServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
	gate chan struct{} // when non-nil, requests block until it is closed
}

func newVideoServer(t *testing.T) *videoServer {
	t.Helper()
	vs := &videoServer{hits: make(map[string]int)}
	vs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vs.mu.Lock()
		vs.hits[r.URL.Path]++
		gate := vs.gate
		vs.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if strings.HasPrefix(r.URL.Path, "/broken") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "video:"+r.URL.Path)
	}))
	t.Cleanup(vs.Close)
	return vs
}

func (vs *videoServer) hitCount(p string) int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.hits[p]
}

func newCache(t *testing.T, dir string, opts ...media.Option) *media.Cache {
	t.Helper()
	c, err := media.New(dir, append([]media.Option{media.WithMetrics(testMetrics(t))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGet_Idempotent(t *testing.T) {
	t.Parallel()
	vs := newVideoServer(t)
	c := newCache(t, t.TempDir())
	ctx := context.Background()

	u := vs.URL + "/videos/q1.mp4"
	first := c.Get(ctx, u)
	second := c.Get(ctx, u)

	if first == u {
		t.Fatalf("Get returned the remote url, want a local reference")
	}
	if !strings.HasPrefix(first, media.DefaultPrefix) || !strings.HasSuffix(first, ".mp4") {
		t.Errorf("reference %q: want %s<hash>.mp4", first, media.DefaultPrefix)
	}
	if first != second {
		t.Errorf("second Get returned %q, want %q", second, first)
	}
	if n := vs.hitCount("/videos/q1.mp4"); n != 1 {
		t.Errorf("remote fetched %d times, want 1", n)
	}
	if c.Lookup(u) != first {
		t.Errorf("Lookup after Get: got %q, want %q", c.Lookup(u), first)
	}
}

func TestGet_FailureNotCached(t *testing.T) {
	t.Parallel()
	vs := newVideoServer(t)
	c := newCache(t, t.TempDir())
	ctx := context.Background()

	u := vs.URL + "/broken/q2.mp4"
	if got := c.Get(ctx, u); got != u {
		t.Errorf("Get on failure: got %q, want original url", got)
	}
	if got := c.Get(ctx, u); got != u {
		t.Errorf("second Get on failure: got %q, want original url", got)
	}
	if n := vs.hitCount("/broken/q2.mp4"); n != 2 {
		t.Errorf("remote fetched %d times, want 2 (failures must not be cached)", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestGet_UnreachableReturnsURL(t *testing.T) {
	t.Parallel()
	c := newCache(t, t.TempDir(), media.WithHTTPClient(&http.Client{Timeout: 500 * time.Millisecond}))
	u := "http://127.0.0.1:1/never.mp4"
	if got := c.Get(context.Background(), u); got != u {
		t.Errorf("got %q, want %q", got, u)
	}
}

func TestGet_ConcurrentCallsShareDownload(t *testing.T) {
	t.Parallel()
	vs := newVideoServer(t)
	vs.gate = make(chan struct{})
	c := newCache(t, t.TempDir())
	u := vs.URL + "/videos/shared.mp4"

	const callers = 8
	refs := make([]string, callers)
	var wg sync.WaitGroup
	var started atomic.Int32
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Add(1)
			refs[i] = c.Get(context.Background(), u)
		}()
	}
	for started.Load() < callers {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(vs.gate)
	wg.Wait()

	for i, r := range refs {
		if r != refs[0] || r == u {
			t.Errorf("caller %d got %q, want shared local reference %q", i, r, refs[0])
		}
	}
	if n := vs.hitCount("/videos/shared.mp4"); n != 1 {
		t.Errorf("remote fetched %d times, want 1", n)
	}
}

func TestGet_RelativeURLUsesBase(t *testing.T) {
	t.Parallel()
	vs := newVideoServer(t)
	c := newCache(t, t.TempDir(), media.WithBaseURL(vs.URL+"/"))

	ref := c.Get(context.Background(), "/storage/intro.mp4")
	if ref == "/storage/intro.mp4" {
		t.Fatal("relative url was not resolved against the base")
	}
	if n := vs.hitCount("/storage/intro.mp4"); n != 1 {
		t.Errorf("remote fetched %d times, want 1", n)
	}
}

func TestGet_PassThrough(t *testing.T) {
	t.Parallel()
	c := newCache(t, t.TempDir())
	ctx := context.Background()
	for _, in := range []string{"", "/media/abc.mp4", "relative/without/base.mp4", "file:///etc/passwd"} {
		if got := c.Get(ctx, in); got != in {
			t.Errorf("Get(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestLookup_DoesNotFetch(t *testing.T) {
	t.Parallel()
	vs := newVideoServer(t)
	c := newCache(t, t.TempDir())
	u := vs.URL + "/videos/lazy.mp4"
	if got := c.Lookup(u); got != u {
		t.Errorf("Lookup on a cold cache: got %q, want %q", got, u)
	}
	if n := vs.hitCount("/videos/lazy.mp4"); n != 0 {
		t.Errorf("Lookup fetched %d times, want 0", n)
	}
}

func TestPrefetch(t *testing.T) {
	t.Parallel()
	vs := newVideoServer(t)
	c := newCache(t, t.TempDir(), media.WithConcurrency(2))
	urls := []string{
		vs.URL + "/v/1.mp4",
		vs.URL + "/v/2.mp4",
		vs.URL + "/v/1.mp4",
		"",
		vs.URL + "/broken/3.mp4",
	}
	if err := c.Prefetch(context.Background(), urls...); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if n := vs.hitCount("/v/1.mp4"); n != 1 {
		t.Errorf("duplicate url fetched %d times, want 1", n)
	}
}

func TestPrefetch_Cancelled(t *testing.T) {
	t.Parallel()
	c := newCache(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Prefetch(ctx, "http://127.0.0.1:1/a.mp4"); err == nil {
		t.Error("expected context error")
	}
}

func TestHandler_ServesCachedFile(t *testing.T) {
	t.Parallel()
	vs := newVideoServer(t)
	c := newCache(t, t.TempDir())
	ref := c.Get(context.Background(), vs.URL+"/videos/served.mp4")

	mux := http.NewServeMux()
	mux.Handle(media.DefaultPrefix, c.Handler())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ref, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "video:/videos/served.mp4" {
		t.Errorf("body = %q", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, media.DefaultPrefix, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("directory listing status = %d, want 404", rec.Code)
	}
}

func TestCache_ReusesFilesFromPreviousRun(t *testing.T) {
	t.Parallel()
	vs := newVideoServer(t)
	dir := t.TempDir()
	u := vs.URL + "/videos/persist.mp4"

	first := newCache(t, dir).Get(context.Background(), u)
	second := newCache(t, dir)
	if got := second.Lookup(u); got != first {
		t.Errorf("Lookup in a new process: got %q, want %q", got, first)
	}
	if n := vs.hitCount("/videos/persist.mp4"); n != 1 {
		t.Errorf("remote fetched %d times, want 1", n)
	}
}
