package app

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxquiz/internal/health"
	"github.com/MrWong99/voxquiz/internal/media"
	"github.com/MrWong99/voxquiz/internal/observe"
)

// micMaxGap is how long the microphone may stay silent at the transport
// level before /readyz fails. Silence in the room still produces frames.
const micMaxGap = 10 * time.Second

// Handler returns the kiosk HTTP surface.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	checks := []health.Checker{
		health.Breaker(a.breaker),
		health.Microphone(a.listener.LastFrame, micMaxGap),
		health.Writable("media_cache", a.cfg.Media.CacheDir),
	}
	health.New(checks...).Register(r)

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", a.hub)
	r.Handle(media.DefaultPrefix+"*", a.cache.Handler())

	var proxy http.Handler
	if a.cfg.Boundary.ProxyEnabled() {
		rp := httputil.NewSingleHostReverseProxy(a.client.BaseURL())
		rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("backend proxy request failed", "path", r.URL.Path, "err", err)
			w.WriteHeader(http.StatusBadGateway)
		}
		proxy = rp
	}
	r.NotFound(handleStatic(a.cfg.Server.StaticDir, proxy))
	return r
}

// handleStatic serves files from dir with index.html at the root. Paths that
// match no file go to fallback, or 404 when fallback is nil.
func handleStatic(dir string, fallback http.Handler) http.HandlerFunc {
	var fileServer http.Handler
	if dir != "" {
		fileServer = http.FileServer(http.Dir(dir))
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if fileServer != nil {
			path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
			if info, err := os.Stat(path); err == nil && (!info.IsDir() || r.URL.Path == "/") {
				fileServer.ServeHTTP(w, r)
				return
			}
		}
		if fallback != nil {
			fallback.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	}
}
