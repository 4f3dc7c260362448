// Package app wires all voxquiz subsystems into a running kiosk.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the event loops and the HTTP server, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithAudioSource,
// WithVAD, WithMetrics). When an option is not provided, New creates real
// implementations from the config and the provider registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/internal/config"
	"github.com/MrWong99/voxquiz/internal/countdown"
	"github.com/MrWong99/voxquiz/internal/display"
	"github.com/MrWong99/voxquiz/internal/listener"
	"github.com/MrWong99/voxquiz/internal/media"
	"github.com/MrWong99/voxquiz/internal/observe"
	"github.com/MrWong99/voxquiz/internal/playback"
	"github.com/MrWong99/voxquiz/internal/quiz"
	"github.com/MrWong99/voxquiz/internal/resilience"
	"github.com/MrWong99/voxquiz/pkg/audio"
	"github.com/MrWong99/voxquiz/pkg/provider/vad"
)

// shutdownTimeout bounds the HTTP server drain.
const shutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	levelVar *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	source   audio.Source
	engine   vad.Engine
	hub      *display.Hub
	cache    *media.Cache
	client   *boundary.Client
	breaker  *resilience.Breaker
	listener *listener.Listener
	timer    *countdown.Timer
	player   *playback.Controller
	orch     *quiz.Orchestrator
	watcher  *config.Watcher
	server   *http.Server

	configPath string

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAudioSource injects a microphone source instead of creating one from
// the registry.
func WithAudioSource(src audio.Source) Option {
	return func(a *App) { a.source = src }
}

// WithVAD injects a VAD engine instead of creating one from the registry.
func WithVAD(e vad.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithMetrics sets the metrics recorder shared by all subsystems. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigWatch enables hot reload of the config file at path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The registry comes
// from main.go; New adds the "display" audio source because the display hub
// is owned by the App.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: reg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}

	// ── 1. Display hub ───────────────────────────────────────────────────
	a.hub = display.New(
		display.WithMetrics(a.metrics),
		display.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		display.WithMicSampleRate(cfg.Audio.DisplaySampleRate),
	)
	a.registry.RegisterAudio(config.AudioDisplay, func(config.AudioConfig) (audio.Source, error) {
		return a.hub, nil
	})
	a.closers = append(a.closers, a.hub.Close)

	// ── 2. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	// ── 3. Media cache ───────────────────────────────────────────────────
	if err := a.initMedia(); err != nil {
		return nil, fmt.Errorf("app: init media: %w", err)
	}

	// ── 4. Boundary client ───────────────────────────────────────────────
	if err := a.initBoundary(); err != nil {
		return nil, fmt.Errorf("app: init boundary: %w", err)
	}

	// ── 5. Microphone + VAD ──────────────────────────────────────────────
	if err := a.initListener(); err != nil {
		return nil, fmt.Errorf("app: init listener: %w", err)
	}

	// ── 6. Playback, countdown, orchestrator ─────────────────────────────
	a.initGame()

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.InfoContext(ctx, "kiosk assembled",
		"audio", cfg.Audio.Source,
		"vad", cfg.VAD.Engine,
		"boundary", cfg.Boundary.URL,
		"cached_media", a.cache.Len(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initMedia() error {
	mc := a.cfg.Media
	c, err := media.New(mc.CacheDir,
		media.WithBaseURL(mc.BaseURL),
		media.WithHTTPClient(&http.Client{Timeout: mc.Timeout}),
		media.WithConcurrency(mc.Concurrency),
		media.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.cache = c
	return nil
}

func (a *App) initBoundary() error {
	bc := a.cfg.Boundary
	a.breaker = resilience.New(resilience.Config{
		Name:         "boundary",
		MaxFailures:  bc.Breaker.MaxFailures,
		ResetTimeout: bc.Breaker.ResetTimeout,
		IsFailure:    boundary.IsBreakerFailure,
		OnStateChange: func(from, to resilience.State) {
			slog.Warn("backend circuit breaker changed state", "from", from, "to", to)
		},
	})
	c, err := boundary.New(bc.URL,
		boundary.WithHTTPClient(&http.Client{Timeout: bc.Timeout}),
		boundary.WithBreaker(a.breaker),
		boundary.WithMetrics(a.metrics),
		boundary.WithPaths(a.cfg.BoundaryPaths()),
	)
	if err != nil {
		return err
	}
	a.client = c
	return nil
}

func (a *App) initListener() error {
	if a.source == nil {
		src, err := a.registry.CreateAudio(a.cfg.Audio)
		if err != nil {
			return fmt.Errorf("create audio source %q: %w", a.cfg.Audio.Source, err)
		}
		a.source = src
		if src != audio.Source(a.hub) {
			a.closers = append(a.closers, src.Close)
		}
	}
	if a.engine == nil {
		e, err := a.registry.CreateVAD(a.cfg.VAD)
		if err != nil {
			return fmt.Errorf("create vad engine %q: %w", a.cfg.VAD.Engine, err)
		}
		a.engine = e
	}
	l, err := listener.New(a.source, a.engine, a.cfg.Listener(), listener.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.listener = l
	return nil
}

func (a *App) initGame() {
	a.player = playback.New(a.hub, a.cache)
	a.timer = countdown.New(countdown.WithTick(a.cfg.Game.CountdownTick, a.hub.Countdown))
	a.orch = quiz.New(a.client, a.listener, a.timer, a.player, a.hub,
		quiz.WithMetrics(a.metrics),
		quiz.WithContent(func() quiz.Content { return a.Config().Content() }),
		quiz.WithPrefetcher(a.cache),
	)
	a.hub.Attach(a.orch, a.player)
}

// Config returns the active configuration, including hot-reloaded content.
func (a *App) Config() *config.Config {
	if a.watcher != nil {
		return a.watcher.Current()
	}
	return a.cfg
}

// Orchestrator returns the game orchestrator.
func (a *App) Orchestrator() *quiz.Orchestrator { return a.orch }

func (a *App) onConfigChange(r config.Reload) {
	d := r.Diff
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ContentChanged {
		slog.Info("game content reloaded; applies from the next session")
	}
	if len(d.Restart) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.Restart)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP server, the listener loop, the orchestrator loop and
// the config watcher, and blocks until ctx is cancelled or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.listener.Run(ctx) })
	g.Go(func() error { return a.orch.Run(ctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	g.Go(func() error {
		if err := a.cache.Prefetch(ctx, a.assetURLs()...); err != nil && ctx.Err() == nil {
			slog.Warn("media warm-up failed", "err", err)
		}
		return nil
	})
	g.Go(func() error { return a.serve() })
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) serve() error {
	slog.Info("http server listening", "addr", a.server.Addr)
	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = a.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: http server: %w", err)
}

// assetURLs lists every configured clip video.
func (a *App) assetURLs() []string {
	assets := a.Config().Content().Assets
	urls := []string{
		assets.Intro.Video,
		assets.Welcome.Video,
		assets.CodeUsed.Video,
		assets.CodeRejected.Video,
		assets.Correct.Video,
	}
	for _, c := range assets.Wrong {
		urls = append(urls, c.Video)
	}
	for _, c := range assets.Results {
		urls = append(urls, c.Video)
	}
	return urls
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
