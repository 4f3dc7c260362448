// Command voxquiz is the main entry point for the voice-driven kiosk quiz.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxquiz/internal/app"
	"github.com/MrWong99/voxquiz/internal/config"
	"github.com/MrWong99/voxquiz/internal/observe"
	"github.com/MrWong99/voxquiz/pkg/audio"
	"github.com/MrWong99/voxquiz/pkg/audio/portaudio"
	"github.com/MrWong99/voxquiz/pkg/provider/vad"
	"github.com/MrWong99/voxquiz/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxquiz.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload game content and log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxquiz: config file %q not found; at minimum it needs boundary.url\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxquiz: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(levelVar))

	slog.Info("voxquiz starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		KioskID:        cfg.Telemetry.KioskID,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{app.WithLevelVar(levelVar)}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("kiosk ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the VAD engines and microphone sources that
// ship with voxquiz into reg. The "display" source is added by the app,
// which owns the display hub.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterVAD("energy", func(c config.VADConfig) (vad.Engine, error) {
		var opts []energy.Option
		if c.ReferenceRMS > 0 {
			opts = append(opts, energy.WithReferenceRMS(c.ReferenceRMS))
		}
		return energy.New(opts...), nil
	})

	reg.RegisterAudio(config.AudioPortAudio, func(c config.AudioConfig) (audio.Source, error) {
		src, err := portaudio.New(c.SampleRate, portaudio.WithFramesPerBuffer(c.FramesPerBuffer))
		if err != nil {
			return nil, err
		}
		return src, nil
	})

	vads, sources := reg.Names()
	slog.Debug("registered providers", "vad", vads, "audio", sources)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxquiz - startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend", cfg.Boundary.URL)
	printRow("Audio", cfg.Audio.Source)
	printRow("VAD", cfg.VAD.Engine)
	printRow("Media cache", cfg.Media.CacheDir)
	if cfg.Server.StaticDir != "" {
		printRow("Static dir", cfg.Server.StaticDir)
	} else {
		printRow("Static dir", "(none)")
	}
	if cfg.Boundary.ProxyEnabled() {
		printRow("Backend proxy", "enabled")
	} else {
		printRow("Backend proxy", "(disabled)")
	}
	fmt.Printf("║  %-15s : %-19d ║\n", "Result clips", len(cfg.Assets.Results))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
