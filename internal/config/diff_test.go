package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxquiz/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()
	base := mustLoad(t, fullYAML)

	tests := []struct {
		name        string
		mutate      func(c *config.Config)
		logLevel    bool
		content     bool
		restart     []string
		wantLogNext config.LogLevel
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{
			name:        "log level",
			mutate:      func(c *config.Config) { c.Server.LogLevel = config.LogWarn },
			logLevel:    true,
			wantLogNext: config.LogWarn,
		},
		{
			name:    "answer time",
			mutate:  func(c *config.Config) { c.Game.AnswerTime = 30 * time.Second },
			content: true,
		},
		{
			name:    "result clip",
			mutate:  func(c *config.Config) { c.Assets.Results["5-5"] = config.ClipConfig{Video: "/storage/new.mp4"} },
			content: true,
		},
		{
			name:    "text",
			mutate:  func(c *config.Config) { c.Texts.CodeNotFound.Hint = "Nochmal" },
			content: true,
		},
		{
			name: "restart sections",
			mutate: func(c *config.Config) {
				c.Server.AllowedOrigins = []string{"other.local"}
				c.Boundary.URL = "http://elsewhere"
				c.VAD.NoiseFloor = 0.05
			},
			restart: []string{"server", "boundary", "vad"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := mustLoad(t, fullYAML)
			tt.mutate(next)
			d := config.Diff(base, next)

			if d.LogLevelChanged != tt.logLevel || d.NewLogLevel != tt.wantLogNext {
				t.Errorf("log level: changed=%v new=%q", d.LogLevelChanged, d.NewLogLevel)
			}
			if d.ContentChanged != tt.content {
				t.Errorf("ContentChanged = %v, want %v", d.ContentChanged, tt.content)
			}
			if !slices.Equal(d.Restart, tt.restart) {
				t.Errorf("Restart = %v, want %v", d.Restart, tt.restart)
			}
			if empty := !tt.logLevel && !tt.content && len(tt.restart) == 0; d.Empty() != empty {
				t.Errorf("Empty = %v, want %v", d.Empty(), empty)
			}
		})
	}
}
