package app

import (
	"log/slog"
	"testing"

	"github.com/MrWong99/voxquiz/internal/config"
)

func TestOnConfigChange_LogLevel(t *testing.T) {
	t.Parallel()
	lv := &slog.LevelVar{}
	a := &App{levelVar: lv}

	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	next := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}
	a.onConfigChange(config.Reload{Old: old, New: next, Diff: config.Diff(old, next)})
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}

	// Content-only changes leave the level alone.
	content := *next
	content.Game.AnswerTime = 1
	a.onConfigChange(config.Reload{Old: next, New: &content, Diff: config.Diff(next, &content)})
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v after a content change", lv.Level())
	}
}
