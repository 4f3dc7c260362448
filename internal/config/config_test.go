package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/internal/config"
	"github.com/MrWong99/voxquiz/internal/quiz"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  static_dir: web
  allowed_origins: ["kiosk.local"]
telemetry:
  service_name: quiz-hall-a
  kiosk_id: hall-a-1
  trace_sample_ratio: 0.25
boundary:
  url: http://backend:8000
  timeout: 10s
  paths:
    start: /api/start
  breaker:
    max_failures: 3
    reset_timeout: 1m
  proxy: false
audio:
  source: display
  display_sample_rate: 48000
vad:
  engine: energy
  reference_rms: 2500
  positive_speech_threshold: 0.6
  negative_speech_threshold: 0.3
  min_speech_frames: 4
  noise_floor: 0.02
  max_capture: 8s
game:
  answer_time: 20s
  reveal_delay: 1500ms
  max_code_attempts: 2
media:
  cache_dir: /var/cache/voxquiz
  concurrency: 2
assets:
  intro:
    video: /storage/intro.mp4
    cues:
      - {start: 0s, end: 2s, text: Hello}
      - {start: 2s, end: 5s, text: Say your code}
  code_rejected:
    video: /storage/rejected.mp4
  correct:
    video: /storage/correct.mp4
    subtitle: Well done
  wrong:
    a: {video: /storage/wrong-a.mp4}
    B: {video: /storage/wrong-b.mp4}
  results:
    "5-5": {video: /storage/perfect.mp4}
    "3-5": {video: /storage/good.mp4}
    "0-5": {video: /storage/low.mp4}
texts:
  code_prompt: Sag deinen Code.
  listening: {label: Sprich, hint: Mikrofon ist an}
  welcome: "Hallo %s!"
  game_over: "%d von %d richtig"
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Boundary.Timeout != 10*time.Second || cfg.Boundary.Breaker.ResetTimeout != time.Minute {
		t.Errorf("boundary = %+v", cfg.Boundary)
	}
	if cfg.Boundary.ProxyEnabled() {
		t.Error("proxy should be disabled")
	}
	if tc := cfg.Telemetry; tc.KioskID != "hall-a-1" || tc.TraceSampleRatio == nil || *tc.TraceSampleRatio != 0.25 {
		t.Errorf("telemetry = %+v", tc)
	}
	if cfg.Media.BaseURL != "http://backend:8000" {
		t.Errorf("media.base_url = %q, want the boundary url", cfg.Media.BaseURL)
	}
	if cfg.Audio.Source != config.AudioDisplay || cfg.Audio.DisplaySampleRate != 48000 || cfg.Audio.SampleRate != 16000 {
		t.Errorf("audio = %+v", cfg.Audio)
	}

	paths := cfg.BoundaryPaths()
	if paths.Start != "/api/start" || paths.CheckCode != "" {
		t.Errorf("paths = %+v", paths)
	}

	lc := cfg.Listener()
	if lc.PositiveSpeechThreshold != 0.6 || lc.MinSpeechFrames != 4 || lc.MaxCapture != 8*time.Second {
		t.Errorf("listener config = %+v", lc)
	}
}

func TestConfig_Content(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	c := cfg.Content()

	if len(c.Assets.Intro.Cues) != 2 || c.Assets.Intro.Cues[1].Start != 2*time.Second || c.Assets.Intro.Cues[1].Text != "Say your code" {
		t.Errorf("intro = %+v", c.Assets.Intro)
	}
	if c.Assets.Correct.Subtitle != "Well done" {
		t.Errorf("correct = %+v", c.Assets.Correct)
	}
	if c.Assets.Wrong[boundary.KeyB].Video != "/storage/wrong-b.mp4" {
		t.Errorf("wrong keys not normalised: %+v", c.Assets.Wrong)
	}
	if c.Assets.Results[quiz.TierGood].Video != "/storage/good.mp4" {
		t.Errorf("results = %+v", c.Assets.Results)
	}
	if c.Texts.Listening != (quiz.Prompt{Label: "Sprich", Hint: "Mikrofon ist an"}) || c.Texts.Welcome != "Hallo %s!" {
		t.Errorf("texts = %+v", c.Texts)
	}
	if c.Timings.AnswerTime != 20*time.Second || c.Timings.RevealDelay != 1500*time.Millisecond || c.Timings.MaxCodeAttempts != 2 {
		t.Errorf("timings = %+v", c.Timings)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("boundary:\n  url: https://quiz.example\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, ":8080"},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"service_name", cfg.Telemetry.ServiceName, "voxquiz"},
		{"boundary.timeout", cfg.Boundary.Timeout, 20 * time.Second},
		{"audio.source", cfg.Audio.Source, config.AudioPortAudio},
		{"audio.frames_per_buffer", cfg.Audio.FramesPerBuffer, 480},
		{"vad.engine", cfg.VAD.Engine, "energy"},
		{"game.countdown_tick", cfg.Game.CountdownTick, 250 * time.Millisecond},
		{"media.cache_dir", cfg.Media.CacheDir, "cache/media"},
		{"proxy", cfg.Boundary.ProxyEnabled(), true},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxquiz.yaml")
	if err := os.WriteFile(path, []byte("boundary:\n  url: http://yaml:8000\nserver:\n  log_level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOXQUIZ_BOUNDARY_URL", "http://env:9000")
	t.Setenv("VOXQUIZ_LOG_LEVEL", "DEBUG")
	t.Setenv("VOXQUIZ_AUDIO_SOURCE", "display")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Boundary.URL != "http://env:9000" {
		t.Errorf("boundary.url = %q", cfg.Boundary.URL)
	}
	if cfg.Media.BaseURL != "http://env:9000" {
		t.Errorf("media.base_url = %q, want the overridden boundary url", cfg.Media.BaseURL)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Audio.Source != config.AudioDisplay {
		t.Errorf("audio.source = %q", cfg.Audio.Source)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
