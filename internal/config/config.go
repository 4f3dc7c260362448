// Package config provides the configuration schema, loader, hot-reload watcher
// and component registry for the voxquiz kiosk.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the matching slog level. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Audio source names.
const (
	AudioPortAudio = "portaudio"
	AudioDisplay   = "display"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Boundary  BoundaryConfig  `yaml:"boundary"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Game      GameConfig      `yaml:"game"`
	Media     MediaConfig     `yaml:"media"`
	Assets    AssetsConfig    `yaml:"assets"`
	Texts     TextsConfig     `yaml:"texts"`
}

// ServerConfig holds network and logging settings for the kiosk server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir is the directory holding the kiosk page, served at "/".
	StaticDir string `yaml:"static_dir"`

	// AllowedOrigins lists host patterns of pages allowed to open the display
	// WebSocket from another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TelemetryConfig configures the OpenTelemetry resource.
type TelemetryConfig struct {
	// ServiceName reported with metrics and traces. Default "voxquiz".
	ServiceName string `yaml:"service_name"`

	// KioskID distinguishes kiosks sharing one backend. Reported as
	// service.instance.id. Defaults to the host name.
	KioskID string `yaml:"kiosk_id"`

	// TraceSampleRatio is the fraction of sessions whose spans are recorded,
	// from 0 to 1. Nil records everything.
	TraceSampleRatio *float64 `yaml:"trace_sample_ratio"`
}

// BoundaryConfig points at the quiz backend.
type BoundaryConfig struct {
	// URL is the backend base URL. Required.
	URL string `yaml:"url"`

	// Timeout bounds every backend request. Default 20s.
	Timeout time.Duration `yaml:"timeout"`

	// Paths overrides individual endpoint paths.
	Paths PathsConfig `yaml:"paths"`

	// Breaker configures the circuit breaker guarding backend calls.
	Breaker BreakerConfig `yaml:"breaker"`

	// Proxy forwards unknown kiosk paths to the backend so media that is not
	// cached yet streams straight through. Default true.
	Proxy *bool `yaml:"proxy"`
}

// ProxyEnabled reports whether the reverse-proxy fallback is on.
func (b BoundaryConfig) ProxyEnabled() bool {
	return b.Proxy == nil || *b.Proxy
}

// PathsConfig holds endpoint paths relative to the backend URL. Empty values
// keep the built-in routes.
type PathsConfig struct {
	CheckCode    string `yaml:"check_code"`
	CheckAnswer  string `yaml:"check_answer"`
	Start        string `yaml:"start"`
	Reaction     string `yaml:"reaction"`
	ReactionsAll string `yaml:"reactions_all"`
	SaveResult   string `yaml:"save_result"`
}

// BreakerConfig configures the backend circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AudioConfig selects the microphone.
type AudioConfig struct {
	// Source names a registered audio source. Default "portaudio".
	Source string `yaml:"source"`

	// SampleRate requested from the kiosk microphone. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FramesPerBuffer is the portaudio buffer size. Default 480 (30 ms).
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// DisplaySampleRate is the rate of PCM streamed by the kiosk page when
	// Source is "display". Default 16000.
	DisplaySampleRate int `yaml:"display_sample_rate"`
}

// VADConfig configures speech detection and segmentation.
type VADConfig struct {
	// Engine names a registered VAD engine. Default "energy".
	Engine string `yaml:"engine"`

	// ReferenceRMS is the energy engine's RMS treated as certain speech.
	ReferenceRMS float64 `yaml:"reference_rms"`

	SampleRate              int           `yaml:"sample_rate"`
	FrameSizeMs             int           `yaml:"frame_size_ms"`
	PositiveSpeechThreshold float64       `yaml:"positive_speech_threshold"`
	NegativeSpeechThreshold float64       `yaml:"negative_speech_threshold"`
	MinSpeechFrames         int           `yaml:"min_speech_frames"`
	RedemptionFrames        int           `yaml:"redemption_frames"`
	PreSpeechPadFrames      int           `yaml:"pre_speech_pad_frames"`
	NoiseFloor              float64       `yaml:"noise_floor"`
	MaxCapture              time.Duration `yaml:"max_capture"`
}

// GameConfig holds the game's durations and limits. Hot-reloadable; applied
// at the next session start.
type GameConfig struct {
	AnswerTime        time.Duration `yaml:"answer_time"`
	RevealDelay       time.Duration `yaml:"reveal_delay"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	CodeAcceptedDelay time.Duration `yaml:"code_accepted_delay"`
	MaxCodeAttempts   int           `yaml:"max_code_attempts"`

	// CountdownTick is how often the remaining answer time is pushed to the
	// display. Default 250ms.
	CountdownTick time.Duration `yaml:"countdown_tick"`
}

// MediaConfig configures the local video cache.
type MediaConfig struct {
	// CacheDir holds downloaded videos. Default "cache/media".
	CacheDir string `yaml:"cache_dir"`

	// BaseURL resolves relative media paths. Defaults to boundary.url.
	BaseURL string `yaml:"base_url"`

	// Concurrency bounds parallel prefetch downloads. Default 4.
	Concurrency int `yaml:"concurrency"`

	// Timeout bounds a single download. Default 2m.
	Timeout time.Duration `yaml:"timeout"`
}

// ClipConfig is a local video with optional subtitles.
type ClipConfig struct {
	Video    string      `yaml:"video"`
	Subtitle string      `yaml:"subtitle"`
	Cues     []CueConfig `yaml:"cues"`
}

// CueConfig is one timed subtitle line.
type CueConfig struct {
	Start time.Duration `yaml:"start"`
	End   time.Duration `yaml:"end"`
	Text  string        `yaml:"text"`
}

// AssetsConfig lists the non-question videos. Hot-reloadable.
type AssetsConfig struct {
	Intro        ClipConfig `yaml:"intro"`
	Welcome      ClipConfig `yaml:"welcome"`
	CodeUsed     ClipConfig `yaml:"code_used"`
	CodeRejected ClipConfig `yaml:"code_rejected"`
	Correct      ClipConfig `yaml:"correct"`

	// Wrong maps the correct option key (a, b, c) to the clip played when the
	// participant missed it.
	Wrong map[string]ClipConfig `yaml:"wrong"`

	// Results maps a score tier ("5-5", "3-5", "0-5") to the final clip.
	Results map[string]ClipConfig `yaml:"results"`
}

// PromptConfig is a microphone label and hint.
type PromptConfig struct {
	Label string `yaml:"label"`
	Hint  string `yaml:"hint"`
}

// TextsConfig overrides on-screen strings. Hot-reloadable.
type TextsConfig struct {
	CodePrompt    string       `yaml:"code_prompt"`
	Listening     PromptConfig `yaml:"listening"`
	AnswerPrompt  PromptConfig `yaml:"answer_prompt"`
	Recording     PromptConfig `yaml:"recording"`
	Processing    PromptConfig `yaml:"processing"`
	SpeakLouder   PromptConfig `yaml:"speak_louder"`
	NotRecognised PromptConfig `yaml:"not_recognised"`
	CodeNotFound  PromptConfig `yaml:"code_not_found"`
	ServerError   PromptConfig `yaml:"server_error"`
	Welcome       string       `yaml:"welcome"`
	GameOver      string       `yaml:"game_over"`
	LoadError     string       `yaml:"load_error"`
	PromptHint    string       `yaml:"prompt_hint"`
}
