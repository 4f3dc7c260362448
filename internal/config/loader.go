package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/internal/quiz"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOXQUIZ_"

var resultTiers = []string{quiz.TierPerfect, quiz.TierGood, quiz.TierLow}

// envOverrides are the settings that can be set from the environment.
type envOverrides struct {
	ListenAddr  string `env:"LISTEN_ADDR"`
	LogLevel    string `env:"LOG_LEVEL"`
	BoundaryURL string `env:"BOUNDARY_URL"`
	AudioSource string `env:"AUDIO_SOURCE"`
	StaticDir   string `env:"STATIC_DIR"`
	CacheDir    string `env:"MEDIA_CACHE_DIR"`
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns the validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, true)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Environment overrides are not applied.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, false)
}

func parse(data []byte, withEnv bool) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if withEnv {
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with VOXQUIZ_* environment variables that are set.
func ApplyEnv(cfg *Config) error {
	ov, err := env.ParseAsWithOptions[envOverrides](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.ListenAddr, ov.ListenAddr)
	set(&cfg.Boundary.URL, ov.BoundaryURL)
	set(&cfg.Audio.Source, ov.AudioSource)
	set(&cfg.Server.StaticDir, ov.StaticDir)
	set(&cfg.Media.CacheDir, ov.CacheDir)
	if ov.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(ov.LogLevel))
	}
	return nil
}

// ApplyDefaults fills unset infrastructure settings. Game timings, texts and
// VAD parameters keep their zero values; the consuming packages default them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "voxquiz"
	}
	if cfg.Boundary.Timeout <= 0 {
		cfg.Boundary.Timeout = 20 * time.Second
	}
	if cfg.Audio.Source == "" {
		cfg.Audio.Source = AudioPortAudio
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		cfg.Audio.FramesPerBuffer = 480
	}
	if cfg.Audio.DisplaySampleRate <= 0 {
		cfg.Audio.DisplaySampleRate = 16000
	}
	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = "energy"
	}
	if cfg.Game.CountdownTick <= 0 {
		cfg.Game.CountdownTick = 250 * time.Millisecond
	}
	if cfg.Media.CacheDir == "" {
		cfg.Media.CacheDir = "cache/media"
	}
	if cfg.Media.BaseURL == "" {
		cfg.Media.BaseURL = cfg.Boundary.URL
	}
	if cfg.Media.Timeout <= 0 {
		cfg.Media.Timeout = 2 * time.Minute
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Telemetry.TraceSampleRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %g must be between 0 and 1", *r))
	}
	if cfg.Server.StaticDir == "" {
		slog.Warn("server.static_dir is empty; the kiosk page must be served elsewhere")
	}

	// Boundary
	if cfg.Boundary.URL == "" {
		errs = append(errs, errors.New("boundary.url is required"))
	} else if u, err := url.Parse(cfg.Boundary.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("boundary.url %q must be an absolute http(s) URL", cfg.Boundary.URL))
	}
	if cfg.Boundary.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("boundary.breaker.max_failures %d must not be negative", cfg.Boundary.Breaker.MaxFailures))
	}
	if cfg.Boundary.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("boundary.breaker.reset_timeout %v must not be negative", cfg.Boundary.Breaker.ResetTimeout))
	}
	if p := cfg.Boundary.Paths.Reaction; p != "" && !strings.Contains(p, "{type}") {
		errs = append(errs, fmt.Errorf("boundary.paths.reaction %q must contain {type}", p))
	}

	// Audio
	if cfg.Audio.Source != AudioPortAudio && cfg.Audio.Source != AudioDisplay {
		slog.Warn("unknown audio source; it must be registered by a third-party build",
			"name", cfg.Audio.Source,
			"known", []string{AudioPortAudio, AudioDisplay},
		)
	}

	// VAD
	v := cfg.VAD
	for name, p := range map[string]float64{
		"positive_speech_threshold": v.PositiveSpeechThreshold,
		"negative_speech_threshold": v.NegativeSpeechThreshold,
		"noise_floor":               v.NoiseFloor,
	} {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Errorf("vad.%s %.2f is out of range [0, 1]", name, p))
		}
	}
	if v.PositiveSpeechThreshold > 0 && v.NegativeSpeechThreshold > v.PositiveSpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.negative_speech_threshold %.2f is above vad.positive_speech_threshold %.2f",
			v.NegativeSpeechThreshold, v.PositiveSpeechThreshold))
	}
	if v.MaxCapture < 0 {
		errs = append(errs, fmt.Errorf("vad.max_capture %v must not be negative", v.MaxCapture))
	}

	// Game
	g := cfg.Game
	if g.AnswerTime < 0 {
		errs = append(errs, fmt.Errorf("game.answer_time %v must not be negative", g.AnswerTime))
	}
	if g.MaxCodeAttempts < 0 {
		errs = append(errs, fmt.Errorf("game.max_code_attempts %d must not be negative", g.MaxCodeAttempts))
	}

	// Media
	if cfg.Media.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("media.concurrency %d must not be negative", cfg.Media.Concurrency))
	}

	// Assets
	errs = append(errs, validateAssets(cfg.Assets)...)

	// Texts
	if w := cfg.Texts.Welcome; w != "" && strings.Count(w, "%s") != 1 {
		errs = append(errs, fmt.Errorf("texts.welcome %q must contain exactly one %%s for the participant name", w))
	}
	if g := cfg.Texts.GameOver; g != "" && strings.Count(g, "%d") != 2 {
		errs = append(errs, fmt.Errorf("texts.game_over %q must contain two %%d for score and question count", g))
	}

	return errors.Join(errs...)
}

func validateAssets(a AssetsConfig) []error {
	var errs []error
	clips := map[string]ClipConfig{
		"intro":         a.Intro,
		"welcome":       a.Welcome,
		"code_used":     a.CodeUsed,
		"code_rejected": a.CodeRejected,
		"correct":       a.Correct,
	}
	for k, c := range a.Wrong {
		if _, ok := boundary.ParseKey(k); !ok {
			errs = append(errs, fmt.Errorf("assets.wrong key %q is invalid; valid keys: a, b, c", k))
		}
		clips["wrong."+k] = c
	}
	for tier, c := range a.Results {
		if !slices.Contains(resultTiers, tier) {
			errs = append(errs, fmt.Errorf("assets.results tier %q is invalid; valid tiers: %s", tier, strings.Join(resultTiers, ", ")))
		}
		clips["results."+tier] = c
	}
	for name, c := range clips {
		if c.Video == "" && (c.Subtitle != "" || len(c.Cues) > 0) {
			errs = append(errs, fmt.Errorf("assets.%s has subtitles but no video", name))
		}
		for i, cue := range c.Cues {
			if cue.Start < 0 || cue.End < cue.Start {
				errs = append(errs, fmt.Errorf("assets.%s.cues[%d] has an invalid range %v to %v", name, i, cue.Start, cue.End))
			}
		}
	}
	if a.CodeRejected.Video == "" {
		slog.Warn("assets.code_rejected is not set; rejected participants return to the start screen without a clip")
	}
	for _, t := range resultTiers {
		if a.Results[t].Video == "" {
			slog.Warn("no result clip for tier; the score is shown as a subtitle instead", "tier", t)
		}
	}
	return errs
}
