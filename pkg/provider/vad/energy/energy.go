// Package energy implements a [vad.Engine] that scores frames by their RMS
// energy. It needs no model files and works on any CPU, which makes it the
// default detector for a quiet kiosk environment.
//
// The speech probability of a frame is its RMS divided by a reference RMS,
// capped at 1. A session keeps a simple hysteresis state: it enters speech
// when a frame scores at or above SpeechThreshold and leaves it when a frame
// scores below SilenceThreshold.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/voxquiz/pkg/audio"
	"github.com/MrWong99/voxquiz/pkg/provider/vad"
)

// DefaultReferenceRMS is the RMS (in 16-bit sample units) treated as certain
// speech. Normal speech at arm's length from a kiosk microphone sits around
// 1500 to 4000.
const DefaultReferenceRMS = 3000

// ErrClosed is returned by ProcessFrame after the session was closed.
var ErrClosed = errors.New("energy: session closed")

// Option configures an [Engine].
type Option func(*Engine)

// WithReferenceRMS overrides [DefaultReferenceRMS].
func WithReferenceRMS(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.referenceRMS = rms
		}
	}
}

// Engine creates energy-based VAD sessions. Safe for concurrent use.
type Engine struct {
	referenceRMS float64
}

// New returns an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{referenceRMS: DefaultReferenceRMS}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %.2f out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.2f must be in [0, %.2f]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{
		cfg:        cfg,
		frameBytes: audio.BytesPerFrame(cfg.SampleRate, cfg.FrameSizeMs),
		reference:  e.referenceRMS,
	}, nil
}

type session struct {
	cfg        vad.Config
	frameBytes int
	reference  float64

	mu       sync.Mutex
	speaking bool
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := math.Min(1, audio.RMS(frame)/s.reference)
	ev := vad.VADEvent{Probability: p}
	switch {
	case !s.speaking && p >= s.cfg.SpeechThreshold:
		s.speaking = true
		ev.Type = vad.VADSpeechStart
	case s.speaking && p < s.cfg.SilenceThreshold:
		s.speaking = false
		ev.Type = vad.VADSpeechEnd
	case s.speaking:
		ev.Type = vad.VADSpeechContinue
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
