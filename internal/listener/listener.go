// Package listener turns a live microphone stream into discrete speech
// captures.
//
// A [Listener] owns the audio source and one VAD session for the lifetime of
// the process. Its Run loop always consumes audio, so arming and disarming is
// cheap: [Listener.Start] arms it with a set of callbacks and
// [Listener.Pause] disarms it, dropping any partial capture. While armed, a
// speech segment is confirmed after MinSpeechFrames consecutive frames at or
// above the positive threshold, and ends after RedemptionFrames frames below
// the negative threshold (or when MaxCapture is reached). A finished segment
// whose mean amplitude is under NoiseFloor is reported as a misfire and the
// listener stays armed; any other segment is delivered as exactly one
// [audio.Capture] and the listener disarms until the next Start.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxquiz/internal/observe"
	"github.com/MrWong99/voxquiz/pkg/audio"
	"github.com/MrWong99/voxquiz/pkg/provider/vad"
)

// ErrSourceClosed is returned by Run when the audio source ends.
var ErrSourceClosed = errors.New("listener: audio source closed")

// Config holds the segmentation parameters.
type Config struct {
	// SampleRate the VAD runs at. Source audio is converted to it. Default 16000.
	SampleRate int

	// FrameSizeMs is the VAD frame length. Default 30.
	FrameSizeMs int

	// PositiveSpeechThreshold is the probability at or above which a frame
	// counts as speech. Default 0.5.
	PositiveSpeechThreshold float64

	// NegativeSpeechThreshold is the probability below which a frame counts
	// as silence. Default 0.35.
	NegativeSpeechThreshold float64

	// MinSpeechFrames consecutive speech frames confirm a segment. Default 3.
	MinSpeechFrames int

	// RedemptionFrames silent frames end a confirmed segment. Default 17
	// (about half a second at 30 ms frames).
	RedemptionFrames int

	// PreSpeechPadFrames frames before the first speech frame are prepended to
	// the capture so word onsets are not clipped. Default 10; negative
	// disables padding.
	PreSpeechPadFrames int

	// NoiseFloor is the minimum mean absolute amplitude (0 to 1) of a capture.
	// Quieter captures are misfires. Default 0.01.
	NoiseFloor float64

	// MaxCapture cuts a segment that never goes silent. Default 15s.
	MaxCapture time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameSizeMs <= 0 {
		c.FrameSizeMs = 30
	}
	if c.PositiveSpeechThreshold <= 0 {
		c.PositiveSpeechThreshold = 0.5
	}
	if c.NegativeSpeechThreshold <= 0 {
		c.NegativeSpeechThreshold = 0.35
	}
	if c.MinSpeechFrames <= 0 {
		c.MinSpeechFrames = 3
	}
	if c.RedemptionFrames <= 0 {
		c.RedemptionFrames = 17
	}
	if c.PreSpeechPadFrames < 0 {
		c.PreSpeechPadFrames = 0
	} else if c.PreSpeechPadFrames == 0 {
		c.PreSpeechPadFrames = 10
	}
	if c.NoiseFloor <= 0 {
		c.NoiseFloor = 0.01
	}
	if c.MaxCapture <= 0 {
		c.MaxCapture = 15 * time.Second
	}
	return c
}

// VAD returns the session configuration handed to the VAD engine.
func (c Config) VAD() vad.Config {
	return vad.Config{
		SampleRate:       c.SampleRate,
		FrameSizeMs:      c.FrameSizeMs,
		SpeechThreshold:  c.PositiveSpeechThreshold,
		SilenceThreshold: c.NegativeSpeechThreshold,
	}
}

// Callbacks receive listener events on the Run goroutine. They must not block.
type Callbacks struct {
	// OnSpeechStart fires once per confirmed segment.
	OnSpeechStart func()

	// OnCapture receives a finished segment. The listener is disarmed when it
	// fires.
	OnCapture func(audio.Capture)

	// OnMisfire fires when a segment was too quiet to be speech. The listener
	// stays armed.
	OnMisfire func()
}

// Option configures a [Listener].
type Option func(*Listener)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Listener) {
		if m != nil {
			l.metrics = m
		}
	}
}

// Listener segments microphone audio into captures.
type Listener struct {
	src     audio.Source
	sess    vad.SessionHandle
	cfg     Config
	metrics *observe.Metrics

	frameBytes int

	mu        sync.Mutex
	cb        *Callbacks // nil while paused
	armGen    uint64
	lastFrame time.Time

	// Run-goroutine state.
	seenGen    uint64
	pending    []byte
	pad        [][]byte
	speaking   bool
	confirmed  bool
	positives  int
	redemption int
	capture    []byte
}

// New opens a VAD session on engine and returns a paused Listener reading
// from src.
func New(src audio.Source, engine vad.Engine, cfg Config, opts ...Option) (*Listener, error) {
	cfg = cfg.withDefaults()
	if cfg.NegativeSpeechThreshold > cfg.PositiveSpeechThreshold {
		return nil, fmt.Errorf("listener: negative threshold %.2f above positive threshold %.2f",
			cfg.NegativeSpeechThreshold, cfg.PositiveSpeechThreshold)
	}
	sess, err := engine.NewSession(cfg.VAD())
	if err != nil {
		return nil, fmt.Errorf("listener: open vad session: %w", err)
	}
	l := &Listener{
		src:        src,
		sess:       sess,
		cfg:        cfg,
		frameBytes: audio.BytesPerFrame(cfg.SampleRate, cfg.FrameSizeMs),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	return l, nil
}

// Start arms the listener with cb. Any capture in progress is discarded and
// the VAD state is reset before the next frame.
func (l *Listener) Start(cb Callbacks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = &cb
	l.armGen++
}

// Pause disarms the listener. The partial capture, if any, is dropped. The
// microphone keeps streaming.
func (l *Listener) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cb == nil {
		return
	}
	l.cb = nil
	l.armGen++
}

// Armed reports whether the listener currently delivers events.
func (l *Listener) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cb != nil
}

// LastFrame returns when audio last arrived from the source.
func (l *Listener) LastFrame() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFrame
}

// Run consumes the source until ctx is cancelled or the source closes. It
// closes the VAD session on return. Run must be called exactly once.
func (l *Listener) Run(ctx context.Context) error {
	defer l.sess.Close()

	norm := &audio.Normalizer{SampleRate: l.cfg.SampleRate}
	frames := l.src.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return ErrSourceClosed
			}
			l.mu.Lock()
			l.lastFrame = time.Now()
			l.mu.Unlock()

			f = norm.Normalize(f)
			if len(f.Data) == 0 {
				continue
			}
			l.pending = append(l.pending, f.Data...)
			for len(l.pending) >= l.frameBytes {
				frame := make([]byte, l.frameBytes)
				copy(frame, l.pending)
				l.pending = l.pending[l.frameBytes:]
				l.process(frame)
			}
		}
	}
}

// process runs one VAD frame through the segmentation state machine.
func (l *Listener) process(frame []byte) {
	l.mu.Lock()
	cb, gen := l.cb, l.armGen
	l.mu.Unlock()

	if gen != l.seenGen {
		l.seenGen = gen
		l.resetSegment()
		l.pad = l.pad[:0]
		l.sess.Reset()
	}

	ev, err := l.sess.ProcessFrame(frame)
	if err != nil {
		slog.Debug("listener: vad frame rejected", "err", err)
		return
	}
	if cb == nil {
		return
	}

	p := ev.Probability
	if !l.speaking {
		if p < l.cfg.PositiveSpeechThreshold {
			l.pushPad(frame)
			return
		}
		l.speaking = true
		l.capture = l.capture[:0]
		for _, pf := range l.pad {
			l.capture = append(l.capture, pf...)
		}
		l.pad = l.pad[:0]
	}

	l.capture = append(l.capture, frame...)

	if !l.confirmed {
		if p < l.cfg.PositiveSpeechThreshold {
			// A blip shorter than MinSpeechFrames is dropped without a trace.
			l.resetSegment()
			return
		}
		l.positives++
		if l.positives >= l.cfg.MinSpeechFrames {
			l.confirmed = true
			if cb.OnSpeechStart != nil {
				cb.OnSpeechStart()
			}
		}
		return
	}

	if p < l.cfg.NegativeSpeechThreshold {
		l.redemption++
	} else if p >= l.cfg.PositiveSpeechThreshold {
		l.redemption = 0
	}

	switch {
	case l.redemption >= l.cfg.RedemptionFrames:
		l.finish(cb, gen, "accepted")
	case audio.Duration(l.capture, l.cfg.SampleRate) >= l.cfg.MaxCapture:
		l.finish(cb, gen, "truncated")
	}
}

// finish delivers the current segment and resets the segment state.
func (l *Listener) finish(cb *Callbacks, gen uint64, outcome string) {
	pcm := make([]byte, len(l.capture))
	copy(pcm, l.capture)
	l.resetSegment()

	c := audio.Capture{
		PCM:           pcm,
		SampleRate:    l.cfg.SampleRate,
		MeanAmplitude: audio.MeanAmplitude(pcm),
		Duration:      audio.Duration(pcm, l.cfg.SampleRate),
	}
	ctx := context.Background()
	if c.MeanAmplitude < l.cfg.NoiseFloor {
		l.metrics.RecordCapture(ctx, "misfire")
		slog.Debug("listener: capture below noise floor", "amplitude", c.MeanAmplitude, "duration", c.Duration)
		if cb.OnMisfire != nil {
			cb.OnMisfire()
		}
		return
	}

	// Disarm before delivering so a fast re-arm from the callback wins.
	l.mu.Lock()
	if l.armGen == gen {
		l.cb = nil
		l.armGen++
	}
	l.mu.Unlock()

	l.metrics.RecordCapture(ctx, outcome)
	slog.Debug("listener: capture ready", "duration", c.Duration, "amplitude", c.MeanAmplitude, "outcome", outcome)
	if cb.OnCapture != nil {
		cb.OnCapture(c)
	}
}

func (l *Listener) pushPad(frame []byte) {
	if l.cfg.PreSpeechPadFrames == 0 {
		return
	}
	if len(l.pad) == l.cfg.PreSpeechPadFrames {
		copy(l.pad, l.pad[1:])
		l.pad = l.pad[:len(l.pad)-1]
	}
	l.pad = append(l.pad, frame)
}

func (l *Listener) resetSegment() {
	l.speaking = false
	l.confirmed = false
	l.positives = 0
	l.redemption = 0
	l.capture = l.capture[:0]
}
