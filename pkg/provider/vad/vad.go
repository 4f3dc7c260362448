// Package vad defines the frame-level voice activity detector used by the
// listener.
//
// An [Engine] hands out independent sessions, one per microphone stream. A
// session scores fixed-size PCM frames synchronously and keeps a small amount
// of hysteresis state so that it can label segment boundaries. The listener
// makes its own start and end decisions from [VADEvent.Probability]; the
// event type is informational and shows up in debug logs.
package vad

// Config describes the stream a session scores.
type Config struct {
	// SampleRate of the 16-bit mono PCM frames, in Hz.
	SampleRate int

	// FrameSizeMs is the length of every frame passed to ProcessFrame.
	// Sessions reject frames of any other size.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame starts
	// (or continues) speech. Range (0, 1].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame ends speech.
	// Range [0, SpeechThreshold].
	SilenceThreshold float64
}

// VADEventType labels a frame relative to the session's speech state.
type VADEventType int

const (
	// VADSilence is a frame outside speech.
	VADSilence VADEventType = iota

	// VADSpeechStart is the first frame of a speech run.
	VADSpeechStart

	// VADSpeechContinue is a frame inside a speech run.
	VADSpeechContinue

	// VADSpeechEnd is the first silent frame after a speech run.
	VADSpeechEnd
)

func (t VADEventType) String() string {
	switch t {
	case VADSilence:
		return "silence"
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech"
	case VADSpeechEnd:
		return "speech_end"
	}
	return "unknown"
}

// VADEvent is the result for one frame.
type VADEvent struct {
	Type VADEventType

	// Probability that the frame contains speech, 0 to 1.
	Probability float64
}

// SessionHandle scores one audio stream. Not safe for concurrent use.
type SessionHandle interface {
	// ProcessFrame scores one frame of little-endian PCM. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset forgets the speech state, e.g. after the listener re-arms.
	Reset()

	// Close releases the session. Closing twice is safe.
	Close() error
}

// Engine creates sessions. Implementations are safe for concurrent use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
