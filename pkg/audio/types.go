// Package audio defines the microphone-side audio types shared by the kiosk:
// raw [AudioFrame] values delivered by a [Source], and the finished [Capture]
// handed from the listener to the transcription client.
//
// All PCM in this package is signed 16-bit little-endian. Sources may deliver
// any sample rate and channel count; [Normalizer] converts frames to the mono
// format the VAD engine expects.
//
// This package lives under pkg/ because external code (additional microphone
// back-ends) is expected to implement [Source].
package audio

import "time"

// AudioFrame represents a single chunk of microphone audio as delivered by a
// [Source]. Frame sizes are arbitrary; consumers re-chunk as needed.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the kiosk microphone, 48000 for a browser).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Capture is one finished utterance: the audio between a confirmed speech
// start and the matching speech end. A Capture is consumed exactly once.
type Capture struct {
	// PCM is mono 16-bit little-endian audio.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// MeanAmplitude is the mean absolute sample value normalised to [0, 1].
	MeanAmplitude float64

	// Duration of the captured audio.
	Duration time.Duration
}

// Source is a live microphone stream.
//
// Frames returns the same channel on every call. The channel is closed when
// the source is closed or the underlying device fails. Implementations must
// be safe for concurrent use.
type Source interface {
	Frames() <-chan AudioFrame
	Close() error
}
