// Package portaudio provides an [audio.Source] backed by the host's default
// input device through PortAudio.
package portaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxquiz/pkg/audio"
)

// DefaultFramesPerBuffer is the PortAudio buffer size used when the option is
// not set (64 ms at 16 kHz).
const DefaultFramesPerBuffer = 1024

// Option configures a [Source].
type Option func(*Source)

// WithFramesPerBuffer overrides the PortAudio buffer size in samples.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// Source streams mono 16-bit PCM from the default input device.
type Source struct {
	sampleRate      int
	framesPerBuffer int

	stream *pa.Stream
	buf    []int16
	frames chan audio.AudioFrame

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	stopOnce sync.Once
}

// New initialises PortAudio, opens the default input stream at sampleRate and
// starts reading in a background goroutine.
func New(sampleRate int, opts ...Option) (*Source, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("portaudio: invalid sample rate %d", sampleRate)
	}
	s := &Source{
		sampleRate:      sampleRate,
		framesPerBuffer: DefaultFramesPerBuffer,
		frames:          make(chan audio.AudioFrame, 32),
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.buf = make([]int16, s.framesPerBuffer)

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	stream, err := pa.OpenDefaultStream(1, 0, float64(sampleRate), s.framesPerBuffer, s.buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	s.stream = stream

	go s.readLoop()
	return s, nil
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame {
	return s.frames
}

// Close stops the stream and releases PortAudio. Safe to call more than once.
func (s *Source) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		<-s.done
		err = errors.Join(s.stream.Stop(), s.stream.Close(), pa.Terminate())
	})
	return err
}

func (s *Source) readLoop() {
	defer close(s.done)
	defer close(s.frames)

	start := time.Now()
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
				continue
			}
			slog.Error("portaudio: read failed, closing source", "err", err)
			return
		}

		data := make([]byte, len(s.buf)*2)
		for i, v := range s.buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
		}
		frame := audio.AudioFrame{
			Data:       data,
			SampleRate: s.sampleRate,
			Channels:   1,
			Timestamp:  time.Since(start),
		}
		select {
		case s.frames <- frame:
		default:
			slog.Debug("portaudio: consumer too slow, dropping frame")
		}
	}
}

var _ audio.Source = (*Source)(nil)
