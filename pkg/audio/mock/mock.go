// Package mock provides an in-memory [audio.Source] for use in unit tests.
//
// The source is backed by a buffered channel; tests push frames with
// [Source.Push] and end the stream with [Source.Close].
//
// Typical usage:
//
//	src := mock.NewSource(16)
//	src.Push(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
//	src.Close()
package mock

import (
	"sync"

	"github.com/MrWong99/voxquiz/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu     sync.Mutex
	ch     chan audio.AudioFrame
	closed bool

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSource returns a Source whose frame channel has the given buffer size.
func NewSource(buffer int) *Source {
	return &Source{ch: make(chan audio.AudioFrame, buffer)}
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame {
	return s.ch
}

// Push delivers f on the frame channel. It blocks while the buffer is full and
// reports false if the source was already closed.
func (s *Source) Push(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- f
	return true
}

// Close implements [audio.Source]. The frame channel is closed on the first
// call; every call returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return s.CloseErr
}

var _ audio.Source = (*Source)(nil)
