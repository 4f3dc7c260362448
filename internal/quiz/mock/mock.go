// Package mock provides test doubles for the [quiz] orchestrator's
// collaborators. All types are safe for concurrent use.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/internal/listener"
	"github.com/MrWong99/voxquiz/internal/playback"
	"github.com/MrWong99/voxquiz/internal/quiz"
	"github.com/MrWong99/voxquiz/pkg/audio"
)

// ---- Listener ---------------------------------------------------------------

// Listener records arming and lets tests emit VAD events. Like the real
// listener it disarms after delivering a capture.
type Listener struct {
	mu     sync.Mutex
	cb     *listener.Callbacks
	starts int
	pauses int
}

// Start implements quiz.Listener.
func (l *Listener) Start(cb listener.Callbacks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = &cb
	l.starts++
}

// Pause implements quiz.Listener.
func (l *Listener) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = nil
	l.pauses++
}

// Armed reports whether Start was called since the last Pause or capture.
func (l *Listener) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cb != nil
}

// Starts returns how many times the listener was armed.
func (l *Listener) Starts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts
}

func (l *Listener) callbacks() *listener.Callbacks {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cb
}

// SpeechStart fires OnSpeechStart. It reports false when not armed.
func (l *Listener) SpeechStart() bool {
	cb := l.callbacks()
	if cb == nil {
		return false
	}
	cb.OnSpeechStart()
	return true
}

// Misfire fires OnMisfire. It reports false when not armed.
func (l *Listener) Misfire() bool {
	cb := l.callbacks()
	if cb == nil {
		return false
	}
	cb.OnMisfire()
	return true
}

// Capture disarms the listener and fires OnCapture with c. It reports false
// when not armed.
func (l *Listener) Capture(c audio.Capture) bool {
	l.mu.Lock()
	cb := l.cb
	l.cb = nil
	l.mu.Unlock()
	if cb == nil {
		return false
	}
	cb.OnCapture(c)
	return true
}

// ---- Player -----------------------------------------------------------------

// Play is one recorded call to Player.Play.
type Play struct {
	Token uint64
	Video string
	Subs  playback.Subtitles
}

// Player records plays. Tests complete the current video with Finish.
type Player struct {
	mu      sync.Mutex
	plays   []Play
	pending func()
	stops   int
}

// Play implements quiz.Player.
func (p *Player) Play(video string, subs playback.Subtitles, onComplete func()) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok := uint64(len(p.plays) + 1)
	p.plays = append(p.plays, Play{Token: tok, Video: video, Subs: subs})
	p.pending = onComplete
	return tok
}

// Stop implements quiz.Player.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	p.stops++
}

// Finish completes the current video. It reports false when nothing plays.
func (p *Player) Finish() bool {
	p.mu.Lock()
	fn := p.pending
	p.pending = nil
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Playing reports whether a video awaits completion.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// Plays returns every recorded play.
func (p *Player) Plays() []Play {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Play(nil), p.plays...)
}

// Last returns the most recent play.
func (p *Player) Last() (Play, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.plays) == 0 {
		return Play{}, false
	}
	return p.plays[len(p.plays)-1], true
}

// ---- Screen -----------------------------------------------------------------

// Screen tracks the visible state of the display and logs every call.
type Screen struct {
	mu        sync.Mutex
	start     bool
	subtitle  string
	options   *boundary.Options
	index     int
	marks     map[boundary.Key]bool
	mic       *quiz.Prompt
	recording bool
	log       []string
}

func (s *Screen) add(format string, args ...any) {
	s.log = append(s.log, fmt.Sprintf(format, args...))
}

func (s *Screen) ShowStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = true
	s.add("start.show")
}

func (s *Screen) HideStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = false
	s.add("start.hide")
}

func (s *Screen) ShowSubtitle(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subtitle = text
	s.add("subtitle.show %s", text)
}

func (s *Screen) HideSubtitle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subtitle = ""
	s.add("subtitle.hide")
}

func (s *Screen) ShowOptions(index, total int, opts boundary.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = &opts
	s.index = index
	s.marks = make(map[boundary.Key]bool)
	s.add("options.show %d/%d", index+1, total)
}

func (s *Screen) MarkOption(key boundary.Key, correct bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marks == nil {
		s.marks = make(map[boundary.Key]bool)
	}
	s.marks[key] = correct
	s.add("options.mark %s %t", key, correct)
}

func (s *Screen) HideOptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = nil
	s.add("options.hide")
}

func (s *Screen) ShowMic(p quiz.Prompt, recording bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mic = &p
	s.recording = recording
	s.add("mic.show %s", p.Label)
}

func (s *Screen) HideMic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mic = nil
	s.recording = false
	s.add("mic.hide")
}

func (s *Screen) HideCountdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add("countdown.hide")
}

// StartVisible reports whether the start screen is shown.
func (s *Screen) StartVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

// Subtitle returns the visible subtitle.
func (s *Screen) Subtitle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subtitle
}

// Options returns the visible options, if any.
func (s *Screen) Options() (boundary.Options, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.options == nil {
		return boundary.Options{}, false
	}
	return *s.options, true
}

// Marks returns the option highlights since the options were shown.
func (s *Screen) Marks() map[boundary.Key]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[boundary.Key]bool, len(s.marks))
	for k, v := range s.marks {
		out[k] = v
	}
	return out
}

// Mic returns the visible microphone prompt and recording flag.
func (s *Screen) Mic() (quiz.Prompt, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mic == nil {
		return quiz.Prompt{}, false, false
	}
	return *s.mic, s.recording, true
}

// Log returns every call so far.
func (s *Screen) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// ---- Prefetcher -------------------------------------------------------------

// Prefetcher records requested URLs.
type Prefetcher struct {
	mu   sync.Mutex
	urls []string
	// Calls receives one value per Prefetch call when non-nil.
	Calls chan []string
}

// Prefetch implements quiz.Prefetcher.
func (p *Prefetcher) Prefetch(_ context.Context, urls ...string) error {
	p.mu.Lock()
	p.urls = append(p.urls, urls...)
	ch := p.Calls
	p.mu.Unlock()
	if ch != nil {
		ch <- append([]string(nil), urls...)
	}
	return nil
}

// URLs returns every URL requested so far.
func (p *Prefetcher) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

var (
	_ quiz.Listener   = (*Listener)(nil)
	_ quiz.Player     = (*Player)(nil)
	_ quiz.Screen     = (*Screen)(nil)
	_ quiz.Prefetcher = (*Prefetcher)(nil)
)
