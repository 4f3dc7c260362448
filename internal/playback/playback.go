// Package playback drives the full-screen video element and keeps subtitles in
// step with it.
//
// Every [Controller.Play] issues a new token. The display echoes the token
// with its progress, end and error reports; reports carrying any other token
// are ignored, so a superseded video can never complete the current one. The
// completion callback runs exactly once per Play, after the video has been
// hidden and the subtitle cleared.
package playback

import (
	"log/slog"
	"sync"
	"time"
)

// Screen is the part of the display the controller draws on.
type Screen interface {
	PlayVideo(token uint64, src string)
	HideVideo()
	ShowSubtitle(text string)
	HideSubtitle()
}

// Resolver maps a remote media URL to a local cached reference without
// blocking. [media.Cache] implements it.
type Resolver interface {
	Lookup(url string) string
}

// Cue is one timed subtitle line. Start and End are inclusive.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Subtitles is either a single line shown for the whole video (Text), a list
// of timed cues, or nothing. Cues win when both are set.
type Subtitles struct {
	Text string
	Cues []Cue
}

// Static returns subtitles showing text for the whole video.
func Static(text string) Subtitles {
	return Subtitles{Text: text}
}

// Timed returns cue-based subtitles.
func Timed(cues ...Cue) Subtitles {
	return Subtitles{Cues: cues}
}

// cueAt returns the index of the first cue covering t, or -1.
func (s Subtitles) cueAt(t time.Duration) int {
	for i, c := range s.Cues {
		if t >= c.Start && t <= c.End {
			return i
		}
	}
	return -1
}

type playback struct {
	token      uint64
	subs       Subtitles
	onComplete func()
	active     int // index of the visible cue, -1 when hidden
}

// Controller plays one video at a time. Safe for concurrent use; Screen
// methods are called with the controller's lock held and must not call back
// into the controller.
type Controller struct {
	screen   Screen
	resolver Resolver

	mu      sync.Mutex
	token   uint64
	current *playback
}

// New returns a Controller drawing on screen. resolver may be nil, in which
// case video URLs are used as given.
func New(screen Screen, resolver Resolver) *Controller {
	return &Controller{screen: screen, resolver: resolver}
}

// Play shows video with subs and returns the playback token. A video already
// playing is replaced and its callback discarded. onComplete may be nil.
func (c *Controller) Play(video string, subs Subtitles, onComplete func()) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token++
	p := &playback{token: c.token, subs: subs, onComplete: onComplete, active: -1}
	c.current = p

	src := video
	if c.resolver != nil {
		src = c.resolver.Lookup(video)
	}
	c.screen.PlayVideo(p.token, src)
	if len(subs.Cues) == 0 && subs.Text != "" {
		c.screen.ShowSubtitle(subs.Text)
	} else {
		c.screen.HideSubtitle()
	}
	return p.token
}

// Progress updates cue-based subtitles for the playback position t.
// The screen is only touched when the visible cue changes.
func (c *Controller) Progress(token uint64, t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.current
	if p == nil || p.token != token || len(p.subs.Cues) == 0 {
		return
	}
	idx := p.subs.cueAt(t)
	if idx == p.active {
		return
	}
	p.active = idx
	if idx < 0 {
		c.screen.HideSubtitle()
		return
	}
	c.screen.ShowSubtitle(p.subs.Cues[idx].Text)
}

// Ended reports that the video with token finished naturally.
func (c *Controller) Ended(token uint64) {
	c.finish(token, false)
}

// Failed reports that the display could not play the video with token. The
// playback completes as if it had ended so the session keeps moving.
func (c *Controller) Failed(token uint64) {
	c.finish(token, true)
}

// Stop hides the current video without running its callback.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.current = nil
	c.screen.HideVideo()
	c.screen.HideSubtitle()
}

// Token returns the token of the video currently playing, or 0.
func (c *Controller) Token() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.token
}

func (c *Controller) finish(token uint64, failed bool) {
	c.mu.Lock()
	p := c.current
	if p == nil || p.token != token {
		c.mu.Unlock()
		slog.Debug("playback: ignoring stale report", "token", token, "failed", failed)
		return
	}
	c.current = nil
	c.screen.HideVideo()
	c.screen.HideSubtitle()
	c.mu.Unlock()

	if failed {
		slog.Warn("playback: display could not play video, skipping", "token", token)
	}
	if p.onComplete != nil {
		p.onComplete()
	}
}
