package playback_test

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxquiz/internal/playback"
)

// recScreen records every screen call as a short string.
type recScreen struct {
	mu    sync.Mutex
	calls []string
}

func (s *recScreen) add(c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *recScreen) PlayVideo(token uint64, src string) { s.add(fmt.Sprintf("play %d %s", token, src)) }
func (s *recScreen) HideVideo()                         { s.add("hide video") }
func (s *recScreen) ShowSubtitle(text string)           { s.add("sub " + text) }
func (s *recScreen) HideSubtitle()                      { s.add("hide sub") }

func (s *recScreen) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.calls
	s.calls = nil
	return out
}

type mapResolver map[string]string

func (m mapResolver) Lookup(u string) string {
	if v, ok := m[u]; ok {
		return v
	}
	return u
}

func TestPlay_StaticSubtitleAndCompletion(t *testing.T) {
	t.Parallel()
	scr := &recScreen{}
	c := playback.New(scr, mapResolver{"http://x/q1.mp4": "/media/q1.mp4"})

	var order []string
	tok := c.Play("http://x/q1.mp4", playback.Static("Which planet?"), func() {
		order = append(order, scr.take()...)
		order = append(order, "complete")
	})

	want := []string{"play 1 /media/q1.mp4", "sub Which planet?"}
	if got := scr.take(); !slices.Equal(got, want) {
		t.Fatalf("after Play: got %v, want %v", got, want)
	}

	c.Ended(tok)
	c.Ended(tok) // second report is stale

	wantOrder := []string{"hide video", "hide sub", "complete"}
	if !slices.Equal(order, wantOrder) {
		t.Errorf("completion order: got %v, want %v", order, wantOrder)
	}
	if c.Token() != 0 {
		t.Errorf("Token after completion = %d, want 0", c.Token())
	}
}

func TestPlay_SupersededCallbackNeverFires(t *testing.T) {
	t.Parallel()
	c := playback.New(&recScreen{}, nil)

	var first, second int
	old := c.Play("a.mp4", playback.Subtitles{}, func() { first++ })
	cur := c.Play("b.mp4", playback.Subtitles{}, func() { second++ })

	c.Ended(old)
	c.Failed(old)
	if first != 0 || second != 0 {
		t.Fatalf("stale end fired callbacks: first=%d second=%d", first, second)
	}
	c.Ended(cur)
	if first != 0 || second != 1 {
		t.Errorf("after current end: first=%d second=%d, want 0 and 1", first, second)
	}
}

func TestFailed_CompletesPlayback(t *testing.T) {
	t.Parallel()
	c := playback.New(&recScreen{}, nil)
	done := 0
	tok := c.Play("broken.mp4", playback.Subtitles{}, func() { done++ })
	c.Failed(tok)
	if done != 1 {
		t.Errorf("callback fired %d times, want 1", done)
	}
}

func TestStop_DiscardsCallback(t *testing.T) {
	t.Parallel()
	scr := &recScreen{}
	c := playback.New(scr, nil)
	done := 0
	tok := c.Play("a.mp4", playback.Static("x"), func() { done++ })
	scr.take()
	c.Stop()
	c.Ended(tok)
	if done != 0 {
		t.Errorf("callback fired after Stop")
	}
	if got := scr.take(); !slices.Equal(got, []string{"hide video", "hide sub"}) {
		t.Errorf("Stop screen calls: %v", got)
	}
	c.Stop() // no-op
	if got := scr.take(); len(got) != 0 {
		t.Errorf("second Stop touched the screen: %v", got)
	}
}

func TestProgress_Cues(t *testing.T) {
	t.Parallel()
	scr := &recScreen{}
	c := playback.New(scr, nil)
	subs := playback.Timed(
		playback.Cue{Start: 0, End: 2 * time.Second, Text: "Hello"},
		playback.Cue{Start: 2 * time.Second, End: 4 * time.Second, Text: "Say your code"},
		playback.Cue{Start: 6 * time.Second, End: 8 * time.Second, Text: "Go"},
	)
	tok := c.Play("intro.mp4", subs, nil)
	if got := scr.take(); !slices.Equal(got, []string{"play 1 intro.mp4", "hide sub"}) {
		t.Fatalf("after Play: %v", got)
	}

	steps := []struct {
		name string
		at   time.Duration
		want []string
	}{
		{name: "first cue", at: 500 * time.Millisecond, want: []string{"sub Hello"}},
		{name: "same cue", at: time.Second},
		{name: "shared boundary stays on first cue", at: 2 * time.Second},
		{name: "second cue", at: 2100 * time.Millisecond, want: []string{"sub Say your code"}},
		{name: "gap", at: 5 * time.Second, want: []string{"hide sub"}},
		{name: "still gap", at: 5500 * time.Millisecond},
		{name: "inclusive end", at: 8 * time.Second, want: []string{"sub Go"}},
		{name: "after last cue", at: 9 * time.Second, want: []string{"hide sub"}},
	}
	for _, st := range steps {
		c.Progress(tok, st.at)
		if got := scr.take(); !slices.Equal(got, st.want) {
			t.Errorf("%s (%v): got %v, want %v", st.name, st.at, got, st.want)
		}
	}

	c.Progress(tok+1, time.Second)
	if got := scr.take(); len(got) != 0 {
		t.Errorf("progress with a foreign token touched the screen: %v", got)
	}
}

func TestProgress_StaticIgnored(t *testing.T) {
	t.Parallel()
	scr := &recScreen{}
	c := playback.New(scr, nil)
	tok := c.Play("q.mp4", playback.Static("Question"), nil)
	scr.take()
	c.Progress(tok, time.Second)
	if got := scr.take(); len(got) != 0 {
		t.Errorf("progress changed a static subtitle: %v", got)
	}
}
