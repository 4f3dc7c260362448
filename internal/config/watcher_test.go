package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxquiz/internal/config"
)

const watchBase = `
boundary:
  url: http://backend:8000
game:
  answer_time: 15s
`

const watchChanged = `
boundary:
  url: http://backend:8000
game:
  answer_time: 25s
`

// writeFile replaces path atomically and bumps the mtime so the change is
// visible on filesystems with coarse timestamps.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", tmp, err)
	}
	bump(t, tmp)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename %s: %v", tmp, err)
	}
}

var (
	bumpMu sync.Mutex
	bumpAt = time.Now()
)

func bump(t *testing.T, path string) {
	t.Helper()
	bumpMu.Lock()
	bumpAt = bumpAt.Add(time.Second)
	at := bumpAt
	bumpMu.Unlock()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

type changes struct {
	mu      sync.Mutex
	reloads []config.Reload
	called  chan struct{}
}

func newChanges() *changes {
	return &changes{called: make(chan struct{}, 8)}
}

func (c *changes) onReload(r config.Reload) {
	c.mu.Lock()
	c.reloads = append(c.reloads, r)
	c.mu.Unlock()
	c.called <- struct{}{}
}

func (c *changes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reloads)
}

func startWatcher(t *testing.T, path string, ch *changes) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, ch.onReload, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return w
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxquiz.yaml")
	writeFile(t, path, watchBase)

	ch := newChanges()
	w := startWatcher(t, path, ch)
	if got := w.Current().Game.AnswerTime; got != 15*time.Second {
		t.Fatalf("initial answer_time = %v", got)
	}

	writeFile(t, path, watchChanged)
	select {
	case <-ch.called:
	case <-time.After(2 * time.Second):
		t.Fatal("onReload was not called")
	}

	ch.mu.Lock()
	r := ch.reloads[0]
	ch.mu.Unlock()
	if r.Old.Game.AnswerTime != 15*time.Second || r.New.Game.AnswerTime != 25*time.Second {
		t.Errorf("old=%v new=%v", r.Old.Game.AnswerTime, r.New.Game.AnswerTime)
	}
	if w.Current() != r.New {
		t.Error("Current does not return the reloaded config")
	}
	if !r.Diff.ContentChanged || len(r.Diff.Restart) != 0 {
		t.Errorf("diff = %+v", r.Diff)
	}
}

func TestWatcher_InvalidFileKeepsPrevious(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxquiz.yaml")
	writeFile(t, path, watchBase)

	ch := newChanges()
	w := startWatcher(t, path, ch)
	before := w.Current()

	writeFile(t, path, "boundary:\n  url: not a url\n")
	time.Sleep(150 * time.Millisecond)
	if ch.count() != 0 {
		t.Fatalf("onReload called %d times for an invalid file", ch.count())
	}
	if w.Current() != before {
		t.Error("invalid file replaced the current config")
	}

	writeFile(t, path, watchChanged)
	select {
	case <-ch.called:
	case <-time.After(2 * time.Second):
		t.Fatal("onReload was not called after the file was fixed")
	}
}

func TestWatcher_TouchWithoutChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxquiz.yaml")
	writeFile(t, path, watchBase)

	ch := newChanges()
	startWatcher(t, path, ch)

	bump(t, path)
	time.Sleep(150 * time.Millisecond)
	if n := ch.count(); n != 0 {
		t.Errorf("onReload called %d times for a touched file", n)
	}
}

func TestWatcher_CommentOnlyEditIsSilent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxquiz.yaml")
	writeFile(t, path, watchBase)

	ch := newChanges()
	w := startWatcher(t, path, ch)
	before := w.Current()

	writeFile(t, path, "# hall A kiosk\n"+watchBase)
	deadline := time.Now().Add(2 * time.Second)
	for w.Current() == before {
		if time.Now().After(deadline) {
			t.Fatal("comment-only edit was never picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := ch.count(); n != 0 {
		t.Errorf("onReload called %d times for a comment-only edit", n)
	}
}

func TestNewWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxquiz.yaml")
	writeFile(t, path, "server:\n  log_level: loud\n")
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for an invalid initial config")
	}
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
