package countdown_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxquiz/internal/countdown"
	"github.com/MrWong99/voxquiz/internal/countdown/mock"
)

func newTimer(opts ...countdown.Option) (*countdown.Timer, *mock.Clock) {
	clk := &mock.Clock{}
	return countdown.New(append([]countdown.Option{countdown.WithClock(clk)}, opts...)...), clk
}

func TestTimer_FiresOnce(t *testing.T) {
	t.Parallel()
	tm, clk := newTimer()
	var fired atomic.Int32
	tm.Start(15*time.Second, func() { fired.Add(1) })

	clk.Advance(14 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("fired before the deadline")
	}
	clk.Advance(2 * time.Second)
	clk.Advance(time.Minute)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
	if tm.Running() || tm.Remaining() != 0 {
		t.Errorf("after timeout: running=%v remaining=%v", tm.Running(), tm.Remaining())
	}
}

func TestTimer_PauseResumePreservesRemaining(t *testing.T) {
	t.Parallel()
	tm, clk := newTimer()
	var fired atomic.Int32
	tm.Start(15*time.Second, func() { fired.Add(1) })

	clk.Advance(4 * time.Second)
	tm.Pause()
	tm.Pause() // idempotent
	if got := tm.Remaining(); got != 11*time.Second {
		t.Fatalf("remaining after pause: got %v, want 11s", got)
	}

	clk.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Fatal("fired while paused")
	}
	if got := tm.Remaining(); got != 11*time.Second {
		t.Errorf("remaining changed while paused: %v", got)
	}

	tm.Resume()
	tm.Resume() // idempotent
	clk.Advance(10 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("fired one second early")
	}
	clk.Advance(time.Second)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
}

func TestTimer_StopPreventsTimeout(t *testing.T) {
	t.Parallel()
	tm, clk := newTimer()
	var fired atomic.Int32
	tm.Start(time.Second, func() { fired.Add(1) })
	tm.Stop()
	clk.Advance(time.Minute)
	if fired.Load() != 0 {
		t.Error("stopped timer fired")
	}
	tm.Resume()
	clk.Advance(time.Minute)
	if fired.Load() != 0 {
		t.Error("Resume after Stop restarted the countdown")
	}
}

func TestTimer_RestartReplacesCallback(t *testing.T) {
	t.Parallel()
	tm, clk := newTimer()
	var first, second atomic.Int32
	tm.Start(5*time.Second, func() { first.Add(1) })
	clk.Advance(3 * time.Second)
	tm.Start(5*time.Second, func() { second.Add(1) })
	clk.Advance(3 * time.Second)
	if first.Load() != 0 {
		t.Error("first callback fired after restart")
	}
	clk.Advance(2 * time.Second)
	if second.Load() != 1 {
		t.Errorf("second callback fired %d times, want 1", second.Load())
	}
	if tm.Total() != 5*time.Second {
		t.Errorf("Total: got %v, want 5s", tm.Total())
	}
}

func TestTimer_PauseResumeCycles(t *testing.T) {
	t.Parallel()
	tm, clk := newTimer()
	var fired atomic.Int32
	tm.Start(10*time.Second, func() { fired.Add(1) })
	for range 5 {
		clk.Advance(time.Second)
		tm.Pause()
		clk.Advance(30 * time.Second)
		tm.Resume()
	}
	if got := tm.Remaining(); got != 5*time.Second {
		t.Fatalf("remaining after cycles: got %v, want 5s", got)
	}
	if !tm.Running() || tm.Paused() {
		t.Errorf("state: running=%v paused=%v", tm.Running(), tm.Paused())
	}
	clk.Advance(5 * time.Second)
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}
}

func TestTimer_Ticks(t *testing.T) {
	t.Parallel()
	var ticks []time.Duration
	tm, clk := newTimer(countdown.WithTick(time.Second, func(rem, total time.Duration) {
		ticks = append(ticks, rem)
		if total != 3*time.Second {
			t.Errorf("tick total: got %v, want 3s", total)
		}
	}))
	tm.Start(3*time.Second, func() {})
	clk.Advance(time.Second)
	tm.Pause()
	clk.Advance(10 * time.Second)
	tm.Resume()
	clk.Advance(5 * time.Second)

	want := []time.Duration{2 * time.Second, time.Second}
	if len(ticks) < len(want) {
		t.Fatalf("ticks: got %v, want prefix %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Errorf("tick %d: got %v, want %v", i, ticks[i], want[i])
		}
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers after timeout: %d", clk.Pending())
	}
}
