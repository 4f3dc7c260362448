// Package countdown provides the pausable per-question answer timer.
//
// A [Timer] runs one countdown at a time. Start replaces any running
// countdown; the timeout callback fires at most once per Start and never after
// Stop or a newer Start. Pause and Resume are idempotent and preserve the
// remaining time exactly.
//
// Callbacks run on the clock's goroutine. Callers that own state on another
// goroutine (the quiz event loop) must hand the work over themselves.
package countdown

import (
	"sync"
	"time"
)

// Stopper is the handle returned by [Clock.AfterFunc].
type Stopper interface {
	Stop() bool
}

// Clock abstracts time so the pause arithmetic can be tested deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Option configures a [Timer].
type Option func(*Timer)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(t *Timer) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithTick registers fn to be called every interval while the countdown runs,
// with the time remaining and the total. Ticks stop while paused.
func WithTick(interval time.Duration, fn func(remaining, total time.Duration)) Option {
	return func(t *Timer) {
		if interval > 0 && fn != nil {
			t.tickEvery = interval
			t.onTick = fn
		}
	}
}

// Timer is a restartable, pausable countdown. Safe for concurrent use.
type Timer struct {
	clock     Clock
	tickEvery time.Duration
	onTick    func(remaining, total time.Duration)

	mu sync.Mutex
	// gen is bumped on every schedule change; stale callbacks compare against it.
	gen uint64
	// active: started and not yet fired or stopped. running: active and not paused.
	active    bool
	running   bool
	total     time.Duration
	remaining time.Duration
	startedAt time.Time
	onTimeout func()
	fireT     Stopper
	tickT     Stopper
}

// New returns an idle Timer.
func New(opts ...Option) *Timer {
	t := &Timer{clock: RealClock}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start begins a countdown of d, replacing any countdown in progress.
// onTimeout is invoked once when the countdown reaches zero.
func (t *Timer) Start(d time.Duration, onTimeout func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.active = true
	t.total = max(d, 0)
	t.remaining = t.total
	t.onTimeout = onTimeout
	t.scheduleLocked()
}

// Pause freezes the countdown. No-op when not running.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.remaining = t.remainingLocked()
	t.running = false
	t.gen++
	t.stopTimersLocked()
}

// Resume continues a paused countdown from where it stopped. No-op when not
// paused.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.running {
		return
	}
	t.scheduleLocked()
}

// Stop cancels the countdown without firing the timeout.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.gen++
}

// Remaining returns the time left. Zero when idle.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return 0
	}
	return t.remainingLocked()
}

// Total returns the duration passed to the last Start.
func (t *Timer) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Running reports whether a countdown is in progress and not paused.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Paused reports whether a countdown is in progress but paused.
func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active && !t.running
}

func (t *Timer) remainingLocked() time.Duration {
	if !t.running {
		return t.remaining
	}
	return max(t.remaining-t.clock.Now().Sub(t.startedAt), 0)
}

func (t *Timer) scheduleLocked() {
	t.gen++
	t.startedAt = t.clock.Now()
	t.running = true
	gen := t.gen
	t.fireT = t.clock.AfterFunc(t.remaining, func() { t.fire(gen) })
	if t.onTick != nil {
		t.tickT = t.clock.AfterFunc(t.tickEvery, func() { t.tick(gen) })
	}
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return
	}
	t.cancelLocked()
	t.remaining = 0
	t.gen++
	cb := t.onTimeout
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (t *Timer) tick(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return
	}
	rem, total := t.remainingLocked(), t.total
	t.tickT = t.clock.AfterFunc(t.tickEvery, func() { t.tick(gen) })
	fn := t.onTick
	t.mu.Unlock()

	fn(rem, total)
}

func (t *Timer) cancelLocked() {
	t.stopTimersLocked()
	t.active = false
	t.running = false
}

func (t *Timer) stopTimersLocked() {
	if t.fireT != nil {
		t.fireT.Stop()
		t.fireT = nil
	}
	if t.tickT != nil {
		t.tickT.Stop()
		t.tickT = nil
	}
}
