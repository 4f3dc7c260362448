package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeNow is a manually advanced clock.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func fail(context.Context) error { return errTest }
func ok(context.Context) error   { return nil }

func newTestBreaker(cfg Config) (*Breaker, *fakeNow) {
	clk := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	cfg.Now = clk.Now
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	return New(cfg), clk
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	b := New(Config{Name: "boundary"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 1 {
		t.Errorf("halfOpenMax = %d, want 1", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
	if b.Name() != "boundary" {
		t.Errorf("Name = %q", b.Name())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{MaxFailures: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success resets the count)", b.State())
	}

	_ = b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{name: "success closes", probe: ok, want: StateClosed},
		{name: "failure re-opens", probe: fail, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var transitions []string
			b, clk := newTestBreaker(Config{
				MaxFailures:  2,
				ResetTimeout: 10 * time.Second,
				OnStateChange: func(from, to State) {
					transitions = append(transitions, from.String()+">"+to.String())
				},
			})
			ctx := context.Background()
			_ = b.Execute(ctx, fail)
			_ = b.Execute(ctx, fail)

			clk.Advance(9 * time.Second)
			if b.State() != StateOpen {
				t.Fatalf("state = %v before the reset timeout, want open", b.State())
			}
			clk.Advance(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state = %v after the reset timeout, want half-open", b.State())
			}

			_ = b.Execute(ctx, tt.probe)
			if got := b.State(); got != tt.want {
				t.Errorf("state after probe = %v, want %v", got, tt.want)
			}
			if len(transitions) != 3 || transitions[0] != "closed>open" || transitions[1] != "open>half-open" {
				t.Errorf("transitions = %v", transitions)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})
	ctx := context.Background()
	_ = b.Execute(ctx, fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IsFailure(t *testing.T) {
	t.Parallel()
	errClient := errors.New("bad request")
	b, _ := newTestBreaker(Config{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errClient) },
	})
	ctx := context.Background()
	_ = b.Execute(ctx, func(context.Context) error { return errClient })
	if b.State() != StateClosed {
		t.Fatalf("ignored error opened the breaker")
	}
	_ = b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
}

func TestBreaker_CancelledCallerNotCounted(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{MaxFailures: 1})
	_ = b.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	ctx := context.Background()
	_ = b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Execute(ctx, ok); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
