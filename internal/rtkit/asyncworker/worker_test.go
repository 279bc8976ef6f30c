package asyncworker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/rtkit/internal/rtkit/asyncobject"
)

func newCounter(settings int) int { return settings }

func TestWorker_TicksAttachedObjectOnPeriod(t *testing.T) {
	t.Parallel()

	a := asyncobject.New[int, int](0, newCounter)
	inst := a.CreateInstance()
	defer inst.Close()
	p := a.CreateProducer()
	defer p.Close()

	w := New(10*time.Millisecond, zerolog.Nop())
	w.Attach(a)

	p.Submit(func(s *int) { *s += 1 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if inst.Update() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for worker to tick and deliver snapshot")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := inst.Get(); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

// Mirrors the fifty-submits-at-50ms-period scenario: after stopping the
// worker and running one final tick, every instance reads 50.
func TestWorker_StopThenFinalTickObservesAllSubmittedChanges(t *testing.T) {
	t.Parallel()

	a := asyncobject.New[int, int](0, newCounter)
	inst := a.CreateInstance()
	defer inst.Close()
	p := a.CreateProducer()
	defer p.Close()

	w := New(50*time.Millisecond, zerolog.Nop())
	w.Attach(a)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	for i := 0; i < 50; i++ {
		p.Submit(func(s *int) { *s += 1 })
	}

	w.Stop()
	cancel()

	// A final tick run directly (Tick may be called outside of a worker)
	// picks up any submits made after the worker's last scheduled tick.
	a.Tick()
	inst.Update()

	if got := inst.Get(); got != 50 {
		t.Errorf("expected 50, got %d", got)
	}
}

func TestWorker_AttachDetach(t *testing.T) {
	t.Parallel()

	a := asyncobject.New[int, int](0, newCounter)
	w := New(time.Hour, zerolog.Nop())

	w.Attach(a)
	if got := len(w.attached); got != 1 {
		t.Fatalf("expected 1 attached, got %d", got)
	}

	w.Detach(a)
	if got := len(w.attached); got != 0 {
		t.Fatalf("expected 0 attached after detach, got %d", got)
	}
}

func TestWorker_SetPeriodGetPeriod(t *testing.T) {
	t.Parallel()

	w := New(time.Second, zerolog.Nop())
	if got := w.GetPeriod(); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}

	w.SetPeriod(250 * time.Millisecond)
	if got := w.GetPeriod(); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
}

func TestWorker_NonPositivePeriodSelectsDefault(t *testing.T) {
	t.Parallel()

	w := New(0, zerolog.Nop())
	if got := w.GetPeriod(); got != DefaultPeriod {
		t.Fatalf("expected default period %v, got %v", DefaultPeriod, got)
	}
}

func TestWorker_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	w := New(time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	w.Start(ctx) // second Start while running is a no-op
	w.Stop()
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	w := New(time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Stop()
	w.Stop() // must not panic or block
}

type panickingTickable struct {
	calls atomic.Int64
}

func (p *panickingTickable) Tick() {
	p.calls.Add(1)
	panic("boom")
}

func TestWorker_PanicInTickIsRecoveredAndCounted(t *testing.T) {
	t.Parallel()

	pt := &panickingTickable{}
	w := New(5*time.Millisecond, zerolog.Nop())
	w.Attach(pt)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	deadline := time.After(2 * time.Second)
	for pt.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for panicking Tickable to be called repeatedly")
		case <-time.After(5 * time.Millisecond):
		}
	}

	w.Stop()
	cancel()

	if got := w.DroppedTicks(); got == 0 {
		t.Error("expected at least one recovered panic counted")
	}
}
