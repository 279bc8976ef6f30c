// Package asyncworker implements AsyncWorker, a single goroutine that
// periodically ticks a set of attached AsyncObjects, draining their
// producers' change functors and rebroadcasting fresh snapshots to their
// instances.
package asyncworker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/rtkit/internal/telemetry"
)

// Tickable is satisfied by *asyncobject.AsyncObject[Obj, Settings] for any
// Obj and Settings. Go generics cannot hold heterogeneous AsyncObject
// instantiations in a single slice, so AsyncWorker depends only on this
// narrow interface.
type Tickable interface {
	Tick()
}

// Worker runs one background goroutine that ticks every attached Tickable
// on a fixed period. A single Worker may drive any number of AsyncObjects,
// each possibly parameterized over different Obj/Settings types.
//
// Design mirrors a fixed worker pool with panic recovery: a panicking
// Tickable's tick is logged with a stack trace and the worker keeps
// running rather than crashing the whole process.
type Worker struct {
	mu       sync.Mutex
	attached []Tickable

	periodNs atomic.Int64
	ticks    atomic.Int64
	dropped  atomic.Int64

	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// DefaultPeriod is the tick interval used when New is given a non-positive
// period.
const DefaultPeriod = 250 * time.Millisecond

// New creates a Worker with the given tick period and logger. A non-positive
// period selects DefaultPeriod. The Worker does nothing until Start is
// called.
func New(period time.Duration, logger zerolog.Logger) *Worker {
	if period <= 0 {
		period = DefaultPeriod
	}
	w := &Worker{logger: logger}
	w.periodNs.Store(int64(period))
	return w
}

// Attach registers t to be ticked on every period from the next tick
// onward. Safe to call while the worker is running.
func (w *Worker) Attach(t Tickable) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attached = append(w.attached, t)
}

// Detach removes t from the attached set. A no-op if t was not attached.
// Safe to call while the worker is running.
func (w *Worker) Detach(t Tickable) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, a := range w.attached {
		if a == t {
			w.attached = append(w.attached[:i], w.attached[i+1:]...)
			return
		}
	}
}

// SetPeriod changes the tick interval, taking effect on the next sleep.
func (w *Worker) SetPeriod(d time.Duration) {
	w.periodNs.Store(int64(d))
}

// GetPeriod returns the current tick interval.
func (w *Worker) GetPeriod() time.Duration {
	return time.Duration(w.periodNs.Load())
}

// TickCount returns the number of ticks completed so far.
func (w *Worker) TickCount() int64 {
	return w.ticks.Load()
}

// DroppedTicks returns the number of Tick calls that panicked and were
// recovered from.
func (w *Worker) DroppedTicks() int64 {
	return w.dropped.Load()
}

// Start launches the background tick loop. A call while the loop is
// already running is a no-op; after Stop, Start launches a new loop. The
// loop runs until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(runCtx)
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.done)

	timer := time.NewTimer(w.GetPeriod())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.tickAll()
			timer.Reset(w.GetPeriod())
		}
	}
}

func (w *Worker) tickAll() {
	w.mu.Lock()
	targets := make([]Tickable, len(w.attached))
	copy(targets, w.attached)
	w.mu.Unlock()

	start := time.Now()
	for _, t := range targets {
		w.tickOne(t)
	}
	w.ticks.Add(1)
	telemetry.RecordWorkerTick(time.Since(start))
}

func (w *Worker) tickOne(t Tickable) {
	defer func() {
		if r := recover(); r != nil {
			w.dropped.Add(1)
			telemetry.RecordWorkerTickPanic()
			w.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("asyncworker: Tick panic recovered, worker continues")
		}
	}()
	t.Tick()
}

// Stop signals the tick loop to exit and blocks until it has. Safe to call
// multiple times; calls after the first are no-ops.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.mu.Lock()
	w.cancel = nil
	w.mu.Unlock()
}
