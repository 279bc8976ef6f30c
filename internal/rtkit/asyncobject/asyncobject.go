// Package asyncobject implements AsyncObject[Obj, Settings], a broadcast
// coordinator where producers submit change functors against a canonical
// Settings value and, whenever it changes, a fresh Obj snapshot is
// constructed and delivered to every attached Instance.
package asyncobject

import (
	"sync"

	"github.com/adred-codev/rtkit/internal/rtkit/messenger"
)

// ChangeFunc mutates a Settings value in place. Implementations must not
// access the AsyncObject that will eventually invoke them.
type ChangeFunc[Settings any] func(*Settings)

// AsyncObject coordinates Producers submitting ChangeFuncs against a
// canonical Settings value, worked on only by whichever goroutine calls
// Tick, and Instances each holding an independent, immutable Obj snapshot
// constructed from Settings.
//
// AsyncObject is the object an AsyncWorker ticks; see the asyncworker
// package. Calling Tick directly (without a worker) runs one iteration of
// the update algorithm synchronously — useful for tests and for embedding
// AsyncObject in a caller-driven event loop.
type AsyncObject[Obj any, Settings any] struct {
	mu        sync.Mutex
	settings  Settings
	newObj    func(Settings) Obj
	instances []*instanceRecord[Obj]
	producers []*producerRecord[Settings]
}

type instanceRecord[Obj any] struct {
	toInstance   messenger.Messenger[Obj]
	fromInstance messenger.Messenger[Obj]
}

type producerRecord[Settings any] struct {
	changes messenger.Messenger[ChangeFunc[Settings]]
}

// New creates an AsyncObject with the given initial Settings. newObj
// constructs an Obj snapshot from a Settings value; it is called once per
// Instance creation and once per Instance per tick that changes Settings.
func New[Obj any, Settings any](initial Settings, newObj func(Settings) Obj) *AsyncObject[Obj, Settings] {
	return &AsyncObject[Obj, Settings]{
		settings: initial,
		newObj:   newObj,
	}
}

// fromInstancePrealloc is the free-list depth stocked on each new Instance's
// return channel. Update must never allocate: the worker reclaims returned
// snapshots every tick and at most one snapshot is delivered per tick, so a
// small constant keeps the free-list from ever running dry.
const fromInstancePrealloc = 4

// CreateInstance constructs a fresh Obj from the current Settings, records
// an Instance, and returns a handle to it. Safe to call from any goroutine.
func (a *AsyncObject[Obj, Settings]) CreateInstance() *Instance[Obj] {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := &instanceRecord[Obj]{}
	rec.fromInstance.Preallocate(fromInstancePrealloc, func() Obj {
		var zero Obj
		return zero
	})
	a.instances = append(a.instances, rec)

	inst := &Instance[Obj]{
		local: a.newObj(a.settings),
		rec:   rec,
	}
	inst.detach = func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.removeInstance(rec)
	}
	return inst
}

// CreateProducer records a Producer and returns a handle to it. Safe to
// call from any goroutine.
func (a *AsyncObject[Obj, Settings]) CreateProducer() *Producer[Settings] {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := &producerRecord[Settings]{}
	a.producers = append(a.producers, rec)

	p := &Producer[Settings]{rec: rec}
	p.detach = func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.removeProducer(rec)
	}
	return p
}

func (a *AsyncObject[Obj, Settings]) removeInstance(rec *instanceRecord[Obj]) {
	for i, r := range a.instances {
		if r == rec {
			a.instances = append(a.instances[:i], a.instances[i+1:]...)
			return
		}
	}
}

func (a *AsyncObject[Obj, Settings]) removeProducer(rec *producerRecord[Settings]) {
	for i, r := range a.producers {
		if r == rec {
			a.producers = append(a.producers[:i], a.producers[i+1:]...)
			return
		}
	}
}

// Tick runs one iteration of the worker algorithm:
//
//  1. Lock the mutex for the duration of the tick.
//  2. For each Instance, drain and drop fromInstance (reclaiming Objs
//     previously returned by consumers).
//  3. For each Producer, receive all pending change functors, replay them
//     in FIFO order against Settings, and recycle their nodes.
//  4. If any change functor ran, discard any undelivered toInstance
//     snapshots and send every Instance a fresh Obj built from Settings.
func (a *AsyncObject[Obj, Settings]) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range a.instances {
		rec.fromInstance.DiscardAll()
	}

	anyChange := false
	for _, rec := range a.producers {
		chain := rec.changes.ReceiveAll()
		if chain == nil {
			continue
		}
		head, tail := messenger.Walk(chain, func(fn ChangeFunc[Settings]) {
			fn(&a.settings)
			anyChange = true
		})
		rec.changes.Recycle(head, tail)
	}

	if anyChange {
		for _, rec := range a.instances {
			rec.toInstance.DiscardAll()
			rec.toInstance.Send(a.newObj(a.settings))
		}
	}
}

// Instance is a per-consumer handle owning one Obj snapshot and its
// delivery channels. Exactly one goroutine may call Update and Get on a
// given Instance.
type Instance[Obj any] struct {
	local  Obj
	rec    *instanceRecord[Obj]
	detach func()
}

// Update swaps in the latest Obj snapshot, if one has arrived since the
// last Update, returning the superseded snapshot through fromInstance for
// the worker to reclaim. Returns true iff a swap occurred. Lock-free and
// allocation-free: the return channel's free-list is stocked by
// CreateInstance and replenished by the worker's reclaim step.
func (i *Instance[Obj]) Update() bool {
	next, ok := i.rec.toInstance.ReceiveLast()
	if !ok {
		return false
	}
	old := i.local
	i.local = next
	i.rec.fromInstance.Send(old)
	return true
}

// Get returns the locally held Obj snapshot.
func (i *Instance[Obj]) Get() Obj {
	return i.local
}

// Close detaches the Instance from its AsyncObject. After Close, the
// Instance's AsyncObject no longer sends it snapshots or reclaims its
// returns.
func (i *Instance[Obj]) Close() {
	if i.detach != nil {
		i.detach()
		i.detach = nil
	}
}

// Producer is a handle owning a change-functor channel into an
// AsyncObject's Settings.
type Producer[Settings any] struct {
	rec    *producerRecord[Settings]
	detach func()
}

// Submit enqueues change for application on the next tick. May allocate if
// the Producer's free-list is exhausted.
func (p *Producer[Settings]) Submit(change ChangeFunc[Settings]) {
	p.rec.changes.Send(change)
}

// SubmitNB is the realtime-safe enqueue: it never allocates, returning
// false if the free-list is empty.
func (p *Producer[Settings]) SubmitNB(change ChangeFunc[Settings]) bool {
	return p.rec.changes.SendIfNodeAvailable(change)
}

// Preallocate stocks the Producer's free-list with n reusable nodes so that
// the first n SubmitNB calls are guaranteed not to fail. Not realtime-safe.
func (p *Producer[Settings]) Preallocate(n int) {
	p.rec.changes.Preallocate(n, func() ChangeFunc[Settings] { return nil })
}

// Close detaches the Producer from its AsyncObject.
func (p *Producer[Settings]) Close() {
	if p.detach != nil {
		p.detach()
		p.detach = nil
	}
}
