// Package realtimeobject implements RealtimeObject[T], a single-consumer
// handoff that lets a realtime thread always observe the latest version of
// a heap-owned value constructed off-thread, while superseded versions flow
// back to non-realtime code for deallocation.
package realtimeobject

import (
	"sync"
	"sync/atomic"

	"github.com/adred-codev/rtkit/internal/rtkit/lifo"
	"github.com/adred-codev/rtkit/internal/rtkit/messenger"
)

// RealtimeObject holds exactly one "current" *T at any instant, visible to
// the realtime consumer via GetRT/GetNonRT, while fresh values are handed
// over through toRT and stale ones drain back through fromRT.
//
// Only one goroutine may call GetRT; Set/Change/ChangeIf serialize on mu and
// may be called by any number of non-realtime goroutines.
type RealtimeObject[T any] struct {
	mu      sync.Mutex
	current atomic.Pointer[T]
	toRT    messenger.Messenger[*T]
	fromRT  messenger.Messenger[*T]
}

// New creates a RealtimeObject whose initial current value is initial.
func New[T any](initial *T) *RealtimeObject[T] {
	r := &RealtimeObject[T]{}
	r.current.Store(initial)
	return r
}

// Set publishes newValue for the realtime consumer to pick up on its next
// GetRT, after first draining and discarding any values already returned
// through fromRT. Safe for concurrent use by multiple non-realtime callers.
func (r *RealtimeObject[T]) Set(newValue *T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fromRT.DiscardAll()
	r.toRT.Send(newValue)
}

// Change constructs a new value by applying fn to a copy of the current
// snapshot and publishes it via Set.
func (r *RealtimeObject[T]) Change(fn func(T) T) {
	cur := r.GetNonRT()
	next := fn(*cur)
	r.Set(&next)
}

// ChangeIf behaves like Change but only applies and publishes the change if
// pred(current) reports true.
func (r *RealtimeObject[T]) ChangeIf(fn func(T) T, pred func(T) bool) bool {
	cur := r.GetNonRT()
	if !pred(*cur) {
		return false
	}
	next := fn(*cur)
	r.Set(&next)
	return true
}

// GetRT returns the current value, first draining toRT for any newer
// values. If one or more newer values were delivered, the newest becomes
// current, and the value it replaced (plus any intermediate versions) is
// sent through fromRT for non-realtime-side destruction. Lock-free and
// allocation-free.
//
// Exactly one goroutine may call GetRT.
func (r *RealtimeObject[T]) GetRT() *T {
	chain := r.toRT.ReceiveAll()
	if chain == nil {
		return r.current.Load()
	}

	// chain is newest-first (LIFO). The head carries the value to publish;
	// everything else in the chain was superseded before ever becoming
	// current and is also stale.
	newest := chain
	stale := lifo.Next(newest)
	newValue := newest.Value

	old := r.current.Swap(newValue)

	// Repurpose the node that carried the newest value to instead carry
	// the value it replaced, and send it through fromRT for non-realtime
	// destruction. This avoids allocating on the realtime path.
	newest.Value = old
	lifo.SetNext(newest, nil)
	r.fromRT.SendNode(newest)

	for n := stale; n != nil; {
		next := lifo.Next(n)
		lifo.SetNext(n, nil)
		r.fromRT.SendNode(n)
		n = next
	}

	return newValue
}

// GetNonRT reads the published current value with acquire ordering. The
// pointed-to value is immutable after publication and must be treated as
// read-only by the caller.
func (r *RealtimeObject[T]) GetNonRT() *T {
	return r.current.Load()
}
