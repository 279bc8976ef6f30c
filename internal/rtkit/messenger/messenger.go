// Package messenger implements Messenger[T], a typed channel pairing a live
// LIFO stack of messages with a free-list of recyclable nodes, so that the
// realtime-safe send path never allocates.
package messenger

import "github.com/adred-codev/rtkit/internal/rtkit/lifo"

// Messenger is a multi-producer channel of T values backed by two
// lifo.Stacks: live carries messages, free carries recyclable nodes.
//
// The zero value is a usable, empty Messenger. Call Preallocate before
// realtime-safe sends are needed if the free-list must start non-empty.
type Messenger[T any] struct {
	live lifo.Stack[T]
	free lifo.Stack[T]
}

// SendNode pushes an already-allocated, detached node onto live. Lock-free,
// allocation-free. n must not currently be linked in any stack.
func (m *Messenger[T]) SendNode(n *lifo.Node[T]) {
	m.live.Push(n)
}

// Send delivers value, reusing a node from free when one is available and
// allocating a new one otherwise. Returns true if the non-allocating path
// was taken.
func (m *Messenger[T]) Send(value T) (reused bool) {
	if n := m.takeFreeNode(); n != nil {
		n.Value = value
		m.live.Push(n)
		return true
	}
	m.live.Push(lifo.NewNode(value))
	return false
}

// SendIfNodeAvailable is the realtime-safe send: it never allocates. It
// returns false without side effects on live if the free-list is empty.
func (m *Messenger[T]) SendIfNodeAvailable(value T) bool {
	n := m.takeFreeNode()
	if n == nil {
		return false
	}
	n.Value = value
	m.live.Push(n)
	return true
}

// takeFreeNode pops the entire free chain, detaches its head for reuse, and
// splices the remainder back onto free.
func (m *Messenger[T]) takeFreeNode() *lifo.Node[T] {
	chain := m.free.PopAll()
	if chain == nil {
		return nil
	}
	rest := lifo.Next(chain)
	if rest != nil {
		lifo.SetNext(chain, nil)
		tail := lifo.Tail(rest)
		m.free.PushChain(rest, tail)
	}
	return chain
}

// ReceiveAll returns the entire live chain, most-recently-sent first
// (LIFO order). Returns nil if live was empty.
func (m *Messenger[T]) ReceiveAll() *lifo.Node[T] {
	return m.live.PopAll()
}

// ReceiveLast pops the live chain, keeps only the most recently sent node,
// and recycles the rest onto free. Returns (zero, false) if live was empty.
// This is the "coalesce to latest" pattern.
func (m *Messenger[T]) ReceiveLast() (value T, ok bool) {
	chain := m.live.PopAll()
	if chain == nil {
		return value, false
	}
	rest := lifo.Next(chain)
	if rest != nil {
		lifo.SetNext(chain, nil)
		tail := lifo.Tail(rest)
		m.free.PushChain(rest, tail)
	}
	return chain.Value, true
}

// Recycle splices a chain of detached nodes back onto free in one atomic
// step.
func (m *Messenger[T]) Recycle(head, tail *lifo.Node[T]) {
	if head == nil {
		return
	}
	m.free.PushChain(head, tail)
}

// Preallocate creates n nodes, each initialized by calling init, and places
// them on free. Intended for setup; not realtime-safe (it allocates).
func (m *Messenger[T]) Preallocate(n int, init func() T) {
	for i := 0; i < n; i++ {
		m.free.Push(lifo.NewNode(init()))
	}
}

// DiscardAll drains live onto free without examining payloads, returning
// the number of messages discarded.
func (m *Messenger[T]) DiscardAll() int {
	chain := m.live.PopAll()
	if chain == nil {
		return 0
	}
	n := lifo.Length(chain)
	tail := lifo.Tail(chain)
	m.free.PushChain(chain, tail)
	return n
}

// FreeStorage drops every node currently on free, releasing it to the
// garbage collector. Not realtime-safe.
func (m *Messenger[T]) FreeStorage() {
	m.free.PopAll()
}

// Walk replays a chain returned by ReceiveAll in FIFO (send) order, calling
// fn for each payload. It reverses the chain once via lifo.Reverse to do so
// — the chain's prev links are meaningless after this call, but its next
// links (and therefore its head/tail) are untouched, so the returned
// (head, tail) pair can be passed straight to Recycle. Returns (nil, nil)
// for an empty chain.
func Walk[T any](head *lifo.Node[T], fn func(T)) (origHead, origTail *lifo.Node[T]) {
	if head == nil {
		return nil, nil
	}
	tail := lifo.Reverse(head)
	for n := tail; n != nil; n = lifo.Prev(n) {
		fn(n.Value)
	}
	return head, tail
}

// Length reports the number of nodes in a chain returned by ReceiveAll.
// O(n); must not run concurrently with other mutation of the same chain.
func Length[T any](head *lifo.Node[T]) int {
	return lifo.Length(head)
}
