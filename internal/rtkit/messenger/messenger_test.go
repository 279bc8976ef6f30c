package messenger

import (
	"sync"
	"testing"

	"github.com/adred-codev/rtkit/internal/rtkit/lifo"
)

func TestMessenger_SendReceiveAll(t *testing.T) {
	t.Parallel()

	t.Run("fifo_walk_of_lifo_chain", func(t *testing.T) {
		t.Parallel()

		var m Messenger[int]
		m.Send(1)
		m.Send(2)
		m.Send(3)

		chain := m.ReceiveAll()

		var got []int
		head, tail := Walk(chain, func(v int) { got = append(got, v) })

		want := []int{1, 2, 3}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("expected FIFO order %v, got %v", want, got)
			}
		}

		m.Recycle(head, tail)
	})

	t.Run("empty_receive_all_returns_nil", func(t *testing.T) {
		t.Parallel()

		var m Messenger[int]
		if got := m.ReceiveAll(); got != nil {
			t.Errorf("expected nil, got %#v", got)
		}
	})
}

func TestMessenger_ReceiveLast(t *testing.T) {
	t.Parallel()

	t.Run("returns_most_recent_and_recycles_rest", func(t *testing.T) {
		t.Parallel()

		var m Messenger[int]
		m.Send(1)
		m.Send(2)
		m.Send(3)

		v, ok := m.ReceiveLast()
		if !ok {
			t.Fatal("expected ok")
		}
		if got, want := v, 3; got != want {
			t.Errorf("expected %d, got %d", want, got)
		}

		if got := m.ReceiveAll(); got != nil {
			t.Errorf("expected live to be empty after ReceiveLast, got %#v", got)
		}

		// The two older messages should now be on free, restoring capacity
		// for two more allocation-free sends.
		if ok := m.SendIfNodeAvailable(10); !ok {
			t.Error("expected a free node to be available")
		}
		if ok := m.SendIfNodeAvailable(20); !ok {
			t.Error("expected a second free node to be available")
		}
		if ok := m.SendIfNodeAvailable(30); ok {
			t.Error("expected free-list to be exhausted after two reuses")
		}
	})

	t.Run("empty_receive_last_returns_false", func(t *testing.T) {
		t.Parallel()

		var m Messenger[int]
		if _, ok := m.ReceiveLast(); ok {
			t.Error("expected not ok on empty messenger")
		}
	})
}

func TestMessenger_SendIfNodeAvailable(t *testing.T) {
	t.Parallel()

	t.Run("preallocate_then_exhaust", func(t *testing.T) {
		t.Parallel()

		var m Messenger[int]
		m.Preallocate(4, func() int { return 0 })

		for i := 0; i < 4; i++ {
			if ok := m.SendIfNodeAvailable(i); !ok {
				t.Fatalf("send %d: expected free node available", i)
			}
		}
		if ok := m.SendIfNodeAvailable(99); ok {
			t.Error("expected fifth send to fail, free-list exhausted")
		}

		chain := m.ReceiveAll()
		head, tail := Walk(chain, func(int) {})
		m.Recycle(head, tail)

		if ok := m.SendIfNodeAvailable(100); !ok {
			t.Error("expected capacity restored after recycle")
		}
	})

	t.Run("does_not_allocate_or_touch_live_when_free_empty", func(t *testing.T) {
		t.Parallel()

		var m Messenger[int]
		if ok := m.SendIfNodeAvailable(1); ok {
			t.Error("expected false on empty free-list")
		}
		if got := m.ReceiveAll(); got != nil {
			t.Error("expected live untouched by a failed SendIfNodeAvailable")
		}
	})
}

func TestMessenger_RecycleRoundTrip(t *testing.T) {
	t.Parallel()

	// recycle(receive_all()) is a no-op on the total node set owned by the
	// Messenger.
	var m Messenger[int]
	m.Preallocate(3, func() int { return 0 })
	for i := 0; i < 3; i++ {
		m.SendIfNodeAvailable(i)
	}

	chain := m.ReceiveAll()
	n := Length(chain)
	if n != 3 {
		t.Fatalf("expected 3 nodes, got %d", n)
	}

	head, tail := Walk(chain, func(int) {})
	m.Recycle(head, tail)

	for i := 0; i < 3; i++ {
		if ok := m.SendIfNodeAvailable(i); !ok {
			t.Fatalf("send %d: expected capacity preserved by recycle round-trip", i)
		}
	}
	if ok := m.SendIfNodeAvailable(99); ok {
		t.Error("expected no extra capacity beyond the original 3 nodes")
	}
}

func TestMessenger_ConcurrentSendReceiveAll(t *testing.T) {
	t.Parallel()

	const producers = 8
	const perProducer = 500

	var m Messenger[int]
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m.Send(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	chain := m.ReceiveAll()
	seen := make(map[int]bool, producers*perProducer)
	for n := chain; n != nil; n = lifo.Next(n) {
		seen[n.Value] = true
	}
	if got, want := len(seen), producers*perProducer; got != want {
		t.Fatalf("expected %d distinct values, got %d", want, got)
	}
}
