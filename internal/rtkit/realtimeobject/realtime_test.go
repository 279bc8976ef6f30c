package realtimeobject

import "testing"

func TestRealtimeObject_SetAndGetRT(t *testing.T) {
	t.Parallel()

	t.Run("observes_published_value", func(t *testing.T) {
		t.Parallel()

		zero := 0
		r := New(&zero)

		seven := 7
		r.Set(&seven)

		got := r.GetRT()
		if *got != 7 {
			t.Errorf("expected 7, got %d", *got)
		}
	})

	t.Run("repeated_get_rt_without_set_returns_same_pointer", func(t *testing.T) {
		t.Parallel()

		zero := 0
		r := New(&zero)

		seven := 7
		r.Set(&seven)

		first := r.GetRT()
		second := r.GetRT()
		if first != second {
			t.Errorf("expected same pointer across repeated GetRT, got %p and %p", first, second)
		}
	})

	t.Run("coalesces_multiple_sets_to_latest", func(t *testing.T) {
		t.Parallel()

		zero := 0
		r := New(&zero)

		a, b, c := 1, 2, 3
		r.Set(&a)
		r.Set(&b)
		r.Set(&c)

		got := r.GetRT()
		if *got != 3 {
			t.Errorf("expected latest value 3, got %d", *got)
		}
	})
}

func TestRealtimeObject_GetNonRT(t *testing.T) {
	t.Parallel()

	zero := 0
	r := New(&zero)

	if got := r.GetNonRT(); *got != 0 {
		t.Fatalf("expected initial value 0, got %d", *got)
	}

	seven := 7
	r.Set(&seven)

	// GetNonRT reads the published pointer directly; it only advances once
	// the realtime side calls GetRT.
	if got := r.GetNonRT(); *got != 0 {
		t.Errorf("expected GetNonRT to still see 0 before GetRT runs, got %d", *got)
	}

	r.GetRT()

	if got := r.GetNonRT(); *got != 7 {
		t.Errorf("expected GetNonRT to see 7 after GetRT, got %d", *got)
	}
}

func TestRealtimeObject_ChangeAndChangeIf(t *testing.T) {
	t.Parallel()

	t.Run("change_applies_function_to_copy", func(t *testing.T) {
		t.Parallel()

		five := 5
		r := New(&five)
		r.Change(func(v int) int { return v + 1 })

		got := r.GetRT()
		if *got != 6 {
			t.Errorf("expected 6, got %d", *got)
		}
	})

	t.Run("change_if_gated_by_predicate", func(t *testing.T) {
		t.Parallel()

		five := 5
		r := New(&five)

		applied := r.ChangeIf(func(v int) int { return v + 100 }, func(v int) bool { return v > 10 })
		if applied {
			t.Error("expected predicate to reject change")
		}
		if got := r.GetRT(); *got != 5 {
			t.Errorf("expected unchanged value 5, got %d", *got)
		}

		applied = r.ChangeIf(func(v int) int { return v + 100 }, func(v int) bool { return v < 10 })
		if !applied {
			t.Error("expected predicate to accept change")
		}
		if got := r.GetRT(); *got != 105 {
			t.Errorf("expected 105, got %d", *got)
		}
	})
}

func TestRealtimeObject_OldValueReclaimedViaFromRT(t *testing.T) {
	t.Parallel()

	zero := 0
	r := New(&zero)

	seven := 7
	r.Set(&seven)
	r.GetRT() // 0 becomes stale, flows into fromRT

	if got := r.fromRT.ReceiveAll(); got == nil {
		t.Error("expected stale value queued on fromRT after GetRT")
	} else if got.Value == nil || *got.Value != 0 {
		t.Errorf("expected reclaimed value 0, got %v", got.Value)
	}

	// A subsequent Set drains fromRT before publishing.
	eight := 8
	r.Set(&eight)
	r.GetRT()

	if got := r.fromRT.ReceiveAll(); got == nil {
		t.Error("expected new stale value (7) queued after second GetRT")
	}
}
