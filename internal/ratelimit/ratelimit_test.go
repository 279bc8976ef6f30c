package ratelimit

import "testing"

func TestConnectionLimiter_AcquireRelease(t *testing.T) {
	t.Parallel()

	cl := NewConnectionLimiter(2)

	if !cl.Acquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if !cl.Acquire() {
		t.Fatal("expected second acquire to succeed")
	}
	if cl.Acquire() {
		t.Error("expected third acquire to fail, limiter at capacity")
	}
	if got := cl.Current(); got != 2 {
		t.Errorf("expected current 2, got %d", got)
	}

	cl.Release()
	if got := cl.Current(); got != 1 {
		t.Errorf("expected current 1 after release, got %d", got)
	}
	if !cl.Acquire() {
		t.Error("expected acquire to succeed after a release freed a slot")
	}
}

func TestGuard_CPUThresholds(t *testing.T) {
	t.Parallel()

	g := &Guard{
		connLimiter:        NewConnectionLimiter(10),
		cpuRejectThreshold: 75,
		cpuPauseThreshold:  80,
	}
	g.currentCPU.Store(0.0)

	if g.ShouldPauseIngestion() {
		t.Error("expected no pause at 0% CPU")
	}

	g.currentCPU.Store(85.0)
	if !g.ShouldPauseIngestion() {
		t.Error("expected pause at 85% CPU with 80% threshold")
	}

	ok, err := g.AcquireConnection()
	if ok || err == nil {
		t.Error("expected connection rejected at 85% CPU with 75% reject threshold")
	}

	g.currentCPU.Store(10.0)
	ok, err = g.AcquireConnection()
	if !ok || err != nil {
		t.Errorf("expected connection admitted at 10%% CPU, got ok=%v err=%v", ok, err)
	}
	g.ReleaseConnection()
}

func TestGuard_ConnectionLimitRejectsBeyondCapacity(t *testing.T) {
	t.Parallel()

	g := &Guard{
		connLimiter:        NewConnectionLimiter(1),
		cpuRejectThreshold: 100,
		cpuPauseThreshold:  100,
	}
	g.currentCPU.Store(0.0)

	ok, err := g.AcquireConnection()
	if !ok || err != nil {
		t.Fatalf("expected first connection admitted, got ok=%v err=%v", ok, err)
	}

	ok, err = g.AcquireConnection()
	if ok || err == nil {
		t.Error("expected second connection rejected, limiter at capacity")
	}
}
