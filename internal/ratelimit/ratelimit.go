// Package ratelimit enforces static resource limits on the demo server:
// rate limiting Producer submissions, capping concurrent realtime consumer
// connections, and a CPU-threshold safety valve for rejecting new
// connections under load.
package ratelimit

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/rtkit/internal/platform"
)

// ConnectionLimiter bounds the number of concurrently open realtime
// consumer connections using a buffered-channel semaphore.
type ConnectionLimiter struct {
	sem chan struct{}
	max int
}

// NewConnectionLimiter creates a limiter admitting at most max concurrent
// connections.
func NewConnectionLimiter(max int) *ConnectionLimiter {
	return &ConnectionLimiter{sem: make(chan struct{}, max), max: max}
}

// Acquire attempts to admit one connection, returning false if at capacity.
func (cl *ConnectionLimiter) Acquire() bool {
	select {
	case cl.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees one connection slot.
func (cl *ConnectionLimiter) Release() {
	<-cl.sem
}

// Current returns the number of connections currently admitted.
func (cl *ConnectionLimiter) Current() int {
	return len(cl.sem)
}

// Max returns the configured connection limit.
func (cl *ConnectionLimiter) Max() int {
	return cl.max
}

// Guard enforces static resource limits: submit rate, connection count, and
// a CPU-threshold safety valve. Unlike an auto-scaling capacity manager, it
// never recalculates its own limits — only the configured thresholds matter.
type Guard struct {
	logger zerolog.Logger

	submitLimiter *rate.Limiter
	connLimiter   *ConnectionLimiter
	cpuMonitor    *platform.Monitor

	cpuRejectThreshold float64
	cpuPauseThreshold  float64

	currentCPU atomic.Value // float64
}

// NewGuard creates a Guard. maxSubmitRate bounds Producer.Submit calls per
// second (burst allowance is 2x); maxConnections bounds concurrent realtime
// consumer connections; the CPU thresholds are percentages of the
// container's allocated CPU.
func NewGuard(maxSubmitRate, maxConnections int, cpuRejectThreshold, cpuPauseThreshold float64, logger zerolog.Logger) *Guard {
	g := &Guard{
		logger:             logger,
		submitLimiter:      rate.NewLimiter(rate.Limit(maxSubmitRate), maxSubmitRate*2),
		connLimiter:        NewConnectionLimiter(maxConnections),
		cpuMonitor:         platform.NewMonitor(logger),
		cpuRejectThreshold: cpuRejectThreshold,
		cpuPauseThreshold:  cpuPauseThreshold,
	}
	g.currentCPU.Store(0.0)
	return g
}

// AllowSubmit reports whether a Producer submission may proceed under the
// configured rate limit.
func (g *Guard) AllowSubmit() bool {
	return g.submitLimiter.Allow()
}

// AcquireConnection attempts to admit a new realtime consumer connection,
// rejecting it if at capacity or if CPU usage is at or above the reject
// threshold.
func (g *Guard) AcquireConnection() (bool, error) {
	cpu := g.CurrentCPU()
	if cpu >= g.cpuRejectThreshold {
		return false, fmt.Errorf("cpu usage %.1f%% at or above reject threshold %.1f%%", cpu, g.cpuRejectThreshold)
	}
	if !g.connLimiter.Acquire() {
		return false, fmt.Errorf("connection limit reached (%d/%d)", g.connLimiter.Current(), g.connLimiter.Max())
	}
	return true, nil
}

// ReleaseConnection frees a connection slot acquired by AcquireConnection.
func (g *Guard) ReleaseConnection() {
	g.connLimiter.Release()
}

// ShouldPauseIngestion reports whether CPU usage is at or above the pause
// threshold, signaling that the NATS bridge should stop forwarding ticks
// until usage drops.
func (g *Guard) ShouldPauseIngestion() bool {
	return g.CurrentCPU() >= g.cpuPauseThreshold
}

// SampleCPU refreshes the cached CPU percentage. Intended to be called
// periodically (e.g. by the telemetry Collector's interval).
func (g *Guard) SampleCPU() error {
	percent, _, err := g.cpuMonitor.GetPercent()
	if err != nil {
		return err
	}
	g.currentCPU.Store(percent)
	return nil
}

// CurrentCPU returns the most recently sampled CPU percentage.
func (g *Guard) CurrentCPU() float64 {
	return g.currentCPU.Load().(float64)
}

// ConnectionCount returns the number of connections currently admitted.
func (g *Guard) ConnectionCount() int {
	return g.connLimiter.Current()
}
