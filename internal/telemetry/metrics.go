// Package telemetry registers and updates the Prometheus metrics exposed
// by the demo server.
package telemetry

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Producer/Messenger traffic
	submitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtkit_submits_total",
		Help: "Total change functors submitted by producers, by path (allocating or non-blocking)",
	}, []string{"path"})

	submitNBRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtkit_submit_nb_rejected_total",
		Help: "Total SubmitNB calls that failed because the free-list was exhausted",
	})

	// Instance delivery
	instanceUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtkit_instance_updates_total",
		Help: "Total Instance.Update calls that observed a new snapshot",
	})

	instancesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtkit_instances_active",
		Help: "Current number of live Instances across all AsyncObjects",
	})

	// AsyncWorker
	workerTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtkit_worker_ticks_total",
		Help: "Total AsyncWorker ticks completed",
	})

	workerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtkit_worker_tick_duration_seconds",
		Help:    "Duration of a single AsyncWorker tick across all attached objects",
		Buckets: prometheus.DefBuckets,
	})

	workerTickPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rtkit_worker_tick_panics_total",
		Help: "Total panics recovered from an attached Tickable's Tick call",
	})

	// Connection metrics (realtime consumer transport)
	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtkit_connections_active",
		Help: "Current number of active realtime consumer connections",
	})

	connectionsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtkit_connections_rejected_total",
		Help: "Total connection attempts rejected, by reason",
	}, []string{"reason"})

	// System metrics
	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtkit_cpu_usage_percent",
		Help: "Current CPU usage as a percentage of allocated CPUs",
	})

	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtkit_goroutines_active",
		Help: "Current number of active goroutines",
	})

	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rtkit_memory_bytes",
		Help: "Current heap memory allocated in bytes",
	})
)

func init() {
	prometheus.MustRegister(
		submitsTotal,
		submitNBRejectedTotal,
		instanceUpdatesTotal,
		instancesActive,
		workerTicksTotal,
		workerTickDuration,
		workerTickPanicsTotal,
		connectionsActive,
		connectionsRejectedTotal,
		cpuUsagePercent,
		goroutinesActive,
		memoryUsageBytes,
	)
}

// RecordSubmit records a Producer submission, distinguishing the
// realtime-safe non-blocking path from the allocating path.
func RecordSubmit(nonBlocking bool) {
	if nonBlocking {
		submitsTotal.WithLabelValues("non_blocking").Inc()
		return
	}
	submitsTotal.WithLabelValues("allocating").Inc()
}

// RecordSubmitNBRejected records a SubmitNB call that failed due to free-list
// exhaustion.
func RecordSubmitNBRejected() {
	submitNBRejectedTotal.Inc()
}

// RecordInstanceUpdate records an Instance.Update call that delivered a new
// snapshot.
func RecordInstanceUpdate() {
	instanceUpdatesTotal.Inc()
}

// IncInstancesActive records one more live Instance.
func IncInstancesActive() {
	instancesActive.Inc()
}

// DecInstancesActive records one fewer live Instance.
func DecInstancesActive() {
	instancesActive.Dec()
}

// RecordWorkerTick records one completed AsyncWorker tick and its duration.
func RecordWorkerTick(d time.Duration) {
	workerTicksTotal.Inc()
	workerTickDuration.Observe(d.Seconds())
}

// RecordWorkerTickPanic records a recovered panic from a Tickable's Tick.
func RecordWorkerTickPanic() {
	workerTickPanicsTotal.Inc()
}

// SetConnectionsActive sets the current count of realtime consumer
// connections.
func SetConnectionsActive(n int) {
	connectionsActive.Set(float64(n))
}

// RecordConnectionRejected records a rejected connection attempt by reason
// (e.g. "capacity_or_cpu").
func RecordConnectionRejected(reason string) {
	connectionsRejectedTotal.WithLabelValues(reason).Inc()
}

// Collector periodically samples process-wide metrics (CPU, goroutines,
// memory) that aren't naturally event-driven.
type Collector struct {
	cpuPercentFn func() float64
	interval     time.Duration
	stop         chan struct{}
}

// NewCollector creates a Collector. cpuPercentFn supplies the current CPU
// usage percentage (typically ratelimit.Guard.CurrentCPU).
func NewCollector(interval time.Duration, cpuPercentFn func() float64) *Collector {
	return &Collector{
		cpuPercentFn: cpuPercentFn,
		interval:     interval,
		stop:         make(chan struct{}),
	}
}

// Start begins periodic sampling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts periodic sampling.
func (c *Collector) Stop() {
	close(c.stop)
}

func (c *Collector) collect() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memoryUsageBytes.Set(float64(mem.Alloc))

	goroutinesActive.Set(float64(runtime.NumGoroutine()))

	if c.cpuPercentFn != nil {
		cpuUsagePercent.Set(c.cpuPercentFn())
	}
}

// Handler returns the HTTP handler that serves metrics in the Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
