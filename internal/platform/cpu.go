// Package platform reports how much of the process's CPU allocation is in
// use. Inside a container it reads the cgroup's own accounting, since
// host-wide measurement misrepresents usage under a quota; outside one it
// falls back to gopsutil. The ratelimit Guard feeds the percentage into
// connection admission and ingestion pause decisions.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// ThrottleStats reports cgroup CPU throttling deltas between two samples.
type ThrottleStats struct {
	Periods       uint64
	Throttled     uint64
	ThrottledSecs float64
}

// layout captures everything that differs between cgroup v1 and v2 CPU
// accounting: where the hierarchy is mounted, which files hold the quota,
// where the cumulative usage counter lives, and the name and unit of the
// throttled-time field in cpu.stat. All reading code below is shared; the
// two table entries are the only per-version knowledge in the package.
type layout struct {
	version    int
	mount      string   // prefix joined with the /proc/self/cgroup path
	quotaFiles []string // one two-field file (v2) or two one-field files (v1)
	usageFile  string
	usageKey   string  // cpu.stat field holding usage; empty means usageFile is a bare counter
	usageDiv   uint64  // divisor from the bare counter's unit to microseconds
	throttKey  string  // cpu.stat field holding cumulative throttled time
	throttDiv  float64 // divisor from that field's unit to seconds
}

var layouts = map[int]layout{
	2: {
		version:    2,
		mount:      "/sys/fs/cgroup",
		quotaFiles: []string{"cpu.max"},
		usageFile:  "cpu.stat",
		usageKey:   "usage_usec",
		throttKey:  "throttled_usec",
		throttDiv:  1e6,
	},
	1: {
		version:    1,
		mount:      "/sys/fs/cgroup/cpu",
		quotaFiles: []string{"cpu.cfs_quota_us", "cpu.cfs_period_us"},
		usageFile:  "cpuacct.usage",
		usageDiv:   1000, // nanoseconds
		throttKey:  "throttled_time",
		throttDiv:  1e9,
	},
}

// readQuota returns the configured CPU quota and period in microseconds.
// A quota of -1 means unlimited. Whether the two numbers arrive as two
// fields of one file (v2 cpu.max) or one field each across two files (v1)
// collapses into the same two-element slice here.
func (l layout) readQuota(root string) (quota, period int64, err error) {
	fields := make([]string, 0, 2)
	for _, name := range l.quotaFiles {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			return 0, 0, err
		}
		fields = append(fields, strings.Fields(string(data))...)
	}
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected quota format %q", fields)
	}
	if fields[0] == "max" {
		return -1, 0, nil
	}
	quota, err = strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(fields[1], 10, 64)
	return quota, period, err
}

// readUsage returns cumulative CPU time consumed by the cgroup, in
// microseconds.
func (l layout) readUsage(root string) (uint64, error) {
	if l.usageKey != "" {
		fields, err := statFields(filepath.Join(root, l.usageFile))
		if err != nil {
			return 0, err
		}
		usec, ok := fields[l.usageKey]
		if !ok {
			return 0, fmt.Errorf("%s not found in %s", l.usageKey, l.usageFile)
		}
		return usec, nil
	}

	data, err := os.ReadFile(filepath.Join(root, l.usageFile))
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return n / l.usageDiv, nil
}

// readThrottle returns the cgroup's cumulative throttling counters. Both
// versions keep them in cpu.stat; only the throttled-time key and unit
// differ.
func (l layout) readThrottle(root string) (ThrottleStats, error) {
	fields, err := statFields(filepath.Join(root, "cpu.stat"))
	if err != nil {
		return ThrottleStats{}, err
	}
	return ThrottleStats{
		Periods:       fields["nr_periods"],
		Throttled:     fields["nr_throttled"],
		ThrottledSecs: float64(fields[l.throttKey]) / l.throttDiv,
	}, nil
}

// statFields parses a flat "key value" file like cpu.stat into a map.
// Malformed lines are skipped.
func statFields(path string) (map[string]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			out[fields[0]] = v
		}
	}
	return out, nil
}

// detect resolves the calling process's CPU cgroup root and layout from
// /proc/self/cgroup.
func detect() (root string, lay layout, err error) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", layout{}, err
	}
	version, path, ok := parseCgroupTable(string(data))
	if !ok {
		return "", layout{}, fmt.Errorf("no cpu cgroup in /proc/self/cgroup")
	}
	lay = layouts[version]
	return lay.mount + path, lay, nil
}

// parseCgroupTable scans /proc/self/cgroup content for the hierarchy
// carrying CPU accounting: the unified v2 hierarchy ("0::<path>") or a v1
// hierarchy whose controller list includes cpu.
func parseCgroupTable(table string) (version int, path string, ok bool) {
	for _, line := range strings.Split(table, "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" && parts[1] == "" {
			return 2, parts[2], true
		}
		for _, controller := range strings.Split(parts[1], ",") {
			if controller == "cpu" {
				return 1, parts[2], true
			}
		}
	}
	return 0, "", false
}

// sampler measures CPU usage as a percentage of the cgroup's allocation by
// diffing the cumulative usage counter between calls.
type sampler struct {
	mu  sync.Mutex
	lay layout

	root      string
	allocated float64
	now       func() time.Time

	lastUsec     uint64
	lastAt       time.Time
	lastThrottle ThrottleStats
}

func newSampler(root string, lay layout) (*sampler, error) {
	quota, period, err := lay.readQuota(root)
	if err != nil {
		return nil, fmt.Errorf("read cpu quota: %w", err)
	}
	allocated := float64(runtime.NumCPU())
	if quota > 0 && period > 0 {
		allocated = float64(quota) / float64(period)
	}

	usec, err := lay.readUsage(root)
	if err != nil {
		return nil, fmt.Errorf("read cpu usage: %w", err)
	}

	s := &sampler{
		lay:       lay,
		root:      root,
		allocated: allocated,
		now:       time.Now,
		lastUsec:  usec,
		lastAt:    time.Now(),
	}
	if th, err := lay.readThrottle(root); err == nil {
		s.lastThrottle = th
	}
	return s, nil
}

// sample returns CPU usage since the previous call as a percentage of the
// allocation, plus throttling deltas over the same window.
func (s *sampler) sample() (percent float64, delta ThrottleStats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usec, err := s.lay.readUsage(s.root)
	if err != nil {
		return 0, ThrottleStats{}, err
	}

	now := s.now()
	elapsed := now.Sub(s.lastAt).Microseconds()
	if elapsed <= 0 {
		return 0, ThrottleStats{}, fmt.Errorf("sample interval too small")
	}

	percent = float64(usec-s.lastUsec) / float64(elapsed) * 100 / s.allocated

	if th, err := s.lay.readThrottle(s.root); err == nil {
		delta = ThrottleStats{
			Periods:       th.Periods - s.lastThrottle.Periods,
			Throttled:     th.Throttled - s.lastThrottle.Throttled,
			ThrottledSecs: th.ThrottledSecs - s.lastThrottle.ThrottledSecs,
		}
		s.lastThrottle = th
	}

	s.lastUsec = usec
	s.lastAt = now
	return percent, delta, nil
}

// Monitor provides CPU measurement with automatic container/host fallback.
type Monitor struct {
	sampler *sampler
	logger  zerolog.Logger
}

// NewMonitor tries cgroup-based measurement first, falling back to gopsutil
// host-wide measurement when no usable cgroup is found (e.g. running the
// demo outside a container).
func NewMonitor(logger zerolog.Logger) *Monitor {
	root, lay, err := detect()
	if err == nil {
		s, serr := newSampler(root, lay)
		if serr == nil {
			logger.Info().
				Int("cgroup_version", lay.version).
				Float64("cpus_allocated", s.allocated).
				Str("cgroup_path", root).
				Msg("using container-aware CPU measurement")
			return &Monitor{sampler: s, logger: logger}
		}
		err = serr
	}

	logger.Warn().Err(err).Msg("no usable cgroup, falling back to host CPU measurement")
	return &Monitor{logger: logger}
}

// GetPercent returns CPU usage as a percentage of allocation (container
// mode) or of all host CPUs combined (host mode).
func (m *Monitor) GetPercent() (float64, ThrottleStats, error) {
	if m.sampler != nil {
		return m.sampler.sample()
	}

	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, ThrottleStats{}, err
	}
	if len(percents) == 0 {
		return 0, ThrottleStats{}, fmt.Errorf("no CPU data")
	}
	return percents[0], ThrottleStats{}, nil
}

// GetAllocation returns the number of CPUs available to this process.
func (m *Monitor) GetAllocation() float64 {
	if m.sampler != nil {
		return m.sampler.allocated
	}
	return float64(runtime.NumCPU())
}

// Mode reports "container" or "host".
func (m *Monitor) Mode() string {
	if m.sampler != nil {
		return "container"
	}
	return "host"
}
