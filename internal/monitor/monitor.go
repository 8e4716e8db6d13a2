// Package monitor samples process and system resource usage and keeps a
// smoothed estimate of connection throughput. The transfer session feeds it
// measurements; the scheduler asks it how many workers the host can carry.
package monitor

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	// MemoryWarnPercent is the system memory usage above which transfers
	// issue reclaim hints and worker counts shrink.
	MemoryWarnPercent = 75.0

	cpuHighPercent     = 70.0
	cpuCriticalPercent = 85.0

	targetLoadFactor = 0.75

	// Connection speed buckets shared with the chunk-size tiers.
	slowSpeedBps   = 256 << 10
	mediumSpeedBps = 1 << 20
	fastSpeedBps   = 5 << 20

	probeBytes   = 128 << 10
	probeTimeout = 10 * time.Second
)

// Sample is a point-in-time view of resource usage. Consumers treat it as an
// immutable snapshot per decision point.
type Sample struct {
	MemoryPercent float64
	ProcessRSS    uint64
	CPUPercent    float64
	CoreCount     int
	ThroughputBps float64
}

// Monitor owns the throughput moving average for one transfer session (or,
// for worker-count recommendations, the process-wide instance). All methods
// are safe for concurrent use.
type Monitor struct {
	mu         sync.Mutex
	alpha      float64
	throughput float64 // bytes/sec EMA, 0 = unknown

	memFn func() (float64, error)
	cpuFn func() (float64, error)
	rssFn func() (uint64, error)
	cores int
}

// New returns a monitor backed by live system probes. alpha is the weight of
// a new throughput sample; the prior estimate keeps 1-alpha.
func New(alpha float64) *Monitor {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	m := &Monitor{
		alpha: alpha,
		cores: runtime.NumCPU(),
	}
	m.memFn = func() (float64, error) {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return 0, err
		}
		return vm.UsedPercent, nil
	}
	m.cpuFn = func() (float64, error) {
		percents, err := cpu.Percent(0, false)
		if err != nil || len(percents) == 0 {
			return 0, err
		}
		return percents[0], nil
	}
	proc, procErr := process.NewProcess(int32(os.Getpid()))
	m.rssFn = func() (uint64, error) {
		if procErr != nil {
			return 0, procErr
		}
		info, err := proc.MemoryInfo()
		if err != nil {
			return 0, err
		}
		return info.RSS, nil
	}
	return m
}

// Sample reads current resource usage. Probe failures leave the affected
// field at zero rather than failing the caller.
func (m *Monitor) Sample() Sample {
	s := Sample{CoreCount: m.cores, ThroughputBps: m.ThroughputBps()}
	if v, err := m.memFn(); err == nil {
		s.MemoryPercent = v
	}
	if v, err := m.cpuFn(); err == nil {
		s.CPUPercent = v
	}
	if v, err := m.rssFn(); err == nil {
		s.ProcessRSS = v
	}
	return s
}

// ObserveThroughput folds a new bytes/sec measurement into the moving
// average.
func (m *Monitor) ObserveThroughput(bps float64) {
	if bps <= 0 || math.IsInf(bps, 0) || math.IsNaN(bps) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.throughput == 0 {
		m.throughput = bps
		return
	}
	m.throughput = m.alpha*bps + (1-m.alpha)*m.throughput
}

// ThroughputBps returns the current estimate, 0 when nothing has been
// measured yet.
func (m *Monitor) ThroughputBps() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throughput
}

// MeasureConnectionSpeed times a small ranged fetch of probeURL and records
// the result in the moving average. Returns bytes/sec, or an error when the
// probe could not complete (throughput then stays unknown).
func (m *Monitor) MeasureConnectionSpeed(ctx context.Context, client *http.Client, probeURL string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", probeBytes-1))

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", probeURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("probe %s: unexpected status %d", probeURL, resp.StatusCode)
	}

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, probeBytes))
	if err != nil {
		return 0, fmt.Errorf("probe read: %w", err)
	}
	elapsed := time.Since(start).Seconds()
	if n == 0 || elapsed <= 0 {
		return 0, fmt.Errorf("probe %s: empty sample", probeURL)
	}
	bps := float64(n) / elapsed
	m.ObserveThroughput(bps)
	return bps, nil
}

// RecommendWorkerCount computes a worker target from core count scaled by
// CPU, memory, connection speed, error and success pressure, clamped to
// [min, max] and change-limited relative to current: increases creep (+2 per
// call), decreases step one at a time unless errors or success degradation
// justify jumping straight to the computed optimum. consecutiveErrors is the
// scheduler's current error streak; successRate is the batch success ratio,
// or a negative value when unknown.
func (m *Monitor) RecommendWorkerCount(current, max, min, consecutiveErrors int, successRate float64) int {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	s := m.Sample()

	optimal := float64(s.CoreCount) * targetLoadFactor
	if optimal < 1 {
		optimal = 1
	}

	switch {
	case s.CPUPercent >= cpuCriticalPercent:
		optimal *= 0.4
	case s.CPUPercent >= cpuHighPercent:
		optimal *= 0.6
	}

	if s.MemoryPercent > MemoryWarnPercent {
		over := (s.MemoryPercent - MemoryWarnPercent) / (100 - MemoryWarnPercent)
		if over > 1 {
			over = 1
		}
		optimal *= 1 - over
	}

	optimal *= speedFactor(s.ThroughputBps)

	errFactor := 1 - 0.2*float64(consecutiveErrors)
	if errFactor < 0.3 {
		errFactor = 0.3
	}
	optimal *= errFactor

	if successRate >= 0 && successRate < 0.8 {
		f := 0.6 + 0.5*successRate
		if f > 1 {
			f = 1
		}
		optimal *= f
	}

	target := clampInt(int(math.Floor(optimal)), min, max)

	degraded := consecutiveErrors >= 3 || (successRate >= 0 && successRate < 0.5)
	switch {
	case target > current:
		if target > current+2 {
			target = current + 2
		}
	case target < current && !degraded:
		target = current - 1
	}
	return clampInt(target, min, max)
}

func speedFactor(bps float64) float64 {
	switch {
	case bps <= 0:
		return 1.0
	case bps < slowSpeedBps:
		return 0.5
	case bps < mediumSpeedBps:
		return 0.8
	case bps <= fastSpeedBps:
		// Fast links get extra workers; beyond that each worker already
		// saturates its share and more would just contend.
		return 1.2
	default:
		return 1.0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
