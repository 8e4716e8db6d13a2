// Package progress tracks batch download progress and renders it, either as
// a live terminal view or as plain log lines when stdout is not a TTY.
package progress

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of batch progress.
type Stats struct {
	FilesDone    int
	FilesTotal   int
	FilesFailed  int
	FilesSkipped int

	BytesDone int64
	RateBps   float64
	StartedAt time.Time

	CurrentFiles []string // names in flight, most recent first
	Workers      int
}

// Meter aggregates per-file completions into batch stats with a smoothed
// transfer rate. Safe for concurrent use.
type Meter struct {
	mu        sync.Mutex
	total     int
	done      int
	failed    int
	skipped   int
	bytes     int64
	rateBps   float64
	alpha     float64
	startedAt time.Time
	lastAt    time.Time
	lastBytes int64
	current   []string
	workers   int
	now       func() time.Time
}

// NewMeter returns a meter for a batch of totalFiles.
func NewMeter(totalFiles int) *Meter {
	return NewMeterWithNow(totalFiles, time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(totalFiles int, now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &Meter{
		total:     totalFiles,
		alpha:     0.2,
		now:       now,
		startedAt: start,
		lastAt:    start,
	}
}

// SetTotal fixes the batch size once URL expansion is done.
func (m *Meter) SetTotal(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = n
}

// SetWorkers records the current worker target for display.
func (m *Meter) SetWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = n
}

// FileStarted marks name as in flight.
func (m *Meter) FileStarted(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = append([]string{name}, m.current...)
}

// FileDone records a completed download of n bytes and folds the implied
// rate into the moving average.
func (m *Meter) FileDone(name string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done++
	m.bytes += n
	m.dropCurrent(name)

	now := m.now()
	deltaBytes := m.bytes - m.lastBytes
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime > 0 && deltaBytes > 0 {
		inst := float64(deltaBytes) / deltaTime
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastBytes = m.bytes
	}
}

// FileFailed records a failed download.
func (m *Meter) FileFailed(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	m.dropCurrent(name)
}

// FileSkipped records a ledger skip.
func (m *Meter) FileSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func (m *Meter) dropCurrent(name string) {
	for i, c := range m.current {
		if c == name {
			m.current = append(m.current[:i], m.current[i+1:]...)
			return
		}
	}
}

// Snapshot returns the current batch stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		FilesDone:    m.done,
		FilesTotal:   m.total,
		FilesFailed:  m.failed,
		FilesSkipped: m.skipped,
		BytesDone:    m.bytes,
		RateBps:      m.rateBps,
		StartedAt:    m.startedAt,
		Workers:      m.workers,
	}
	s.CurrentFiles = append(s.CurrentFiles, m.current...)
	return s
}
