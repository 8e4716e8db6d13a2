package progress

import (
	"testing"
	"time"
)

func TestMeterCountsOutcomes(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(5, func() time.Time { return now })

	m.FileStarted("a.mp4")
	now = now.Add(1 * time.Second)
	m.FileDone("a.mp4", 1000)
	m.FileFailed("b.mp4")
	m.FileSkipped()

	s := m.Snapshot()
	if s.FilesDone != 1 || s.FilesFailed != 1 || s.FilesSkipped != 1 {
		t.Fatalf("counts: %+v", s)
	}
	if s.FilesTotal != 5 {
		t.Fatalf("total = %d", s.FilesTotal)
	}
	if s.BytesDone != 1000 {
		t.Fatalf("bytes = %d", s.BytesDone)
	}
	if len(s.CurrentFiles) != 0 {
		t.Fatalf("nothing should be in flight, got %v", s.CurrentFiles)
	}
}

func TestMeterRate(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(2, func() time.Time { return now })

	now = now.Add(1 * time.Second)
	m.FileDone("a", 1000)
	s := m.Snapshot()
	if s.RateBps < 900 || s.RateBps > 1100 {
		t.Fatalf("expected ~1000 B/s, got %.2f", s.RateBps)
	}

	// Second completion at 3000 B/s smooths toward the new rate:
	// 0.2*3000 + 0.8*1000 = 1400.
	now = now.Add(1 * time.Second)
	m.FileDone("b", 3000)
	s = m.Snapshot()
	if s.RateBps < 1300 || s.RateBps > 1500 {
		t.Fatalf("expected smoothed ~1400 B/s, got %.2f", s.RateBps)
	}
}

func TestMeterCurrentFiles(t *testing.T) {
	m := NewMeter(3)
	m.FileStarted("one")
	m.FileStarted("two")

	s := m.Snapshot()
	if len(s.CurrentFiles) != 2 || s.CurrentFiles[0] != "two" {
		t.Fatalf("current = %v", s.CurrentFiles)
	}

	m.FileFailed("two")
	s = m.Snapshot()
	if len(s.CurrentFiles) != 1 || s.CurrentFiles[0] != "one" {
		t.Fatalf("current = %v", s.CurrentFiles)
	}
}

func TestRenderBar(t *testing.T) {
	if got := renderBar(0, 4); got != "[░░░░]" {
		t.Fatalf("empty bar = %q", got)
	}
	if got := renderBar(100, 4); got != "[████]" {
		t.Fatalf("full bar = %q", got)
	}
	if got := renderBar(50, 4); got != "[██░░]" {
		t.Fatalf("half bar = %q", got)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatRate(512); got != "512 B/s" {
		t.Fatalf("rate = %q", got)
	}
	if got := formatRate(2 << 20); got != "2.00 MB/s" {
		t.Fatalf("rate = %q", got)
	}
	if got := formatBytes(1536); got != "1.5 KiB" {
		t.Fatalf("bytes = %q", got)
	}
	if got := formatElapsed(75 * time.Second); got != "1m15s" {
		t.Fatalf("elapsed = %q", got)
	}
}
