package progress

import (
	"fmt"
	"strings"
	"time"
)

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorRed   = "\033[31m"
)

func colorize(s string, color string, enabled bool) string {
	if !enabled || color == "" {
		return s
	}
	return color + s + colorReset
}

// renderTTY formats one frame of the batch view.
func renderTTY(s Stats, isTTY bool) string {
	var b strings.Builder

	finished := s.FilesDone + s.FilesFailed + s.FilesSkipped
	percent := 0.0
	if s.FilesTotal > 0 {
		percent = float64(finished) / float64(s.FilesTotal) * 100
	}

	line := fmt.Sprintf("%s %5.1f%%  %d/%d files  %s  %s",
		renderBar(percent, 20),
		percent,
		finished, s.FilesTotal,
		formatRate(s.RateBps),
		formatBytes(s.BytesDone),
	)
	fmt.Fprintf(&b, "%s\n", colorize(line, colorGreen, isTTY))

	detail := fmt.Sprintf("ok=%d skipped=%d failed=%d workers=%d elapsed=%s",
		s.FilesDone, s.FilesSkipped, s.FilesFailed, s.Workers,
		formatElapsed(time.Since(s.StartedAt)))
	color := colorCyan
	if s.FilesFailed > 0 {
		color = colorRed
	}
	fmt.Fprintf(&b, "%s\n", colorize(detail, color, isTTY))

	for i, name := range s.CurrentFiles {
		if i >= 4 {
			fmt.Fprintf(&b, "  ... and %d more\n", len(s.CurrentFiles)-i)
			break
		}
		fmt.Fprintf(&b, "  %s %s\n", colorize("↓", colorCyan, isTTY), name)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func renderBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int((percent / 100) * float64(width))
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func formatRate(bps float64) string {
	const (
		k = 1024
		m = 1024 * k
		g = 1024 * m
	)
	switch {
	case bps >= g:
		return fmt.Sprintf("%.2f GB/s", bps/float64(g))
	case bps >= m:
		return fmt.Sprintf("%.2f MB/s", bps/float64(m))
	case bps >= k:
		return fmt.Sprintf("%.1f KB/s", bps/float64(k))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}

func formatBytes(n int64) string {
	const (
		k = int64(1024)
		m = 1024 * k
		g = 1024 * m
	)
	switch {
	case n >= g:
		return fmt.Sprintf("%.2f GiB", float64(n)/float64(g))
	case n >= m:
		return fmt.Sprintf("%.2f MiB", float64(n)/float64(m))
	case n >= k:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(k))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm%02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
