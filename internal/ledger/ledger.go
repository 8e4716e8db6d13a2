// Package ledger persists the set of successfully downloaded URLs so that
// resubmitted batches skip finished work. The format is deliberately plain:
// one URL per line in a text file, appended as downloads complete.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// DefaultFileName is the ledger file created in the output directory.
const DefaultFileName = "already_downloaded.txt"

// Ledger is an append-only record of completed downloads. Safe for
// concurrent use.
type Ledger struct {
	mu   sync.Mutex
	path string
	seen map[string]struct{}
	f    *os.File
}

// Open loads the ledger at path, creating it when missing. Blank lines and
// surrounding whitespace are ignored on load.
func Open(path string) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		seen[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek ledger %s: %w", path, err)
	}
	return &Ledger{path: path, seen: seen, f: f}, nil
}

// Contains reports whether url has already been downloaded.
func (l *Ledger) Contains(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[url]
	return ok
}

// MarkDownloaded records url, appending it to the backing file. Recording an
// already present URL is a no-op.
func (l *Ledger) MarkDownloaded(url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[url]; ok {
		return nil
	}
	if _, err := fmt.Fprintln(l.f, url); err != nil {
		return fmt.Errorf("append to ledger %s: %w", l.path, err)
	}
	l.seen[url] = struct{}{}
	return nil
}

// Len returns the number of recorded URLs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Close releases the backing file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
