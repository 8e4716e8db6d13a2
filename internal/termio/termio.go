package termio

import (
	"io"
	"os"
)

// Stdout returns the writer the progress UI should render to.
func Stdout() io.Writer {
	return os.Stdout
}

// Stderr returns the writer diagnostics should go to.
func Stderr() io.Writer {
	return os.Stderr
}

// StdoutFile exposes the underlying file for TTY detection.
func StdoutFile() *os.File {
	return os.Stdout
}

// IsTTY reports whether f is attached to a terminal. The CLI uses this to
// choose between the live progress UI and plain log output.
func IsTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
