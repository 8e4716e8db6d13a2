// Package transfer executes single resumable file downloads. A Session
// streams one URL into a .part file, adapting its chunk size to measured
// throughput, and publishes the result by renaming the .part to its final
// name only after the bytes are durable and the size checks out.
package transfer

import (
	"time"
)

// Task describes one file to fetch. Immutable once created.
type Task struct {
	// SourceURL is the file-page URL the user asked for; it is the ledger
	// key. URL is the resolved fetch target (equal to SourceURL when no
	// resolution step applies).
	SourceURL string
	URL       string

	Dir      string
	FileName string // optional; derived from the URL path when empty

	// ExpectedSize is the declared size in bytes, -1 when unknown.
	ExpectedSize int64
}

// Outcome tags a finished task.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSuccess
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// ErrorKind classifies a failure for retry policy.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNetwork
	KindTimeout
	KindHTTP
	KindRangeNotSatisfiable
	KindSizeMismatch
	KindRobotsDenied
	KindMaintenance
	KindResolutionFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindRangeNotSatisfiable:
		return "range_not_satisfiable"
	case KindSizeMismatch:
		return "size_mismatch"
	case KindRobotsDenied:
		return "robots_denied"
	case KindMaintenance:
		return "maintenance"
	case KindResolutionFailed:
		return "resolution_failed"
	default:
		return "unknown"
	}
}

// Result is the single outcome a task produces.
type Result struct {
	Outcome Outcome
	Kind    ErrorKind
	Status  int // HTTP status code when Kind is KindHTTP
	Err     error

	SourceURL string
	FileName  string

	Bytes     int64
	Duration  time.Duration
	SpeedBps  float64
	ChunkSize int // final working chunk size
}

// Retryable reports whether another attempt at the same task could succeed.
// 429 and 5xx responses, timeouts, connection errors, and maintenance pages
// are transient; everything else is permanent for this task.
func (r Result) Retryable() bool {
	if r.Outcome != OutcomeFailed {
		return false
	}
	switch r.Kind {
	case KindNetwork, KindTimeout, KindMaintenance, KindRangeNotSatisfiable:
		return true
	case KindHTTP:
		return r.Status == 429 || r.Status >= 500
	default:
		return false
	}
}

func failure(task Task, kind ErrorKind, status int, err error) Result {
	return Result{
		Outcome:   OutcomeFailed,
		Kind:      kind,
		Status:    status,
		Err:       err,
		SourceURL: task.SourceURL,
	}
}
