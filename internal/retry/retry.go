// Package retry wraps a transferer with bounded, linearly spaced retries.
// Transient failures (connection errors, timeouts, 429/5xx responses,
// maintenance pages) are retried up to the attempt budget; permanent ones
// surface immediately.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lockerfetch/lockerfetch/internal/transfer"
)

const (
	// DefaultMaxAttempts is the total attempt budget per task, first try
	// included.
	DefaultMaxAttempts = 10

	baseDelay = 2 * time.Second
	delayStep = 500 * time.Millisecond
)

// Transferer performs a single attempt at a task.
type Transferer interface {
	Transfer(ctx context.Context, task transfer.Task) transfer.Result
}

// Controller retries transient transfer failures with a linear schedule:
// 2s before the first retry, growing by 500ms per subsequent retry.
type Controller struct {
	inner       Transferer
	maxAttempts int
	log         *slog.Logger

	timer backoff.Timer // nil means real time
}

// New builds a controller around inner. maxAttempts < 1 falls back to the
// default budget.
func New(inner Transferer, maxAttempts int, log *slog.Logger) *Controller {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{inner: inner, maxAttempts: maxAttempts, log: log}
}

// attemptErr carries a failed Result through the backoff machinery.
type attemptErr struct {
	res transfer.Result
}

func (e *attemptErr) Error() string {
	if e.res.Err != nil {
		return e.res.Err.Error()
	}
	return "transfer failed"
}

// Transfer runs the task until it succeeds, fails permanently, exhausts the
// attempt budget, or ctx is done. The returned Result is always the last
// attempt's.
func (c *Controller) Transfer(ctx context.Context, task transfer.Task) transfer.Result {
	var last transfer.Result
	attempt := 0

	op := func() error {
		attempt++
		last = c.inner.Transfer(ctx, task)
		if last.Outcome != transfer.OutcomeFailed {
			return nil
		}
		err := &attemptErr{res: last}
		if !last.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("retrying download",
			"url", task.SourceURL,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"wait", wait,
			"kind", last.Kind.String(),
			"err", err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: baseDelay, step: delayStep}, uint64(c.maxAttempts-1)),
		ctx)

	err := backoff.RetryNotifyWithTimer(op, b, notify, c.timer)
	if err == nil {
		return last
	}

	// Context cancellation can beat the first attempt entirely.
	var ae *attemptErr
	if !errors.As(err, &ae) && last.Outcome != transfer.OutcomeFailed {
		return transfer.Result{
			Outcome:   transfer.OutcomeFailed,
			Kind:      transfer.KindNetwork,
			Err:       err,
			SourceURL: task.SourceURL,
		}
	}
	return last
}

// linearBackOff yields base, base+step, base+2*step, ...
type linearBackOff struct {
	base time.Duration
	step time.Duration
	n    int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	d := l.base + time.Duration(l.n)*l.step
	l.n++
	return d
}

func (l *linearBackOff) Reset() { l.n = 0 }
