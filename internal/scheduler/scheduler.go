// Package scheduler runs a batch of download tasks across a bounded worker
// pool. Admissions are staggered to avoid thundering the remote host, and a
// streak of failures shrinks the pool for the rest of the batch.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/lockerfetch/lockerfetch/internal/monitor"
	"github.com/lockerfetch/lockerfetch/internal/transfer"
)

const (
	// DefaultAdmissionDelay spaces out task starts.
	DefaultAdmissionDelay = 1500 * time.Millisecond

	// DefaultRecoveryPause is observed after the pool shrinks, giving the
	// remote side room to breathe before new admissions.
	DefaultRecoveryPause = 3 * time.Second

	// DefaultErrorBurst is the consecutive-failure streak that triggers the
	// one-time pool reduction.
	DefaultErrorBurst = 3

	adjustEveryResults = 5
)

// Runner executes one task to completion, retries included.
type Runner interface {
	Run(ctx context.Context, task transfer.Task) transfer.Result
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task transfer.Task) transfer.Result

func (f RunnerFunc) Run(ctx context.Context, task transfer.Task) transfer.Result {
	return f(ctx, task)
}

// BatchResult summarizes one batch.
type BatchResult struct {
	SuccessCount int
	ErrorCount   int
	SkippedCount int
	TotalBytes   int64
	TotalTime    time.Duration

	// FinalWorkerTarget is the pool size at the end of the batch; Reduced
	// reports whether the error-burst reduction fired.
	FinalWorkerTarget int
	Reduced           bool
}

// OK reports whether the batch finished without a single error.
func (b BatchResult) OK() bool { return b.ErrorCount == 0 }

// Pool schedules tasks over a dynamic number of workers.
type Pool struct {
	runner Runner
	mon    *monitor.Monitor // optional; enables adaptive worker targets

	admissionDelay time.Duration
	recoveryPause  time.Duration
	errorBurst     int

	onResult func(transfer.Result)
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) bool
}

// Option tweaks a Pool.
type Option func(*Pool)

// WithMonitor lets the pool consult resource pressure when sizing itself.
func WithMonitor(m *monitor.Monitor) Option {
	return func(p *Pool) { p.mon = m }
}

// WithOnResult registers a callback invoked for every finished task, in
// completion order, from the scheduling goroutine.
func WithOnResult(fn func(transfer.Result)) Option {
	return func(p *Pool) { p.onResult = fn }
}

// WithAdmissionDelay overrides the stagger between task starts.
func WithAdmissionDelay(d time.Duration) Option {
	return func(p *Pool) { p.admissionDelay = d }
}

// WithRecoveryPause overrides the pause after a pool reduction.
func WithRecoveryPause(d time.Duration) Option {
	return func(p *Pool) { p.recoveryPause = d }
}

// New builds a pool around runner.
func New(runner Runner, log *slog.Logger, opts ...Option) *Pool {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &Pool{
		runner:         runner,
		admissionDelay: DefaultAdmissionDelay,
		recoveryPause:  DefaultRecoveryPause,
		errorBurst:     DefaultErrorBurst,
		log:            log,
		sleep:          sleepCtx,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes tasks with at most workers in flight and returns once every
// admitted task has finished. Cancelling ctx stops new admissions; tasks
// already in flight drain before Run returns. All bookkeeping happens in
// this goroutine, so counters never race.
func (p *Pool) Run(ctx context.Context, tasks []transfer.Task, workers int) BatchResult {
	start := time.Now()
	if workers < 1 {
		workers = 1
	}

	var batch BatchResult
	target := workers
	consecutive := 0
	successes := 0
	finished := 0

	results := make(chan transfer.Result, len(tasks))
	next := 0
	inflight := 0
	admittedAny := false

	for next < len(tasks) || inflight > 0 {
		if next < len(tasks) && inflight < target && ctx.Err() == nil {
			if admittedAny && !p.sleep(ctx, p.admissionDelay) {
				// Cancelled mid-stagger; fall through to drain.
				continue
			}
			task := tasks[next]
			next++
			inflight++
			admittedAny = true
			go func(t transfer.Task) {
				results <- p.runner.Run(ctx, t)
			}(task)
			continue
		}
		if next < len(tasks) && inflight == 0 && ctx.Err() != nil {
			// Nothing running and nothing admissible.
			break
		}

		res := <-results
		inflight--
		finished++

		switch res.Outcome {
		case transfer.OutcomeSuccess:
			batch.SuccessCount++
			batch.TotalBytes += res.Bytes
			successes++
			consecutive = 0
		case transfer.OutcomeSkipped:
			batch.SkippedCount++
			consecutive = 0
		default:
			batch.ErrorCount++
			consecutive++
		}

		if p.onResult != nil {
			p.onResult(res)
		}

		// The recovery pause applies even when the pool is already at one
		// worker and halving is a no-op.
		if consecutive >= p.errorBurst && !batch.Reduced {
			if target > 1 {
				target = target / 2
			}
			batch.Reduced = true
			p.log.Warn("error streak, shrinking worker pool",
				"consecutive_errors", consecutive, "workers", target)
			p.sleep(ctx, p.recoveryPause)
		}

		if p.mon != nil && finished%adjustEveryResults == 0 && next < len(tasks) {
			rate := -1.0
			if done := batch.SuccessCount + batch.ErrorCount; done > 0 {
				rate = float64(batch.SuccessCount) / float64(done)
			}
			// The worker target only ever shrinks within a batch, so the
			// current target caps the recommendation.
			rec := p.mon.RecommendWorkerCount(target, target, 1, consecutive, rate)
			if rec < target {
				p.log.Debug("adjusting worker target", "from", target, "to", rec)
				target = rec
			}
		}
	}

	batch.FinalWorkerTarget = target
	batch.TotalTime = time.Since(start)
	return batch
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
