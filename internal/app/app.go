// Package app orchestrates a download batch: expanding album URLs into file
// tasks, skipping work the ledger already records, resolving file pages to
// direct links, and driving the transfers concurrently or sequentially.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lockerfetch/lockerfetch/internal/retry"
	"github.com/lockerfetch/lockerfetch/internal/scheduler"
	"github.com/lockerfetch/lockerfetch/internal/sites"
	"github.com/lockerfetch/lockerfetch/internal/transfer"
)

// LedgerReader is the read side of the download ledger; writes happen in the
// transfer session on success.
type LedgerReader interface {
	Contains(url string) bool
}

// Report is the outcome of one Run.
type Report struct {
	scheduler.BatchResult

	// AvgThroughputBps is bytes over wall time, set only when the batch ran
	// long enough for the figure to mean something.
	AvgThroughputBps float64
}

// Engine expands input URLs and executes the resulting tasks.
type Engine struct {
	registry   *sites.Registry
	ledger     LedgerReader
	transferer retry.Transferer
	outputDir  string
	workers    int
	log        *slog.Logger

	onResult func(transfer.Result)
	onStart  func(fileName string)
	onExpand func(totalTasks int)
	pool     *scheduler.Pool
}

// Options wires an Engine.
type Options struct {
	Registry   *sites.Registry
	Ledger     LedgerReader // optional
	Transferer retry.Transferer
	OutputDir  string
	Workers    int
	Logger     *slog.Logger
	OnResult   func(transfer.Result) // optional, called per finished task
	OnStart    func(fileName string) // optional, called as a transfer begins
	OnExpand   func(totalTasks int)  // optional, called once expansion is done
	PoolOpts   []scheduler.Option
}

// New builds an Engine from opts.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	e := &Engine{
		registry:   opts.Registry,
		ledger:     opts.Ledger,
		transferer: opts.Transferer,
		outputDir:  opts.OutputDir,
		workers:    workers,
		log:        log,
		onResult:   opts.OnResult,
		onStart:    opts.OnStart,
		onExpand:   opts.OnExpand,
	}
	poolOpts := opts.PoolOpts
	if e.onResult != nil {
		poolOpts = append(poolOpts, scheduler.WithOnResult(e.onResult))
	}
	e.pool = scheduler.New(scheduler.RunnerFunc(e.runTask), log, poolOpts...)
	return e
}

// ExpandURL turns one input URL into download tasks. Album URLs are parsed
// into one task per file, landing in a subdirectory named after the album;
// everything else becomes a single task in the output root.
func (e *Engine) ExpandURL(ctx context.Context, rawURL string) ([]transfer.Task, error) {
	sourceURL := canonicalSource(rawURL)
	h := e.registry.HandlerFor(sourceURL)

	if h == nil || !h.IsAlbumURL(sourceURL) {
		return []transfer.Task{{
			SourceURL:    sourceURL,
			Dir:          e.outputDir,
			ExpectedSize: -1,
		}}, nil
	}

	album, err := h.ParseAlbum(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("expand album %s: %w", sourceURL, err)
	}
	dir := filepath.Join(e.outputDir, sites.SanitizeName(album.Name))
	tasks := make([]transfer.Task, 0, len(album.FileURLs))
	for _, f := range album.FileURLs {
		tasks = append(tasks, transfer.Task{
			SourceURL:    canonicalSource(f),
			Dir:          dir,
			ExpectedSize: -1,
		})
	}
	e.log.Info("album expanded", "url", sourceURL, "name", album.Name, "files", len(tasks))
	return tasks, nil
}

// Run expands every input URL and downloads the resulting tasks. Expansion
// failures fail the whole run; transfer failures are counted in the report.
func (e *Engine) Run(ctx context.Context, urls []string) (Report, error) {
	var tasks []transfer.Task
	for _, u := range urls {
		t, err := e.ExpandURL(ctx, u)
		if err != nil {
			return Report{}, err
		}
		tasks = append(tasks, t...)
	}

	dirs := map[string]bool{}
	for _, t := range tasks {
		if !dirs[t.Dir] {
			dirs[t.Dir] = true
			if err := os.MkdirAll(t.Dir, 0o755); err != nil {
				return Report{}, fmt.Errorf("create output dir %s: %w", t.Dir, err)
			}
		}
	}

	if e.onExpand != nil {
		e.onExpand(len(tasks))
	}
	e.log.Info("starting batch", "tasks", len(tasks), "workers", e.workers)

	var batch scheduler.BatchResult
	if e.workers == 1 {
		batch = e.runSequential(ctx, tasks)
	} else {
		batch = e.pool.Run(ctx, tasks, e.workers)
	}

	report := Report{BatchResult: batch}
	if batch.TotalTime > 100*time.Millisecond && batch.TotalBytes > 0 {
		report.AvgThroughputBps = float64(batch.TotalBytes) / batch.TotalTime.Seconds()
	}
	return report, nil
}

// runSequential processes tasks one at a time in input order.
func (e *Engine) runSequential(ctx context.Context, tasks []transfer.Task) scheduler.BatchResult {
	start := time.Now()
	batch := scheduler.BatchResult{FinalWorkerTarget: 1}
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		res := e.runTask(ctx, task)
		switch res.Outcome {
		case transfer.OutcomeSuccess:
			batch.SuccessCount++
			batch.TotalBytes += res.Bytes
		case transfer.OutcomeSkipped:
			batch.SkippedCount++
		default:
			batch.ErrorCount++
		}
		if e.onResult != nil {
			e.onResult(res)
		}
	}
	batch.TotalTime = time.Since(start)
	return batch
}

// runTask is the per-task pipeline: ledger check, site resolution, transfer.
// Ledger hits return before any network traffic, the resolver included.
func (e *Engine) runTask(ctx context.Context, task transfer.Task) transfer.Result {
	if e.ledger != nil && e.ledger.Contains(task.SourceURL) {
		e.log.Debug("already downloaded, skipping", "url", task.SourceURL)
		return transfer.Result{
			Outcome:   transfer.OutcomeSkipped,
			SourceURL: task.SourceURL,
			FileName:  task.FileName,
		}
	}

	if task.URL == "" {
		if h := e.registry.HandlerFor(task.SourceURL); h != nil {
			direct, size, err := h.Resolve(ctx, task.SourceURL)
			if err != nil {
				e.log.Warn("could not resolve file page", "url", task.SourceURL, "err", err)
				return transfer.Result{
					Outcome:   transfer.OutcomeFailed,
					Kind:      transfer.KindResolutionFailed,
					Err:       err,
					SourceURL: task.SourceURL,
				}
			}
			task.URL = direct
			task.ExpectedSize = size
			if task.FileName == "" {
				task.FileName = transfer.FileNameFromURL(direct)
			}
		} else {
			task.URL = task.SourceURL
		}
	}

	if e.onStart != nil {
		name := task.FileName
		if name == "" {
			name = transfer.FileNameFromURL(task.URL)
		}
		e.onStart(name)
	}
	return e.transferer.Transfer(ctx, task)
}

// canonicalSource normalizes a URL for use as a stable ledger key.
func canonicalSource(rawURL string) string {
	if sites.HostOf(rawURL) == sites.HostBunkr {
		return sites.NormalizeBunkrURL(rawURL)
	}
	return rawURL
}
