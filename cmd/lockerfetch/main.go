package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lockerfetch/lockerfetch/internal/app"
	"github.com/lockerfetch/lockerfetch/internal/bufpool"
	"github.com/lockerfetch/lockerfetch/internal/config"
	"github.com/lockerfetch/lockerfetch/internal/history"
	"github.com/lockerfetch/lockerfetch/internal/httpclient"
	"github.com/lockerfetch/lockerfetch/internal/ledger"
	"github.com/lockerfetch/lockerfetch/internal/logging"
	"github.com/lockerfetch/lockerfetch/internal/monitor"
	"github.com/lockerfetch/lockerfetch/internal/progress"
	"github.com/lockerfetch/lockerfetch/internal/retry"
	"github.com/lockerfetch/lockerfetch/internal/robots"
	"github.com/lockerfetch/lockerfetch/internal/scheduler"
	"github.com/lockerfetch/lockerfetch/internal/sites"
	"github.com/lockerfetch/lockerfetch/internal/termio"
	"github.com/lockerfetch/lockerfetch/internal/transfer"
)

const version = "v0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Parse()
	log := logging.New("lockerfetch", cfg.LogLevel)

	if cfg.HistoryRecent > 0 {
		return showRecentBatches(cfg)
	}

	urls, err := collectURLs(cfg, flag.Args())
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "lockerfetch: %v\n", err)
		return 2
	}
	if len(urls) == 0 {
		printUsage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := httpclient.New(httpclient.Options{
		Proxy: cfg.Proxy,
		HTTP3: cfg.HTTP3,
	})
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "lockerfetch: %v\n", err)
		return 2
	}
	rotator := httpclient.NewRotator()

	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		fmt.Fprintf(termio.Stderr(), "lockerfetch: %v\n", err)
		return 1
	}
	led, err := ledger.Open(filepath.Join(cfg.Output, ledger.DefaultFileName))
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "lockerfetch: %v\n", err)
		return 1
	}
	defer led.Close()

	var gate transfer.RobotsGate
	if cfg.RespectRobots {
		gate = robots.NewGate(client, log)
	}

	mon := monitor.New(cfg.Alpha)
	session := transfer.NewSession(transfer.Options{
		Client:    client,
		Monitor:   mon,
		Ledger:    led,
		Gate:      gate,
		UserAgent: rotator.Next,
		Pool:      bufpool.New(transfer.MaxChunkSize),
		Alpha:     cfg.Alpha,
		MinDelay:  cfg.MinDelay,
		MaxDelay:  cfg.MaxDelay,
		Logger:    log,
	})
	ctl := retry.New(session, cfg.MaxRetries, log)

	registry := sites.NewRegistry(
		sites.NewBunkr(client, rotator.Next, log),
		sites.NewCyberdrop(client, rotator.Next, log),
	)

	var hist *history.Store
	var batchID string
	if cfg.HistoryDB != "" {
		hist, err = history.Open(cfg.HistoryDB)
		if err != nil {
			fmt.Fprintf(termio.Stderr(), "lockerfetch: %v\n", err)
			return 1
		}
		defer hist.Close()
		if batchID, err = hist.BeginBatch(ctx); err != nil {
			log.Warn("history disabled", "err", err)
			hist = nil
		}
	}

	meter := progress.NewMeter(0)
	meter.SetWorkers(cfg.MaxConcurrentDownloads)

	onResult := func(res transfer.Result) {
		switch res.Outcome {
		case transfer.OutcomeSuccess:
			meter.FileDone(res.FileName, res.Bytes)
			log.Info("done", "file", res.FileName, "bytes", res.Bytes)
		case transfer.OutcomeSkipped:
			meter.FileSkipped()
			log.Info("skipped", "url", res.SourceURL)
		default:
			meter.FileFailed(res.FileName)
			log.Error("failed", "url", res.SourceURL, "kind", res.Kind.String(), "err", res.Err)
		}
		if hist != nil {
			if err := hist.RecordTransfer(ctx, batchID, res); err != nil {
				log.Warn("history write failed", "err", err)
			}
		}
	}

	engine := app.New(app.Options{
		Registry:   registry,
		Ledger:     led,
		Transferer: ctl,
		OutputDir:  cfg.Output,
		Workers:    cfg.MaxConcurrentDownloads,
		Logger:     log,
		OnResult:   onResult,
		OnStart:    meter.FileStarted,
		OnExpand:   meter.SetTotal,
		PoolOpts:   []scheduler.Option{scheduler.WithMonitor(mon)},
	})

	var stopUI func()
	if termio.IsTTY(termio.StdoutFile()) {
		stopUI = progress.Render(ctx, termio.Stdout(), meter.Snapshot)
	}

	report, err := engine.Run(ctx, urls)
	if stopUI != nil {
		stopUI()
	}
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "lockerfetch: %v\n", err)
		return 1
	}

	if hist != nil {
		if err := hist.FinishBatch(ctx, batchID, report.SuccessCount,
			report.ErrorCount, report.SkippedCount, report.TotalBytes); err != nil {
			log.Warn("history write failed", "err", err)
		}
	}

	printSummary(report)
	if !report.OK() {
		return 1
	}
	return 0
}

// showRecentBatches prints the last batches from the history db, one line
// each, newest first.
func showRecentBatches(cfg config.Config) int {
	if cfg.HistoryDB == "" {
		fmt.Fprintln(termio.Stderr(), "lockerfetch: -history-recent requires -history-db")
		return 2
	}
	hist, err := history.Open(cfg.HistoryDB)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "lockerfetch: %v\n", err)
		return 1
	}
	defer hist.Close()

	batches, err := hist.RecentBatches(context.Background(), cfg.HistoryRecent)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "lockerfetch: %v\n", err)
		return 1
	}
	if len(batches) == 0 {
		fmt.Fprintln(termio.Stdout(), "no recorded batches")
		return 0
	}
	for _, b := range batches {
		status := "unfinished"
		if b.FinishedAt.Valid {
			status = b.FinishedAt.Time.Sub(b.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(termio.Stdout(), "%s  %s  ok %d  failed %d  skipped %d  %.1f MB  %s\n",
			b.ID[:8], b.StartedAt.Local().Format("2006-01-02 15:04"),
			b.SuccessCount, b.ErrorCount, b.SkippedCount,
			float64(b.TotalBytes)/(1<<20), status)
	}
	return 0
}

func printSummary(r app.Report) {
	fmt.Fprintf(termio.Stdout(), "downloaded %d, skipped %d, failed %d in %s\n",
		r.SuccessCount, r.SkippedCount, r.ErrorCount, r.TotalTime.Round(10*time.Millisecond))
	if r.AvgThroughputBps > 0 {
		fmt.Fprintf(termio.Stdout(), "average throughput: %.2f MB/s\n", r.AvgThroughputBps/(1<<20))
	}
}

// collectURLs merges -u, -f file contents, and positional arguments.
func collectURLs(cfg config.Config, args []string) ([]string, error) {
	var urls []string
	if cfg.URL != "" {
		urls = append(urls, cfg.URL)
	}
	if cfg.URLFile != "" {
		f, err := os.Open(cfg.URLFile)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			urls = append(urls, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read url file: %w", err)
		}
	}
	urls = append(urls, args...)
	return urls, nil
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "lockerfetch "+version)
	fmt.Fprintln(termio.Stderr(), "usage: lockerfetch [flags] [url ...]")
	fmt.Fprintln(termio.Stderr(), "examples:")
	fmt.Fprintln(termio.Stderr(), "  lockerfetch -u https://bunkr.sk/a/<album>")
	fmt.Fprintln(termio.Stderr(), "  lockerfetch -f urls.txt -o ./downloads -concurrent 4")
	fmt.Fprintln(termio.Stderr(), "  lockerfetch -proxy socks5://127.0.0.1:9050 https://cyberdrop.me/a/<album>")
	fmt.Fprintln(termio.Stderr(), "run 'lockerfetch -h' for all flags")
}
