package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lockerfetch/lockerfetch/internal/scheduler"
	"github.com/lockerfetch/lockerfetch/internal/sites"
	"github.com/lockerfetch/lockerfetch/internal/transfer"
)

// fakeHandler scripts album parsing and resolution.
type fakeHandler struct {
	mu           sync.Mutex
	album        sites.Album
	albumErr     error
	resolveErr   error
	resolveCalls []string
	parseCalls   []string
}

func (f *fakeHandler) IsAlbumURL(rawURL string) bool {
	return strings.Contains(rawURL, "/a/")
}

func (f *fakeHandler) ParseAlbum(ctx context.Context, albumURL string) (sites.Album, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parseCalls = append(f.parseCalls, albumURL)
	return f.album, f.albumErr
}

func (f *fakeHandler) Resolve(ctx context.Context, fileURL string) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls = append(f.resolveCalls, fileURL)
	if f.resolveErr != nil {
		return "", -1, f.resolveErr
	}
	return fileURL + "/direct.bin", 42, nil
}

// fakeTransferer records the tasks it runs.
type fakeTransferer struct {
	mu    sync.Mutex
	tasks []transfer.Task
	delay time.Duration
}

func (f *fakeTransferer) Transfer(ctx context.Context, task transfer.Task) transfer.Result {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return transfer.Result{
		Outcome:   transfer.OutcomeSuccess,
		SourceURL: task.SourceURL,
		FileName:  task.FileName,
		Bytes:     100,
	}
}

type staticLedger map[string]bool

func (l staticLedger) Contains(url string) bool { return l[url] }

func newTestEngine(t *testing.T, h *fakeHandler, tr *fakeTransferer, led LedgerReader, workers int) *Engine {
	t.Helper()
	return New(Options{
		Registry:   sites.NewRegistry(h, h),
		Ledger:     led,
		Transferer: tr,
		OutputDir:  t.TempDir(),
		Workers:    workers,
	})
}

func TestRunSingleFileURL(t *testing.T) {
	h := &fakeHandler{}
	tr := &fakeTransferer{}
	e := newTestEngine(t, h, tr, nil, 1)

	report, err := e.Run(context.Background(), []string{"https://bunkr.sk/f/abc12345"})
	if err != nil {
		t.Fatal(err)
	}
	if report.SuccessCount != 1 {
		t.Fatalf("report: %+v", report)
	}
	if len(tr.tasks) != 1 {
		t.Fatalf("tasks: %v", tr.tasks)
	}
	task := tr.tasks[0]
	if task.URL != "https://bunkr.sk/f/abc12345/direct.bin" {
		t.Fatalf("task URL = %q, resolution did not run", task.URL)
	}
	if task.ExpectedSize != 42 {
		t.Fatalf("expected size = %d", task.ExpectedSize)
	}
	if task.SourceURL != "https://bunkr.sk/f/abc12345" {
		t.Fatalf("source = %q", task.SourceURL)
	}
}

func TestRunExpandsAlbumIntoSubdir(t *testing.T) {
	h := &fakeHandler{album: sites.Album{
		Name:     "My Album",
		FileURLs: []string{"https://bunkr.sk/f/one11111", "https://bunkr.sk/f/two22222"},
	}}
	tr := &fakeTransferer{}
	e := newTestEngine(t, h, tr, nil, 1)

	report, err := e.Run(context.Background(), []string{"https://bunkr.sk/a/albumid"})
	if err != nil {
		t.Fatal(err)
	}
	if report.SuccessCount != 2 {
		t.Fatalf("report: %+v", report)
	}
	if len(tr.tasks) != 2 {
		t.Fatalf("tasks: %v", tr.tasks)
	}
	wantDir := filepath.Join(e.outputDir, "My Album")
	for _, task := range tr.tasks {
		if task.Dir != wantDir {
			t.Fatalf("task dir = %q, want %q", task.Dir, wantDir)
		}
	}
	if st, err := os.Stat(wantDir); err != nil || !st.IsDir() {
		t.Fatalf("album dir not created: %v", err)
	}
}

func TestRunAlbumParseErrorFailsRun(t *testing.T) {
	h := &fakeHandler{albumErr: errors.New("http 404")}
	e := newTestEngine(t, h, &fakeTransferer{}, nil, 1)

	if _, err := e.Run(context.Background(), []string{"https://bunkr.sk/a/missing"}); err == nil {
		t.Fatal("expected expansion error")
	}
}

func TestLedgerSkipAvoidsResolver(t *testing.T) {
	h := &fakeHandler{}
	tr := &fakeTransferer{}
	led := staticLedger{"https://bunkr.sk/f/done1234": true}
	e := newTestEngine(t, h, tr, led, 1)

	var results []transfer.Result
	e.onResult = func(r transfer.Result) { results = append(results, r) }

	report, err := e.Run(context.Background(), []string{"https://bunkr.sk/f/done1234"})
	if err != nil {
		t.Fatal(err)
	}
	if report.SkippedCount != 1 || report.SuccessCount != 0 {
		t.Fatalf("report: %+v", report)
	}
	if len(h.resolveCalls) != 0 {
		t.Fatal("skipped task must not hit the resolver")
	}
	if len(tr.tasks) != 0 {
		t.Fatal("skipped task must not be transferred")
	}
	if len(results) != 1 || results[0].Outcome != transfer.OutcomeSkipped {
		t.Fatalf("results: %v", results)
	}
}

func TestResolutionFailureCountsAsError(t *testing.T) {
	h := &fakeHandler{resolveErr: errors.New("api said no")}
	tr := &fakeTransferer{}
	e := newTestEngine(t, h, tr, nil, 1)

	var kinds []transfer.ErrorKind
	e.onResult = func(r transfer.Result) { kinds = append(kinds, r.Kind) }

	report, err := e.Run(context.Background(), []string{"https://bunkr.sk/f/bad12345"})
	if err != nil {
		t.Fatal(err)
	}
	if report.ErrorCount != 1 {
		t.Fatalf("report: %+v", report)
	}
	if len(kinds) != 1 || kinds[0] != transfer.KindResolutionFailed {
		t.Fatalf("kinds: %v", kinds)
	}
	if len(tr.tasks) != 0 {
		t.Fatal("unresolved task must not be transferred")
	}
}

func TestSequentialPreservesInputOrder(t *testing.T) {
	h := &fakeHandler{album: sites.Album{
		Name: "Ordered",
		FileURLs: []string{
			"https://bunkr.sk/f/aaaa0001",
			"https://bunkr.sk/f/aaaa0002",
			"https://bunkr.sk/f/aaaa0003",
		},
	}}
	tr := &fakeTransferer{}
	e := newTestEngine(t, h, tr, nil, 1)

	if _, err := e.Run(context.Background(), []string{"https://bunkr.sk/a/ordered"}); err != nil {
		t.Fatal(err)
	}
	for i, want := range h.album.FileURLs {
		if tr.tasks[i].SourceURL != want {
			t.Fatalf("task %d = %q, want %q", i, tr.tasks[i].SourceURL, want)
		}
	}
}

func TestRunConcurrentBatch(t *testing.T) {
	h := &fakeHandler{album: sites.Album{
		Name: "Big",
		FileURLs: []string{
			"https://bunkr.sk/f/bbbb0001",
			"https://bunkr.sk/f/bbbb0002",
			"https://bunkr.sk/f/bbbb0003",
			"https://bunkr.sk/f/bbbb0004",
		},
	}}
	tr := &fakeTransferer{}
	e := New(Options{
		Registry:   sites.NewRegistry(h, h),
		Transferer: tr,
		OutputDir:  t.TempDir(),
		Workers:    3,
		PoolOpts:   []scheduler.Option{scheduler.WithAdmissionDelay(0)},
	})

	report, err := e.Run(context.Background(), []string{"https://bunkr.sk/a/big"})
	if err != nil {
		t.Fatal(err)
	}
	if report.SuccessCount != 4 || !report.OK() {
		t.Fatalf("report: %+v", report)
	}
	if report.TotalBytes != 400 {
		t.Fatalf("bytes = %d", report.TotalBytes)
	}
}

func TestOnStartReportsResolvedFileName(t *testing.T) {
	h := &fakeHandler{}
	tr := &fakeTransferer{}
	var started []string
	e := New(Options{
		Registry:   sites.NewRegistry(h, h),
		Transferer: tr,
		OutputDir:  t.TempDir(),
		Workers:    1,
		OnStart:    func(name string) { started = append(started, name) },
	})

	if _, err := e.Run(context.Background(), []string{"https://bunkr.sk/f/abc12345"}); err != nil {
		t.Fatal(err)
	}
	if len(started) != 1 || started[0] != "direct.bin" {
		t.Fatalf("started: %v", started)
	}
}

func TestReportAverageThroughput(t *testing.T) {
	h := &fakeHandler{}
	tr := &fakeTransferer{delay: 120 * time.Millisecond}
	e := newTestEngine(t, h, tr, nil, 1)

	report, err := e.Run(context.Background(), []string{"https://bunkr.sk/f/slow1234"})
	if err != nil {
		t.Fatal(err)
	}
	if report.AvgThroughputBps <= 0 {
		t.Fatalf("expected positive average throughput, got %f", report.AvgThroughputBps)
	}
}
