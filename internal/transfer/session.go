package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lockerfetch/lockerfetch/internal/bufpool"
	"github.com/lockerfetch/lockerfetch/internal/monitor"
)

const (
	// PartSuffix marks an in-progress transfer; the .part file's length is
	// the authoritative resume offset.
	PartSuffix = ".part"

	// MaintenanceURL is the placeholder resource the CDN serves while the
	// site is down; landing on it means no real bytes are coming.
	MaintenanceURL = "https://bnkr.b-cdn.net/maintenance.mp4"

	largeFileThreshold = 100 << 20

	adjustEveryChunks   = 10
	memCheckEveryChunks = 50
)

// Ledger records completed downloads for idempotent skip-on-resubmit.
type Ledger interface {
	Contains(url string) bool
	MarkDownloaded(url string) error
}

// RobotsGate answers whether a URL may be fetched at all.
type RobotsGate interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// Options configures a Session. Zero values get sensible defaults.
type Options struct {
	Client    *http.Client
	Monitor   *monitor.Monitor
	Ledger    Ledger     // optional; successful URLs are recorded here
	Gate      RobotsGate // optional; nil disables robots checks
	UserAgent func() string
	Pool      *bufpool.Pool
	Alpha     float64
	MinDelay  time.Duration // politeness pause bounds before each request
	MaxDelay  time.Duration
	Logger    *slog.Logger
}

// Session performs resumable transfers. It owns the throughput moving
// average for the tasks it serves; concurrent calls are safe, their
// telemetry updates are serialized through the monitor.
type Session struct {
	client    *http.Client
	mon       *monitor.Monitor
	ledger    Ledger
	gate      RobotsGate
	userAgent func() string
	pool      *bufpool.Pool
	alpha     float64
	minDelay  time.Duration
	maxDelay  time.Duration
	log       *slog.Logger

	maintenanceURL string
	sleep          func(ctx context.Context, d time.Duration) bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSession builds a Session from opts.
func NewSession(opts Options) *Session {
	s := &Session{
		client:    opts.Client,
		mon:       opts.Monitor,
		ledger:    opts.Ledger,
		gate:      opts.Gate,
		userAgent: opts.UserAgent,
		pool:      opts.Pool,
		alpha:     opts.Alpha,
		minDelay:  opts.MinDelay,
		maxDelay:  opts.MaxDelay,
		log:       opts.Logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepCtx,

		maintenanceURL: MaintenanceURL,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 0}
	}
	if s.mon == nil {
		s.mon = monitor.New(s.alpha)
	}
	if s.pool == nil {
		s.pool = bufpool.New(MaxChunkSize)
	}
	if s.alpha <= 0 || s.alpha > 1 {
		s.alpha = 0.3
	}
	if s.userAgent == nil {
		s.userAgent = func() string { return "" }
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	return s
}

// Transfer downloads one task. Every failure is captured in the Result;
// the only panics that escape are programming errors.
func (s *Session) Transfer(ctx context.Context, task Task) Result {
	start := time.Now()

	ua := s.userAgent()
	if s.gate != nil && !s.gate.Allowed(ctx, task.URL, ua) {
		return failure(task, KindRobotsDenied, 0, fmt.Errorf("robots.txt denies %s", task.URL))
	}

	fileName := task.FileName
	if fileName == "" {
		fileName = FileNameFromURL(task.URL)
	}
	finalPath := filepath.Join(task.Dir, fileName)
	partPath := finalPath + PartSuffix

	// 416 triggers at most one automatic restart from offset zero; a second
	// one in the same call surfaces as a failure for the retry layer.
	for restart := 0; ; restart++ {
		res, restartNeeded := s.attempt(ctx, task, ua, fileName, finalPath, partPath, start)
		if !restartNeeded {
			return res
		}
		if restart >= 1 {
			return failure(task, KindRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable,
				fmt.Errorf("range not satisfiable for %s after restart", task.URL))
		}
	}
}

func (s *Session) attempt(ctx context.Context, task Task, ua, fileName, finalPath, partPath string, start time.Time) (Result, bool) {
	offset := int64(0)
	if st, err := os.Stat(partPath); err == nil {
		offset = st.Size()
	}

	if !s.politenessPause(ctx) {
		return failure(task, KindNetwork, 0, ctx.Err()), false
	}

	// First contact on a fresh session: time a small ranged sample so the
	// initial chunk size lands in the right tier.
	if s.mon.ThroughputBps() == 0 {
		if _, err := s.mon.MeasureConnectionSpeed(ctx, s.client, task.URL); err != nil {
			s.log.Debug("speed probe failed", "url", task.URL, "err", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return failure(task, KindNetwork, 0, fmt.Errorf("build request: %w", err)), false
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return failure(task, classifyNetErr(err), 0, err), false
	}
	defer resp.Body.Close()

	if resp.Request != nil && resp.Request.URL.String() == s.maintenanceURL {
		return failure(task, KindMaintenance, resp.StatusCode,
			errors.New("server is down for maintenance")), false
	}

	if offset > 0 {
		switch resp.StatusCode {
		case http.StatusRequestedRangeNotSatisfiable:
			// Stale or oversized partial; throw it away and start over.
			s.log.Warn("range not satisfiable, restarting from zero", "file", fileName, "offset", offset)
			if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
				return failure(task, KindRangeNotSatisfiable, resp.StatusCode, err), false
			}
			return Result{}, true
		case http.StatusOK:
			// Server ignored the Range header and is sending the whole
			// file; the partial is useless.
			s.log.Warn("server ignored range request, starting fresh", "file", fileName)
			if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
				return failure(task, KindNone, 0, err), false
			}
			offset = 0
		case http.StatusPartialContent:
			// resuming as requested
		default:
			return failure(task, KindHTTP, resp.StatusCode,
				fmt.Errorf("http %d resuming %s", resp.StatusCode, task.URL)), false
		}
	} else if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return failure(task, KindHTTP, resp.StatusCode,
			fmt.Errorf("http %d fetching %s", resp.StatusCode, task.URL)), false
	}

	total := resolveTotalSize(resp, offset, task.ExpectedSize)
	if total > largeFileThreshold {
		// Large body incoming; return freed chunks to the OS up front.
		debug.FreeOSMemory()
	}

	written, res := s.stream(ctx, task, resp.Body, partPath, offset, total)
	if res.Outcome == OutcomeFailed {
		return res, false
	}
	chunk := res.ChunkSize

	if total > 0 {
		st, err := os.Stat(partPath)
		if err != nil {
			return failure(task, KindNone, 0, fmt.Errorf("stat %s: %w", partPath, err)), false
		}
		if st.Size() != total {
			// Leave the .part in place for a future resume; no rename, no
			// ledger entry.
			return failure(task, KindSizeMismatch, 0,
				fmt.Errorf("%s size check failed: expected %d, got %d", fileName, total, st.Size())), false
		}
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		return failure(task, KindNone, 0, fmt.Errorf("publish %s: %w", finalPath, err)), false
	}

	if s.ledger != nil {
		if err := s.ledger.MarkDownloaded(task.SourceURL); err != nil {
			s.log.Warn("ledger update failed", "url", task.SourceURL, "err", err)
		}
	}

	elapsed := time.Since(start)
	speed := 0.0
	if sec := elapsed.Seconds(); sec > 0 {
		speed = float64(written) / sec
	}
	s.log.Info("downloaded", "file", fileName, "bytes", written, "speed_bps", int64(speed))
	return Result{
		Outcome:   OutcomeSuccess,
		SourceURL: task.SourceURL,
		FileName:  fileName,
		Bytes:     written,
		Duration:  elapsed,
		SpeedBps:  speed,
		ChunkSize: chunk,
	}, false
}

// stream copies the response body to the .part file, adjusting the working
// chunk size from live throughput every adjustEveryChunks chunks and
// checking memory pressure every memCheckEveryChunks. The final state is
// fsynced before returning so the rename publishes durable bytes.
func (s *Session) stream(ctx context.Context, task Task, body io.Reader, partPath string, offset, total int64) (int64, Result) {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return 0, failure(task, KindNone, 0, fmt.Errorf("open %s: %w", partPath, err))
	}
	defer f.Close()

	chunk := ChunkForSpeed(s.mon.ThroughputBps())
	buf := s.pool.Get()
	defer s.pool.Put(buf)

	var written int64
	var windowBytes int64
	chunksDone := 0
	windowStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			// Interrupted: the .part stays for a future resume.
			return written, failure(task, classifyNetErr(ctx.Err()), 0, ctx.Err())
		default:
		}

		// The working chunk size is the read granularity; re-slice every
		// iteration since the blend moves it between tiers mid-stream.
		readLen := chunk
		if readLen > len(buf) {
			readLen = len(buf)
		}
		n, rerr := body.Read(buf[:readLen])
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, failure(task, KindNone, 0, fmt.Errorf("write %s: %w", partPath, werr))
			}
			written += int64(n)
			windowBytes += int64(n)

			for windowBytes >= int64(chunk) && chunk > 0 {
				windowBytes -= int64(chunk)
				chunksDone++

				if chunksDone%adjustEveryChunks == 0 {
					if sec := time.Since(windowStart).Seconds(); sec > 0 {
						inst := float64(adjustEveryChunks*chunk) / sec
						s.mon.ObserveThroughput(inst)
					}
					chunk = BlendChunk(chunk, ChunkForSpeed(s.mon.ThroughputBps()), s.alpha)
					windowStart = time.Now()
				}
				if chunksDone%memCheckEveryChunks == 0 {
					if sample := s.mon.Sample(); sample.MemoryPercent > monitor.MemoryWarnPercent {
						debug.FreeOSMemory()
					}
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, failure(task, classifyNetErr(rerr), 0, rerr)
		}
	}

	if err := f.Sync(); err != nil {
		return written, failure(task, KindNone, 0, fmt.Errorf("sync %s: %w", partPath, err))
	}
	if err := f.Close(); err != nil {
		return written, failure(task, KindNone, 0, fmt.Errorf("close %s: %w", partPath, err))
	}
	return written, Result{Outcome: OutcomeSuccess, ChunkSize: chunk}
}

// resolveTotalSize prefers the Content-Range total on a resumed response,
// then Content-Length, then the declared size; -1 means unknown and size
// verification is skipped.
func resolveTotalSize(resp *http.Response, offset, declared int64) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndexByte(cr, '/'); idx >= 0 {
				if total, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil && total > 0 {
					return total
				}
			}
		}
		if resp.ContentLength > 0 {
			return offset + resp.ContentLength
		}
	} else if resp.ContentLength > 0 {
		return resp.ContentLength
	}
	if declared > 0 {
		return declared
	}
	return -1
}

func (s *Session) politenessPause(ctx context.Context) bool {
	if s.maxDelay <= 0 {
		return ctx.Err() == nil
	}
	d := s.minDelay
	if spread := s.maxDelay - s.minDelay; spread > 0 {
		s.rngMu.Lock()
		d += time.Duration(s.rng.Int63n(int64(spread)))
		s.rngMu.Unlock()
	}
	return s.sleep(ctx, d)
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

func classifyNetErr(err error) ErrorKind {
	if err == nil {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

var illegalNameChars = regexp.MustCompile(`[<>:"/\\|?*']|[\x00-\x1f]`)

// FileNameFromURL derives a safe file name from a URL path.
func FileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unnamed_file"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "unnamed_file"
	}
	name = illegalNameChars.ReplaceAllString(name, "-")
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed_file"
	}
	return name
}
