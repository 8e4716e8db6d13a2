package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds all settings for a download run. It is built once at startup
// and passed by reference into every component; nothing reads it ambiently.
type Config struct {
	URL     string // single album or file URL
	URLFile string // file containing one URL per line
	Output  string // base download directory

	MaxConcurrentDownloads int
	MinDelay               time.Duration // politeness delay lower bound
	MaxDelay               time.Duration // politeness delay upper bound
	MaxRetries             int
	RespectRobots          bool
	Proxy                  string
	HTTP3                  bool
	HistoryDB              string
	HistoryRecent          int // print the last N batches from the history db and exit
	LogLevel               string

	// Alpha is the exponential-smoothing weight applied to throughput and
	// chunk-size blending (new sample weight; prior keeps 1-Alpha).
	Alpha float64
}

// Parse parses configuration from flags and environment variables.
// Flags take precedence over environment variables.
func Parse() Config {
	return parseWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseWithFlagSet is an internal helper for testing with isolated flag sets.
func parseWithFlagSet(fs *flag.FlagSet, args []string) Config {
	cfg := Config{
		Output:                 "downloads",
		MaxConcurrentDownloads: 3,
		MinDelay:               1 * time.Second,
		MaxDelay:               3 * time.Second,
		MaxRetries:             10,
		LogLevel:               "info",
		Alpha:                  0.3,
	}

	// Read from environment first
	if v := os.Getenv("LOCKERFETCH_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("LOCKERFETCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOCKERFETCH_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("LOCKERFETCH_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentDownloads = n
		}
	}

	// Flags override environment
	fs.StringVar(&cfg.URL, "u", cfg.URL, "URL to download from")
	fs.StringVar(&cfg.URLFile, "f", cfg.URLFile, "file containing URLs to download")
	fs.StringVar(&cfg.Output, "o", cfg.Output, "directory to save files to")
	fs.IntVar(&cfg.MaxConcurrentDownloads, "concurrent", cfg.MaxConcurrentDownloads, "max concurrent downloads (1 = sequential)")
	fs.DurationVar(&cfg.MinDelay, "min-delay", cfg.MinDelay, "minimum delay before each request")
	fs.DurationVar(&cfg.MaxDelay, "max-delay", cfg.MaxDelay, "maximum delay before each request")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "attempts per file before giving up")
	fs.BoolVar(&cfg.RespectRobots, "respect-robots", cfg.RespectRobots, "honor robots.txt")
	fs.StringVar(&cfg.Proxy, "proxy", cfg.Proxy, "proxy URL (e.g. socks5://127.0.0.1:9050)")
	fs.BoolVar(&cfg.HTTP3, "http3", cfg.HTTP3, "use HTTP/3 for transfers")
	fs.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "path to a SQLite file recording transfer history")
	fs.IntVar(&cfg.HistoryRecent, "history-recent", cfg.HistoryRecent, "print the N most recent batches from the history db and exit")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.Float64Var(&cfg.Alpha, "alpha", cfg.Alpha, "smoothing weight for throughput and chunk-size blending")
	fs.Parse(args)

	return cfg.normalized()
}

func (c Config) normalized() Config {
	if c.MaxConcurrentDownloads < 1 {
		c.MaxConcurrentDownloads = 1
	}
	if c.MaxConcurrentDownloads > 32 {
		c.MaxConcurrentDownloads = 32
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = 0.3
	}
	if c.HistoryRecent < 0 {
		c.HistoryRecent = 0
	}
	return c
}
