// Package httpclient builds the HTTP clients used for page fetches and
// downloads: proxy support, optional HTTP/3 transport, and rotation of
// browser user agents between requests.
package httpclient

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// Options controls the constructed client.
type Options struct {
	// Proxy is an optional proxy URL (http, https, or socks5 scheme).
	Proxy string

	// HTTP3 switches the transport to QUIC. Incompatible with Proxy.
	HTTP3 bool

	// Timeout bounds a whole request; zero means no client timeout (large
	// downloads rely on context cancellation instead).
	Timeout time.Duration
}

// New builds an *http.Client from opts.
func New(opts Options) (*http.Client, error) {
	if opts.HTTP3 {
		if opts.Proxy != "" {
			return nil, fmt.Errorf("http3 transport does not support a proxy")
		}
		return &http.Client{
			Transport: &http3.Transport{},
			Timeout:   opts.Timeout,
		}, nil
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		switch proxyURL.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: tr, Timeout: opts.Timeout}, nil
}

// defaultUserAgents mirrors current desktop browser strings; rotating among
// them keeps long batches from presenting one fingerprint for hours.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Rotator hands out user-agent strings in random order. Safe for concurrent
// use.
type Rotator struct {
	mu     sync.Mutex
	agents []string
	rng    *rand.Rand
}

// NewRotator builds a rotator over agents, falling back to the built-in
// browser list when none are given.
func NewRotator(agents ...string) *Rotator {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &Rotator{
		agents: agents,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns a randomly chosen user agent.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[r.rng.Intn(len(r.agents))]
}
