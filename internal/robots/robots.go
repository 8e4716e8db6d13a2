// Package robots enforces robots.txt when the user opts in. Rules are
// fetched once per host and cached for the life of the process; hosts whose
// robots.txt cannot be fetched are treated as allowing everything.
package robots

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	fetchTimeout  = 10 * time.Second
	maxRobotsSize = 512 << 10
)

// Checker answers whether a URL may be fetched.
type Checker interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// AllowAll is the Checker used when robots enforcement is off.
type AllowAll struct{}

func (AllowAll) Allowed(context.Context, string, string) bool { return true }

// Gate fetches and caches per-host robots.txt rules.
type Gate struct {
	client *http.Client
	log    *slog.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData // nil entry means fetch failed, allow
}

// NewGate builds a gate using client for robots.txt fetches.
func NewGate(client *http.Client, log *slog.Logger) *Gate {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Gate{
		client: client,
		log:    log,
		hosts:  make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether userAgent may fetch rawURL under the target host's
// robots.txt. Unparseable URLs and unreachable robots files err on the side
// of allowing the fetch.
func (g *Gate) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	data := g.rulesFor(ctx, u)
	if data == nil {
		return true
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return data.FindGroup(userAgent).Test(p)
}

func (g *Gate) rulesFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	data, ok := g.hosts[key]
	g.mu.Unlock()
	if ok {
		return data
	}

	data = g.fetch(ctx, key+"/robots.txt")

	g.mu.Lock()
	g.hosts[key] = data
	g.mu.Unlock()
	return data
}

func (g *Gate) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Debug("robots.txt fetch failed, allowing", "url", robotsURL, "err", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		g.log.Debug("robots.txt read failed, allowing", "url", robotsURL, "err", err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		g.log.Debug("robots.txt parse failed, allowing", "url", robotsURL, "err", err)
		return nil
	}
	return data
}
