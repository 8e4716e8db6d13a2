// Package sites knows the supported hosting services: how to recognize
// their URLs, expand album pages into file lists, and resolve file pages to
// direct download links.
package sites

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

// Host identifies a supported hosting service.
type Host int

const (
	HostUnknown Host = iota
	HostBunkr
	HostCyberdrop
)

func (h Host) String() string {
	switch h {
	case HostBunkr:
		return "bunkr"
	case HostCyberdrop:
		return "cyberdrop"
	default:
		return "unknown"
	}
}

// Album is a parsed album page.
type Album struct {
	Name     string
	FileURLs []string // file-page URLs in page order
}

// Handler covers the site-specific steps of a download: album expansion and
// file-page resolution.
type Handler interface {
	// ParseAlbum fetches albumURL and returns its name and file links.
	ParseAlbum(ctx context.Context, albumURL string) (Album, error)

	// Resolve turns a file-page URL into a direct download URL and declared
	// size (-1 when unknown).
	Resolve(ctx context.Context, fileURL string) (string, int64, error)

	// IsAlbumURL reports whether rawURL points at an album rather than a
	// single file.
	IsAlbumURL(rawURL string) bool
}

// HostOf classifies rawURL by its registrable hostname labels.
func HostOf(rawURL string) Host {
	u, err := url.Parse(normalizeScheme(rawURL))
	if err != nil {
		return HostUnknown
	}
	host := strings.ToLower(u.Hostname())
	labels := strings.Split(host, ".")
	for _, l := range labels {
		switch l {
		case "bunkr", "bunkrr":
			return HostBunkr
		case "cyberdrop":
			return HostCyberdrop
		}
	}
	return HostUnknown
}

// Registry maps hosts to handlers.
type Registry struct {
	bunkr     Handler
	cyberdrop Handler
}

// NewRegistry builds a registry from the two site handlers.
func NewRegistry(bunkr, cyberdrop Handler) *Registry {
	return &Registry{bunkr: bunkr, cyberdrop: cyberdrop}
}

// HandlerFor returns the handler for rawURL's host, or nil for hosts with no
// site-specific handling (those URLs are fetched as-is).
func (r *Registry) HandlerFor(rawURL string) Handler {
	switch HostOf(rawURL) {
	case HostBunkr:
		return r.bunkr
	case HostCyberdrop:
		return r.cyberdrop
	default:
		return nil
	}
}

var illegalNameChars = regexp.MustCompile(`[<>:"/\\|?*']|[\x00-\x1f]`)

// SanitizeName strips characters that are unsafe in file and directory
// names.
func SanitizeName(s string) string {
	s = strings.TrimSpace(illegalNameChars.ReplaceAllString(s, "-"))
	if s == "" {
		return "unnamed"
	}
	return s
}

func normalizeScheme(rawURL string) string {
	if strings.HasPrefix(rawURL, "//") {
		return "https:" + rawURL
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "https://" + rawURL
	}
	return rawURL
}
