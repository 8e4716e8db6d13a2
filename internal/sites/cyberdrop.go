package sites

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const cyberdropTitlePrefix = "Cyberdrop.me - "

// CyberdropHandler parses cyberdrop album pages. File links on cyberdrop
// point straight at the CDN, so resolution is just scheme normalization.
type CyberdropHandler struct {
	client    *http.Client
	userAgent func() string
	log       *slog.Logger
}

// NewCyberdrop builds a handler using client for album fetches.
func NewCyberdrop(client *http.Client, userAgent func() string, log *slog.Logger) *CyberdropHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == nil {
		userAgent = func() string { return "" }
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CyberdropHandler{client: client, userAgent: userAgent, log: log}
}

// IsAlbumURL reports whether rawURL is an album page (/a/...).
func (h *CyberdropHandler) IsAlbumURL(rawURL string) bool {
	u, err := url.Parse(normalizeScheme(rawURL))
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/a/")
}

// ParseAlbum fetches the album page, taking its name from the page title
// (minus the site prefix) and its files from the thumbnail links.
func (h *CyberdropHandler) ParseAlbum(ctx context.Context, albumURL string) (Album, error) {
	albumURL = normalizeScheme(albumURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, albumURL, nil)
	if err != nil {
		return Album{}, fmt.Errorf("build album request: %w", err)
	}
	if ua := h.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return Album{}, fmt.Errorf("fetch album %s: %w", albumURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Album{}, fmt.Errorf("fetch album %s: http %d", albumURL, resp.StatusCode)
	}

	album := parseCyberdropHTML(resp.Body)
	album.Name = SanitizeName(album.Name)
	if len(album.FileURLs) == 0 {
		h.log.Warn("no downloadable items found in album", "url", albumURL)
	}
	return album, nil
}

// Resolve returns the URL unchanged apart from filling in a missing scheme;
// cyberdrop file links are already direct.
func (h *CyberdropHandler) Resolve(ctx context.Context, fileURL string) (string, int64, error) {
	return normalizeScheme(fileURL), -1, nil
}

// parseCyberdropHTML extracts the title and every a.image link.
func parseCyberdropHTML(r io.Reader) Album {
	var album Album
	var inTitle bool
	seen := make(map[string]bool)

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return album

		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			switch t.Data {
			case "title":
				inTitle = true
			case "a":
				var href, class string
				for _, a := range t.Attr {
					switch a.Key {
					case "href":
						href = a.Val
					case "class":
						class = a.Val
					}
				}
				if href == "" || !hasClass(class, "image") {
					break
				}
				if !seen[href] {
					seen[href] = true
					album.FileURLs = append(album.FileURLs, href)
				}
			}

		case html.EndTagToken:
			if z.Token().Data == "title" {
				inTitle = false
			}

		case html.TextToken:
			if inTitle && album.Name == "" {
				text := strings.TrimSpace(string(z.Text()))
				album.Name = strings.TrimPrefix(text, cyberdropTitlePrefix)
			}
		}
	}
}

func hasClass(classAttr, want string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == want {
			return true
		}
	}
	return false
}
