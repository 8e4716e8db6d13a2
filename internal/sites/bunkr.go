package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const (
	// bunkrCanonicalHost replaces the site's rotating mirror domains so
	// album links and ledger keys stay stable.
	bunkrCanonicalHost = "bunkr.sk"

	// bunkrAPIURL is the slug-resolution endpoint that maps a file page to
	// its CDN location.
	bunkrAPIURL = "https://bunkr.cr/api/vs"
)

var (
	bunkrMirrorHosts = []string{"bunkr.la", "bunkr.is", "bunkr.cr"}
	bunkrLinkPattern = regexp.MustCompile(`/(f|a|d)/[a-zA-Z0-9]{8,}`)
	bunkrSlugPattern = regexp.MustCompile(`/f/(.+)$`)
)

// BunkrHandler parses bunkr album pages and resolves file slugs through the
// site API.
type BunkrHandler struct {
	client    *http.Client
	userAgent func() string
	log       *slog.Logger
	apiURL    string
}

// NewBunkr builds a handler using client for page and API fetches.
func NewBunkr(client *http.Client, userAgent func() string, log *slog.Logger) *BunkrHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == nil {
		userAgent = func() string { return "" }
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &BunkrHandler{client: client, userAgent: userAgent, log: log, apiURL: bunkrAPIURL}
}

// IsAlbumURL reports whether rawURL is an album page (/a/...) rather than a
// file page (/f/...).
func (h *BunkrHandler) IsAlbumURL(rawURL string) bool {
	u, err := url.Parse(normalizeScheme(rawURL))
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, "/a/")
}

// ParseAlbum fetches the album page and extracts its name and file links.
// Mirror domains are folded into the canonical host first so the same album
// always yields the same links.
func (h *BunkrHandler) ParseAlbum(ctx context.Context, albumURL string) (Album, error) {
	albumURL = NormalizeBunkrURL(albumURL)

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

	album := parseBunkrHTML(resp.Body)
	if album.Name == "" {
		album.Name = bunkrAlbumIDFallback(albumURL)
	}
	album.Name = SanitizeName(album.Name)
	if len(album.FileURLs) == 0 {
		h.log.Warn("no downloadable items found in album", "url", albumURL)
	}
	return album, nil
}

// Resolve asks the site API for the CDN URL behind a file page. Responses
// whose url field is not a plain link (the API sometimes returns encrypted
// payloads) are reported as unresolvable.
func (h *BunkrHandler) Resolve(ctx context.Context, fileURL string) (string, int64, error) {
	fileURL = NormalizeBunkrURL(fileURL)
	m := bunkrSlugPattern.FindStringSubmatch(fileURL)
	if m == nil {
		return "", -1, fmt.Errorf("no file slug in %s", fileURL)
	}
	slug := m[1]

	body, err := json.Marshal(map[string]string{"slug": slug})
	if err != nil {
		return "", -1, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", -1, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ua := h.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", -1, fmt.Errorf("resolve slug %s: %w", slug, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", -1, fmt.Errorf("resolve slug %s: http %d", slug, resp.StatusCode)
	}

	var payload struct {
		URL       string `json:"url"`
		Encrypted bool   `json:"encrypted"`
		Size      int64  `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", -1, fmt.Errorf("decode api response for %s: %w", slug, err)
	}
	if !strings.HasPrefix(payload.URL, "http") {
		return "", -1, fmt.Errorf("slug %s: api returned no direct url", slug)
	}
	size := payload.Size
	if size <= 0 {
		size = -1
	}
	return payload.URL, size, nil
}

// NormalizeBunkrURL adds a scheme when missing and folds known mirror
// domains into the canonical one.
func NormalizeBunkrURL(rawURL string) string {
	rawURL = normalizeScheme(rawURL)
	for _, m := range bunkrMirrorHosts {
		rawURL = strings.Replace(rawURL, m, bunkrCanonicalHost, 1)
	}
	return rawURL
}

// parseBunkrHTML walks the document once, collecting the album name (h1
// first, then og:title, then the page title) and every link that looks like
// a file reference.
func parseBunkrHTML(r io.Reader) Album {
	var album Album
	seen := make(map[string]bool)

	var h1Name, metaName, titleName string
	var inH1, inTitle bool

	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			name := h1Name
			if name == "" {
				name = metaName
			}
			if name == "" {
				name = titleName
			}
			album.Name = name
			return album

		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			switch t.Data {
			case "h1":
				inH1 = h1Name == ""
			case "title":
				inTitle = true
			case "meta":
				if metaName != "" {
					break
				}
				var prop, name, content string
				for _, a := range t.Attr {
					switch a.Key {
					case "property":
						prop = a.Val
					case "name":
						name = a.Val
					case "content":
						content = a.Val
					}
				}
				if (prop == "og:title" || name == "title") && content != "" {
					metaName = trimSiteSuffix(content)
				}
			case "a":
				for _, a := range t.Attr {
					if a.Key != "href" {
						continue
					}
					href := a.Val
					if !strings.Contains(href, "/f/") && !strings.Contains(href, "/a/") &&
						!strings.Contains(href, "/d/") && !bunkrLinkPattern.MatchString(href) {
						continue
					}
					abs := resolveAgainst("https://"+bunkrCanonicalHost, href)
					if abs != "" && !seen[abs] {
						seen[abs] = true
						album.FileURLs = append(album.FileURLs, abs)
					}
				}
			}

		case html.EndTagToken:
			t := z.Token()
			switch t.Data {
			case "h1":
				inH1 = false
			case "title":
				inTitle = false
			}

		case html.TextToken:
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				break
			}
			if inH1 && h1Name == "" {
				h1Name = text
			}
			if inTitle && titleName == "" {
				titleName = trimSiteSuffix(text)
			}
		}
	}
}

// trimSiteSuffix turns "Album Name - Bunkr" into "Album Name".
func trimSiteSuffix(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, " - "); i > 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func bunkrAlbumIDFallback(albumURL string) string {
	u, err := url.Parse(albumURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "a" && len(parts[1]) >= 3 {
		return "bunkr_album_" + parts[1]
	}
	return ""
}

func resolveAgainst(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(h).String()
}
