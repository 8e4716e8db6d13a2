package sites

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const bunkrAlbumPage = `<!doctype html>
<html>
<head>
  <title>Holiday Pics - Bunkr</title>
  <meta property="og:title" content="Holiday Pics - Bunkr">
</head>
<body>
  <h1 class="block truncate">Holiday Pics</h1>
  <a class="shadow-md" href="/f/abcd1234efgh">one</a>
  <a class="shadow-md" href="/f/ijkl5678mnop">two</a>
  <a class="shadow-md" href="/f/abcd1234efgh">duplicate</a>
  <a href="/about">not a file</a>
</body>
</html>`

func TestBunkrParseAlbum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(bunkrAlbumPage))
	}))
	defer srv.Close()

	h := NewBunkr(srv.Client(), func() string { return "test-agent" }, nil)
	album, err := h.ParseAlbum(context.Background(), srv.URL+"/a/someAlbum")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if album.Name != "Holiday Pics" {
		t.Fatalf("name = %q", album.Name)
	}
	want := []string{
		"https://bunkr.sk/f/abcd1234efgh",
		"https://bunkr.sk/f/ijkl5678mnop",
	}
	if len(album.FileURLs) != len(want) {
		t.Fatalf("files = %v", album.FileURLs)
	}
	for i := range want {
		if album.FileURLs[i] != want[i] {
			t.Fatalf("file[%d] = %q, want %q", i, album.FileURLs[i], want[i])
		}
	}
}

func TestBunkrParseAlbumNameFallbacks(t *testing.T) {
	// No h1: og:title wins over the page title.
	page := `<html><head><title>Titled - Bunkr</title>
	<meta property="og:title" content="From Meta - Bunkr"></head><body></body></html>`
	album := parseBunkrHTML(strings.NewReader(page))
	if album.Name != "From Meta" {
		t.Fatalf("name = %q, want From Meta", album.Name)
	}

	// Title only.
	album = parseBunkrHTML(strings.NewReader(`<html><head><title>Only Title - Bunkr</title></head></html>`))
	if album.Name != "Only Title" {
		t.Fatalf("name = %q", album.Name)
	}
}

func TestBunkrAlbumIDFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/f/abcdefgh0000">x</a></body></html>`))
	}))
	defer srv.Close()

	h := NewBunkr(srv.Client(), nil, nil)
	album, err := h.ParseAlbum(context.Background(), srv.URL+"/a/myalbumid")
	if err != nil {
		t.Fatal(err)
	}
	if album.Name != "bunkr_album_myalbumid" {
		t.Fatalf("name = %q", album.Name)
	}
}

func TestBunkrIsAlbumURL(t *testing.T) {
	h := NewBunkr(nil, nil, nil)
	if !h.IsAlbumURL("https://bunkr.sk/a/abc") {
		t.Fatal("/a/ is an album")
	}
	if h.IsAlbumURL("https://bunkr.sk/f/abc") {
		t.Fatal("/f/ is a file")
	}
}

func TestBunkrResolve(t *testing.T) {
	var gotSlug string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body struct {
			Slug string `json:"slug"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotSlug = body.Slug
		json.NewEncoder(w).Encode(map[string]any{
			"url":  "https://cdn.example.org/file.mp4",
			"size": 1234,
		})
	}))
	defer srv.Close()

	h := NewBunkr(srv.Client(), nil, nil)
	h.apiURL = srv.URL

	direct, size, err := h.Resolve(context.Background(), "https://bunkr.sk/f/slug123")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if gotSlug != "slug123" {
		t.Fatalf("slug = %q", gotSlug)
	}
	if direct != "https://cdn.example.org/file.mp4" || size != 1234 {
		t.Fatalf("got %q size %d", direct, size)
	}
}

func TestBunkrResolveEncryptedPayloadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"url": "bm90LWEtdXJs", "encrypted": true})
	}))
	defer srv.Close()

	h := NewBunkr(srv.Client(), nil, nil)
	h.apiURL = srv.URL
	if _, _, err := h.Resolve(context.Background(), "https://bunkr.sk/f/slug123"); err == nil {
		t.Fatal("expected error for encrypted payload")
	}
}

func TestBunkrResolveNoSlug(t *testing.T) {
	h := NewBunkr(nil, nil, nil)
	if _, _, err := h.Resolve(context.Background(), "https://bunkr.sk/a/album"); err == nil {
		t.Fatal("album URLs have no file slug")
	}
}
