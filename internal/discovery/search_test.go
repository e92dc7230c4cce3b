package discovery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/newsbrief/internal/model"
)

const googleNewsRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>search</title>
<item>
  <title>Hospitals brace for Medicaid cuts - STAT</title>
  <link>https://news.google.com/rss/articles/CBMiAAA?oc=5</link>
  <pubDate>Tue, 03 Feb 2026 09:00:00 GMT</pubDate>
  <description>snippet one</description>
  <source url="https://www.statnews.com">STAT News</source>
</item>
<item>
  <title>Fed holds rates - Markets - Reuters</title>
  <link>https://news.google.com/rss/articles/CBMiBBB?oc=5</link>
  <pubDate>Tue, 03 Feb 2026 08:00:00 GMT</pubDate>
</item>
<item>
  <title>Third item - CNBC</title>
  <link>https://news.google.com/rss/articles/CBMiCCC?oc=5</link>
</item>
</channel></rss>`

func TestGoogleNewsBackend_Search(t *testing.T) {
	var gotQuery, gotLocale string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotLocale = r.URL.Query().Get("ceid")
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, googleNewsRSS)
	}))
	defer ts.Close()

	b := NewGoogleNewsBackend(&mockSSRFValidator{}, BackendOptions{Endpoint: ts.URL + "/rss/search", UserAgent: "test"})
	results, err := b.Search(context.Background(), "medicaid cuts hospitals", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "medicaid cuts hospitals" || gotLocale != "US:en" {
		t.Errorf("query=%q ceid=%q", gotQuery, gotLocale)
	}

	want := []model.SearchResult{
		{
			Title:   "Hospitals brace for Medicaid cuts",
			URL:     "https://news.google.com/rss/articles/CBMiAAA?oc=5",
			Snippet: "snippet one",
			Source:  "STAT News",
			Date:    "Tue, 03 Feb 2026 09:00:00 GMT",
		},
		{
			Title:  "Fed holds rates - Markets",
			URL:    "https://news.google.com/rss/articles/CBMiBBB?oc=5",
			Source: "Reuters",
			Date:   "Tue, 03 Feb 2026 08:00:00 GMT",
		},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestGoogleNewsBackend_InvalidFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not xml at all")
	}))
	defer ts.Close()

	b := NewGoogleNewsBackend(&mockSSRFValidator{}, BackendOptions{Endpoint: ts.URL})
	if _, err := b.Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected parse error")
	}
}

const webResultsHTML = `<html><body>
<div class="result">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fx.com%2Fsimonw%2Fstatus%2F2018000000000000000&rut=abc">Simon Willison on X: "Notes on running coding agents in parallel"</a></h2>
  <a class="result__snippet">A thread about agents.</a>
  <span class="result__timestamp">2 hours ago</span>
</div>
<div class="result">
  <h2><a class="result__a" href="https://www.healthcaredive.com/news/hospital-margins/">Hospital margins recover</a></h2>
  <a class="result__snippet">Margins improved.</a>
</div>
<div class="result">
  <h2><a class="result__a" href="javascript:void(0)">Ad</a></h2>
</div>
</body></html>`

func TestWebBackend_Search(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		io.WriteString(w, webResultsHTML)
	}))
	defer ts.Close()

	b := NewWebBackend(&mockSSRFValidator{}, BackendOptions{Endpoint: ts.URL + "/html/"})
	results, err := b.Search(context.Background(), "site:x.com/simonw/status", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "site:x.com/simonw/status" {
		t.Errorf("query = %q", gotQuery)
	}

	want := []model.SearchResult{
		{
			Title:   `Simon Willison on X: "Notes on running coding agents in parallel"`,
			URL:     "https://x.com/simonw/status/2018000000000000000",
			Snippet: "A thread about agents.",
			Date:    "2 hours ago",
		},
		{
			Title:   "Hospital margins recover",
			URL:     "https://www.healthcaredive.com/news/hospital-margins/",
			Snippet: "Margins improved.",
		},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestWebBackend_RespectsLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, webResultsHTML)
	}))
	defer ts.Close()

	b := NewWebBackend(&mockSSRFValidator{}, BackendOptions{Endpoint: ts.URL})
	results, err := b.Search(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len = %d, want 1", len(results))
	}
}

func TestDecodeRedirect(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa&rut=x", "https://example.com/a"},
		{"/l/?uddg=https%3A%2F%2Fexample.com%2Fb", "https://example.com/b"},
		{"https://example.com/c", "https://example.com/c"},
		{"javascript:void(0)", ""},
	}
	for _, tt := range tests {
		if got := decodeRedirect(tt.href); got != tt.want {
			t.Errorf("decodeRedirect(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestSplitTitleSource(t *testing.T) {
	title, source := splitTitleSource("A - B - Source")
	if title != "A - B" || source != "Source" {
		t.Errorf("got (%q, %q)", title, source)
	}
	title, source = splitTitleSource("No separator")
	if title != "No separator" || source != "" {
		t.Errorf("got (%q, %q)", title, source)
	}
}
