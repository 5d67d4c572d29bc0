package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"deepsearch/backend/internal/cache"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func textResponse(status int, contentType, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestCrawler(cfg Config, store cache.Store, rt roundTripFunc) *Crawler {
	return New(cfg, store, time.Minute, &http.Client{Transport: rt})
}

const articlePage = `<html><head><title>Capitals of Europe</title></head><body>
<nav>menu that should be stripped</nav>
<article>
<h1>Capitals of Europe</h1>
<p>Paris is the capital and largest city of France, situated on the Seine.
It has been one of Europe's major centres of finance, diplomacy, commerce,
and the arts since the seventeenth century.</p>
</article>
</body></html>`

func TestBackoffDelaySequence(t *testing.T) {
	want := []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		8000 * time.Millisecond,
		8000 * time.Millisecond,
	}
	for attempt, expected := range want {
		if got := backoffDelay(attempt); got != expected {
			t.Fatalf("backoffDelay(%d) = %s, want %s", attempt, got, expected)
		}
	}
}

func TestCrawlExtractsArticle(t *testing.T) {
	c := newTestCrawler(Config{}, nil, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/robots.txt" {
			return textResponse(http.StatusNotFound, "text/plain", ""), nil
		}
		return textResponse(http.StatusOK, "text/html; charset=utf-8", articlePage), nil
	})

	result := c.Crawl(context.Background(), "https://news.example.com/capitals")
	if !result.Success {
		t.Fatalf("crawl failed: %s", result.Error)
	}
	if result.Title != "Capitals of Europe" {
		t.Fatalf("unexpected title %q", result.Title)
	}
	if !strings.Contains(result.Markdown, "# Capitals of Europe") {
		t.Fatalf("markdown missing heading: %q", result.Markdown)
	}
	if !strings.Contains(result.Markdown, "Paris is the capital") {
		t.Fatalf("markdown missing body text: %q", result.Markdown)
	}
	if strings.Contains(result.Markdown, "menu that should be stripped") {
		t.Fatalf("markdown retained nav chrome: %q", result.Markdown)
	}
}

func TestCrawlRespectsRobots(t *testing.T) {
	var pageFetches int
	c := newTestCrawler(Config{}, nil, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/robots.txt" {
			return textResponse(http.StatusOK, "text/plain", "User-agent: *\nDisallow: /private\n"), nil
		}
		pageFetches++
		return textResponse(http.StatusOK, "text/html", articlePage), nil
	})

	result := c.Crawl(context.Background(), "https://blocked.example.com/private/report")
	if result.Success {
		t.Fatal("expected robots-disallowed crawl to fail")
	}
	if result.Error != robotsDisallowedReason {
		t.Fatalf("unexpected error %q", result.Error)
	}
	if pageFetches != 0 {
		t.Fatalf("page fetched %d times despite robots disallow", pageFetches)
	}

	allowed := c.Crawl(context.Background(), "https://blocked.example.com/public/report")
	if !allowed.Success {
		t.Fatalf("allowed path failed: %s", allowed.Error)
	}
}

func TestCrawlRobotsFailOpen(t *testing.T) {
	c := newTestCrawler(Config{}, nil, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/robots.txt" {
			return textResponse(http.StatusInternalServerError, "text/plain", "oops"), nil
		}
		return textResponse(http.StatusOK, "text/html", articlePage), nil
	})

	result := c.Crawl(context.Background(), "https://flaky.example.com/story")
	if !result.Success {
		t.Fatalf("expected fail-open crawl to succeed, got %s", result.Error)
	}
}

func TestCrawlRetriesTransientFailures(t *testing.T) {
	var pageFetches int
	c := newTestCrawler(Config{MaxRetries: 3}, nil, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/robots.txt" {
			return textResponse(http.StatusNotFound, "text/plain", ""), nil
		}
		pageFetches++
		if pageFetches < 3 {
			return textResponse(http.StatusBadGateway, "text/html", "try later"), nil
		}
		return textResponse(http.StatusOK, "text/html", articlePage), nil
	})

	result := c.Crawl(context.Background(), "https://slow.example.com/story")
	if !result.Success {
		t.Fatalf("expected success after retries, got %s", result.Error)
	}
	if pageFetches != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", pageFetches)
	}
}

func TestCrawlReportsStatusAfterRetries(t *testing.T) {
	c := newTestCrawler(Config{MaxRetries: 1}, nil, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/robots.txt" {
			return textResponse(http.StatusNotFound, "text/plain", ""), nil
		}
		return textResponse(http.StatusNotFound, "text/html", "gone"), nil
	})

	result := c.Crawl(context.Background(), "https://gone.example.com/story")
	if result.Success {
		t.Fatal("expected crawl to fail")
	}
	if !strings.Contains(result.Error, "404") {
		t.Fatalf("error should carry http status, got %q", result.Error)
	}
}

func TestCrawlBatchPartialFailure(t *testing.T) {
	c := newTestCrawler(Config{MaxRetries: 1}, nil, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/robots.txt" {
			return textResponse(http.StatusNotFound, "text/plain", ""), nil
		}
		if r.URL.Path == "/broken" {
			return textResponse(http.StatusInternalServerError, "text/html", "boom"), nil
		}
		return textResponse(http.StatusOK, "text/html", articlePage), nil
	})

	urls := []string{
		"https://batch.example.com/one",
		"https://batch.example.com/broken",
		"https://batch.example.com/three",
	}
	batch := c.CrawlBatch(context.Background(), urls)
	if batch.Success {
		t.Fatal("batch with a failed crawl should not report success")
	}
	if len(batch.Results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(batch.Results))
	}
	for i, result := range batch.Results {
		if result.URL != urls[i] {
			t.Fatalf("result %d out of order: %q", i, result.URL)
		}
	}
	if batch.Results[0].Success != true || batch.Results[2].Success != true {
		t.Fatal("healthy urls should succeed")
	}
	if batch.Results[1].Success || batch.Results[1].Error == "" {
		t.Fatal("broken url should carry an error")
	}
}

func TestCrawlMemoization(t *testing.T) {
	var mu sync.Mutex
	var pageFetches int
	c := newTestCrawler(Config{}, cache.NewMemoryStore(), func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/robots.txt" {
			return textResponse(http.StatusNotFound, "text/plain", ""), nil
		}
		mu.Lock()
		pageFetches++
		mu.Unlock()
		return textResponse(http.StatusOK, "text/html", articlePage), nil
	})

	first := c.Crawl(context.Background(), "https://cached.example.com/story")
	second := c.Crawl(context.Background(), "https://cached.example.com/story")
	if !first.Success || !second.Success {
		t.Fatalf("crawls failed: %s / %s", first.Error, second.Error)
	}
	if first.Markdown != second.Markdown {
		t.Fatal("cached result should match the original")
	}
	if pageFetches != 1 {
		t.Fatalf("expected a single page fetch, got %d", pageFetches)
	}
}

func TestCrawlFailuresAreNotCached(t *testing.T) {
	var pageFetches int
	c := newTestCrawler(Config{MaxRetries: 1}, cache.NewMemoryStore(), func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/robots.txt" {
			return textResponse(http.StatusNotFound, "text/plain", ""), nil
		}
		pageFetches++
		if pageFetches == 1 {
			return textResponse(http.StatusServiceUnavailable, "text/html", "later"), nil
		}
		return textResponse(http.StatusOK, "text/html", articlePage), nil
	})

	first := c.Crawl(context.Background(), "https://recover.example.com/story")
	if first.Success {
		t.Fatal("first crawl should fail")
	}
	second := c.Crawl(context.Background(), "https://recover.example.com/story")
	if !second.Success {
		t.Fatalf("second crawl should bypass the failed result, got %s", second.Error)
	}
}

func TestCheckFetchURL(t *testing.T) {
	cases := []struct {
		rawURL string
		ok     bool
	}{
		{"https://example.com/page", true},
		{"http://example.com", true},
		{"https://example.com:443/page", true},
		{"ftp://example.com/file", false},
		{"https://localhost/admin", false},
		{"https://db.localhost/admin", false},
		{"https://127.0.0.1/secrets", false},
		{"https://10.0.0.8/internal", false},
		{"https://[fd12::1]/share", false},
		{"https://[fe80::1]/neighbor", false},
		{"https://example.com:8080/page", false},
		{"https://service.internal/health", false},
		{"https://printer.local/jobs", false},
		{"https:///nohost", false},
		{"not a url", false},
	}
	for _, tc := range cases {
		_, err := checkFetchURL(tc.rawURL)
		if tc.ok && err != nil {
			t.Fatalf("checkFetchURL(%q) unexpected error: %v", tc.rawURL, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("checkFetchURL(%q) should fail", tc.rawURL)
		}
	}
}

func TestPublicAddr(t *testing.T) {
	cases := []struct {
		addr   string
		public bool
	}{
		{"93.184.216.34", true},
		{"2606:2800:220:1::1", true},
		{"127.0.0.1", false},
		{"0.0.0.0", false},
		{"::1", false},
		{"192.168.1.10", false},
		{"172.16.4.2", false},
		{"169.254.0.5", false},
		{"fc00::1", false},
		{"fd42::1", false},
		{"ff02::1", false},
	}
	for _, tc := range cases {
		if got := publicAddr(netip.MustParseAddr(tc.addr)); got != tc.public {
			t.Fatalf("publicAddr(%s) = %t, want %t", tc.addr, got, tc.public)
		}
	}
}

func TestCrawlBatchEmptyInput(t *testing.T) {
	c := newTestCrawler(Config{}, nil, func(r *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("no requests expected")
	})
	batch := c.CrawlBatch(context.Background(), nil)
	if batch.Success {
		t.Fatal("empty batch should not report success")
	}
	if len(batch.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(batch.Results))
	}
}
