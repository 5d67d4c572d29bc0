package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"deepsearch/backend/internal/cache"
	"deepsearch/backend/internal/config"
	"deepsearch/backend/internal/serper"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestCachedSearcherHitsProviderOnce(t *testing.T) {
	var requests int
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requests++
		header := make(http.Header)
		header.Set("Content-Type", "application/json")
		body := `{"organic":[{"title":"TypeScript 5.8","link":"https://ts.example.com/5.8","snippet":"release notes","date":"2025-02-01"}]}`
		return &http.Response{StatusCode: http.StatusOK, Header: header, Body: io.NopCloser(strings.NewReader(body))}, nil
	})

	client := serper.NewClient(config.Config{
		SerperAPIKey:  "key",
		SerperBaseURL: "https://google.serper.dev",
	}, &http.Client{Transport: transport})
	searcher := newCachedSearcher(client, cache.NewMemoryStore(), time.Minute)

	first, err := searcher.Search(context.Background(), "typescript 5.8", 10)
	if err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	second, err := searcher.Search(context.Background(), "typescript 5.8", 10)
	if err != nil {
		t.Fatalf("second search failed: %v", err)
	}

	if requests != 1 {
		t.Fatalf("expected one provider request, got %d", requests)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("unexpected result counts: %d / %d", len(first), len(second))
	}
	if first[0] != second[0] {
		t.Fatalf("cached result differs: %+v vs %+v", first[0], second[0])
	}

	if _, err := searcher.Search(context.Background(), "typescript 5.8", 5); err != nil {
		t.Fatalf("search with different count failed: %v", err)
	}
	if requests != 2 {
		t.Fatalf("different arguments must reach the provider, got %d requests", requests)
	}
}
