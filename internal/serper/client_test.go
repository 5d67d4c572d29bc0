package serper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"deepsearch/backend/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(transport roundTripFunc) Client {
	return NewClient(config.Config{
		SerperAPIKey:  "test-key",
		SerperBaseURL: "https://search.test",
	}, &http.Client{Transport: transport})
}

func TestSearchParsesOrganicResults(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("X-API-KEY") != "test-key" {
			t.Fatal("missing api key header")
		}
		payload, _ := io.ReadAll(req.Body)
		var body map[string]any
		if err := json.Unmarshal(payload, &body); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		if body["q"] != "capital of france" {
			t.Fatalf("unexpected query %v", body["q"])
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body: io.NopCloser(strings.NewReader(`{
				"organic":[
					{"title":"Paris","link":"https://example.com/paris","snippet":"Paris is the capital...","date":"2026-01-02"},
					{"title":"","link":"https://example.com/untitled","snippet":"s"},
					{"title":"Dup","link":"https://example.com/paris","snippet":"dup"}
				]
			}`)),
		}, nil
	})

	results, err := client.Search(context.Background(), "capital of france", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 deduped results, got %d", len(results))
	}
	if results[0].Title != "Paris" || results[0].Date != "2026-01-02" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Title != "https://example.com/untitled" {
		t.Fatalf("expected url fallback title, got %q", results[1].Title)
	}
}

func TestSearchMissingAPIKey(t *testing.T) {
	client := NewClient(config.Config{SerperBaseURL: "https://search.test"}, nil)
	_, err := client.Search(context.Background(), "q", 5)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSearchSurfacesAPIError(t *testing.T) {
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Body:       io.NopCloser(strings.NewReader("slow down")),
		}, nil
	})

	_, err := client.Search(context.Background(), "q", 5)
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
}

func TestSearchPropagatesCancellation(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Search(ctx, "q", 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestSearchEmptyQueryIsNoop(t *testing.T) {
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected for empty query")
		return nil, nil
	})

	results, err := client.Search(context.Background(), "   ", 5)
	if err != nil || results != nil {
		t.Fatalf("expected nil results without error, got %v %v", results, err)
	}
}
