// Package crawler fetches web pages and extracts readable article text,
// honoring robots.txt and retrying transient failures with exponential
// backoff.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"deepsearch/backend/internal/cache"
)

const (
	defaultMaxRetries      = 3
	defaultRequestTimeout  = 12 * time.Second
	defaultMaxBodyBytes    = int64(1_500_000)
	defaultMaxTextRunes    = 16_000
	defaultUserAgent       = "deepsearch-bot/1.0"
	defaultRobotsCacheTTL  = 10 * time.Minute
	initialBackoff         = 500 * time.Millisecond
	maxBackoff             = 8 * time.Second
	robotsDisallowedReason = "not allowed by robots.txt"
)

// CrawlResult is the outcome of a single crawl attempt. Exactly one of
// Markdown or Error is meaningful, discriminated by Success.
type CrawlResult struct {
	URL      string `json:"url"`
	Success  bool   `json:"success"`
	Title    string `json:"title,omitempty"`
	Markdown string `json:"markdown,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BatchResult aggregates per-URL outcomes. Success is true only when every
// crawl succeeded; Results always holds one entry per input URL in input
// order.
type BatchResult struct {
	Success bool          `json:"success"`
	Results []CrawlResult `json:"results"`
}

type Config struct {
	UserAgent      string
	MaxRetries     int
	RequestTimeout time.Duration
	MaxBytes       int64
	MaxTextRunes   int
	RobotsCacheTTL time.Duration
}

type Crawler struct {
	cfg        Config
	httpClient *http.Client
	robots     *robotsGate
	memo       *cache.Memoized[string, CrawlResult]
}

// New builds a Crawler. A nil store disables crawl memoization; a nil
// httpClient gets a hardened default that refuses private addresses.
func New(cfg Config, store cache.Store, ttl time.Duration, httpClient *http.Client) *Crawler {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBodyBytes
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = defaultMaxTextRunes
	}
	if cfg.RobotsCacheTTL <= 0 {
		cfg.RobotsCacheTTL = defaultRobotsCacheTTL
	}

	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = guardedDialer(cfg.RequestTimeout)
		httpClient = &http.Client{Transport: transport}
	}

	c := &Crawler{
		cfg:        cfg,
		httpClient: httpClient,
		robots:     newRobotsGate(cfg.UserAgent, cfg.RobotsCacheTTL, httpClient),
	}
	if store != nil {
		c.memo = cache.NewMemoized("crawler.crawl", store, ttl, c.crawl)
	}
	return c
}

// Crawl never returns an error: every failure mode is captured in the
// CrawlResult so batch callers can degrade gracefully.
func (c *Crawler) Crawl(ctx context.Context, rawURL string) CrawlResult {
	if c.memo == nil {
		return c.crawlOnce(ctx, rawURL)
	}
	result, _, err := c.memo.Call(ctx, rawURL)
	if err != nil {
		return CrawlResult{URL: rawURL, Error: err.Error()}
	}
	return result
}

// crawl is the memoized unit. Failures come back as errors so only
// successful extractions are stored for the cache TTL.
func (c *Crawler) crawl(ctx context.Context, rawURL string) (CrawlResult, error) {
	result := c.crawlOnce(ctx, rawURL)
	if !result.Success {
		return CrawlResult{}, errors.New(result.Error)
	}
	return result, nil
}

func (c *Crawler) crawlOnce(ctx context.Context, rawURL string) CrawlResult {
	parsed, err := checkFetchURL(rawURL)
	if err != nil {
		return CrawlResult{URL: rawURL, Error: fmt.Sprintf("invalid url: %v", err)}
	}

	if !c.robots.Allowed(ctx, parsed) {
		return CrawlResult{URL: rawURL, Error: robotsDisallowedReason}
	}

	body, contentType, err := c.fetchWithRetry(ctx, parsed.String())
	if err != nil {
		return CrawlResult{URL: rawURL, Error: err.Error()}
	}

	title, text, err := extractContent(contentType, body, c.cfg.MaxTextRunes)
	if err != nil {
		return CrawlResult{URL: rawURL, Error: fmt.Sprintf("extract content: %v", err)}
	}
	if strings.TrimSpace(text) == "" {
		return CrawlResult{URL: rawURL, Error: "extracted content is empty"}
	}

	return CrawlResult{URL: rawURL, Success: true, Title: title, Markdown: text}
}

// fetchWithRetry attempts the fetch up to MaxRetries times with exponential
// backoff capped at 8 seconds. Robots failures never reach here; only
// transient HTTP and network errors are retried.
func (c *Crawler) fetchWithRetry(ctx context.Context, target string) ([]byte, string, error) {
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, backoffDelay(attempt-1)); err != nil {
				return nil, "", err
			}
		}

		body, contentType, status, err := c.fetchOnce(ctx, target)
		if err == nil && status >= http.StatusOK && status < http.StatusMultipleChoices {
			return body, contentType, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		lastStatus = status
		lastErr = err
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("network error after %d attempts: %v", c.cfg.MaxRetries, lastErr)
	}
	return nil, "", fmt.Errorf("http status %d after %d attempts", lastStatus, c.cfg.MaxRetries)
}

func (c *Crawler) fetchOnce(ctx context.Context, target string) (body []byte, contentType string, status int, err error) {
	requestCtx := ctx
	cancel := func() {}
	if c.cfg.RequestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
	}
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", 0, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,text/markdown,application/json,application/pdf;q=0.9,*/*;q=0.2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()

	contentType = strings.TrimSpace(resp.Header.Get("Content-Type"))
	if parsedType, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil {
		contentType = parsedType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, contentType, resp.StatusCode, nil
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes))
	if err != nil {
		return nil, contentType, resp.StatusCode, err
	}
	return payload, contentType, resp.StatusCode, nil
}

// CrawlBatch crawls every URL concurrently. Individual failures never abort
// the batch.
func (c *Crawler) CrawlBatch(ctx context.Context, urls []string) BatchResult {
	results := make([]CrawlResult, len(urls))

	g, groupCtx := errgroup.WithContext(ctx)
	for i, rawURL := range urls {
		slot, target := i, rawURL
		g.Go(func() error {
			results[slot] = c.Crawl(groupCtx, target)
			return nil
		})
	}
	_ = g.Wait()

	success := len(results) > 0
	for _, result := range results {
		if !result.Success {
			success = false
			break
		}
	}
	return BatchResult{Success: success, Results: results}
}

func backoffDelay(attempt int) time.Duration {
	delay := initialBackoff << attempt
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
