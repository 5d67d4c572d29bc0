package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const maxRobotsBodyBytes = 512 * 1024

// robotsGate caches per-origin robots.txt policies. Any failure to retrieve
// or parse a policy fails open: the crawl proceeds. Only an explicit
// disallow for our user agent blocks a URL.
type robotsGate struct {
	userAgent  string
	ttl        time.Duration
	httpClient *http.Client

	mu      sync.Mutex
	origins map[string]robotsEntry
}

type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

func newRobotsGate(userAgent string, ttl time.Duration, httpClient *http.Client) *robotsGate {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &robotsGate{
		userAgent:  userAgent,
		ttl:        ttl,
		httpClient: httpClient,
		origins:    make(map[string]robotsEntry),
	}
}

// Allowed reports whether the gate permits crawling target.
func (g *robotsGate) Allowed(ctx context.Context, target *url.URL) bool {
	if g == nil || target == nil {
		return true
	}

	origin := target.Scheme + "://" + target.Host
	group := g.groupForOrigin(ctx, origin)
	if group == nil {
		return true
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return group.Test(path)
}

func (g *robotsGate) groupForOrigin(ctx context.Context, origin string) *robotstxt.Group {
	g.mu.Lock()
	entry, ok := g.origins[origin]
	g.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < g.ttl {
		return entry.group
	}

	group := g.fetchGroup(ctx, origin)
	g.mu.Lock()
	g.origins[origin] = robotsEntry{group: group, fetchedAt: time.Now()}
	g.mu.Unlock()
	return group
}

// fetchGroup returns nil (allow all) unless a robots.txt was retrieved with
// status 200 and parsed successfully.
func (g *robotsGate) fetchGroup(ctx context.Context, origin string) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return data.FindGroup(strings.TrimSpace(g.userAgent))
}
