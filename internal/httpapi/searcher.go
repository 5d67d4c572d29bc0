package httpapi

import (
	"context"
	"time"

	"deepsearch/backend/internal/cache"
	"deepsearch/backend/internal/serper"
)

type searchArgs struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// cachedSearcher wraps the serper client so identical queries within the
// cache TTL hit the provider at most once.
type cachedSearcher struct {
	memo *cache.Memoized[searchArgs, []serper.Result]
}

func newCachedSearcher(client serper.Client, store cache.Store, ttl time.Duration) cachedSearcher {
	memo := cache.NewMemoized("serper.search", store, ttl, func(ctx context.Context, args searchArgs) ([]serper.Result, error) {
		return client.Search(ctx, args.Query, args.Count)
	})
	return cachedSearcher{memo: memo}
}

func (s cachedSearcher) Search(ctx context.Context, query string, count int) ([]serper.Result, error) {
	results, _, err := s.memo.Call(ctx, searchArgs{Query: query, Count: count})
	return results, err
}
