package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Memoized wraps a function so that repeated calls with equal arguments
// within the TTL window execute the underlying function at most once.
// Concurrent callers that miss the cache for the same key share a single
// in-flight execution. Store failures never fail the call: the wrapped
// function runs and its result is returned uncached.
//
// The cache key is derived from the wrapper name plus the JSON serialization
// of the arguments, so args must be deterministic under encoding/json.
// Cancellation is carried by ctx and never participates in the key.
type Memoized[A, R any] struct {
	name  string
	store Store
	ttl   time.Duration
	fn    func(context.Context, A) (R, error)
	group singleflight.Group
}

func NewMemoized[A, R any](name string, store Store, ttl time.Duration, fn func(context.Context, A) (R, error)) *Memoized[A, R] {
	return &Memoized[A, R]{name: name, store: store, ttl: ttl, fn: fn}
}

// Call returns the result and whether this caller avoided an execution:
// true for store hits and for callers that joined an execution already in
// flight. Per execution exactly one caller sees false.
func (m *Memoized[A, R]) Call(ctx context.Context, args A) (R, bool, error) {
	var zero R

	key, err := m.key(args)
	if err != nil {
		// Unkeyable arguments bypass the cache entirely.
		result, callErr := m.fn(ctx, args)
		return result, false, callErr
	}

	if m.store != nil {
		var cached R
		if err := m.store.Get(ctx, key, &cached); err == nil {
			return cached, true, nil
		}
	}

	value, err, _ := m.group.Do(key, func() (any, error) {
		result, callErr := m.fn(ctx, args)
		if callErr != nil {
			return nil, callErr
		}
		if m.store != nil {
			// A failed write leaves the cache cold but the result valid.
			_ = m.store.Set(ctx, key, result, m.ttl)
		}
		return &flight[R]{value: result}, nil
	})
	if err != nil {
		return zero, false, err
	}
	f := value.(*flight[R])
	// Every flight has exactly one execution; the first caller to claim it
	// is the one that "paid" for it, everyone else piggybacked.
	cached := !f.claimed.CompareAndSwap(false, true)
	return f.value, cached, nil
}

type flight[R any] struct {
	value   R
	claimed atomic.Bool
}

func (m *Memoized[A, R]) key(args A) (string, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal cache key args: %w", err)
	}
	sum := sha256.Sum256(append([]byte(m.name+":"), payload...))
	return m.name + ":" + hex.EncodeToString(sum[:]), nil
}
