package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/talgya/citytraffic/internal/geo"
)

// CachedProvider memoizes route answers keyed by origin, destination and a
// departure-time bucket. Only non-empty successful answers are cached.
type CachedProvider struct {
	next   Provider
	bucket time.Duration
	cache  *lru.Cache[string, []Route]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedProvider wraps next with an LRU of the given size. A non-positive
// bucket disables time bucketing (departure time is ignored in the key).
func NewCachedProvider(next Provider, size int, bucket time.Duration) (*CachedProvider, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []Route](size)
	if err != nil {
		return nil, fmt.Errorf("route cache: %w", err)
	}
	return &CachedProvider{next: next, bucket: bucket, cache: cache}, nil
}

// GetRoute returns cached routes when available, otherwise asks the wrapped provider.
func (c *CachedProvider) GetRoute(ctx context.Context, origin, destination geo.Coord, departure time.Time) ([]Route, error) {
	key := c.key(origin, destination, departure)
	if routes, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return routes, nil
	}
	c.misses.Add(1)

	routes, err := c.next.GetRoute(ctx, origin, destination, departure)
	if err != nil {
		return nil, err
	}
	if len(routes) > 0 {
		c.cache.Add(key, routes)
	}
	return routes, nil
}

// Stats returns cache hit and miss counts.
func (c *CachedProvider) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached queries.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

func (c *CachedProvider) key(origin, destination geo.Coord, departure time.Time) string {
	var slot int64
	if c.bucket > 0 {
		slot = departure.Truncate(c.bucket).Unix()
	}
	return fmt.Sprintf("%s|%s|%d", origin.Key(), destination.Key(), slot)
}

// TimeoutProvider bounds every query with a deadline. A timed-out query is
// reported as ErrNoRoutes so callers treat it like an empty answer.
type TimeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// NewTimeoutProvider wraps next. A non-positive timeout disables the bound.
func NewTimeoutProvider(next Provider, timeout time.Duration) *TimeoutProvider {
	return &TimeoutProvider{next: next, timeout: timeout}
}

// GetRoute queries the wrapped provider under the configured deadline.
func (t *TimeoutProvider) GetRoute(ctx context.Context, origin, destination geo.Coord, departure time.Time) ([]Route, error) {
	if t.timeout <= 0 {
		return t.next.GetRoute(ctx, origin, destination, departure)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		routes []Route
		err    error
	}
	done := make(chan result, 1)
	go func() {
		routes, err := t.next.GetRoute(ctx, origin, destination, departure)
		done <- result{routes, err}
	}()

	select {
	case r := <-done:
		return r.routes, r.err
	case <-ctx.Done():
		slog.Warn("route query timed out",
			"origin", origin.Key(),
			"destination", destination.Key(),
			"timeout", t.timeout,
		)
		return nil, fmt.Errorf("%w: %v", ErrNoRoutes, ctx.Err())
	}
}
