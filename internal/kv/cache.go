package kv

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type cacheCtxKey struct{}

// requestCache memoizes reads for the lifetime of one inbound event. It is
// attached to a context and never shared between requests, so a reused
// process cannot serve values read by an earlier invocation.
type requestCache struct {
	sf     singleflight.Group
	mu     sync.RWMutex
	values map[string]cachedValue
}

type cachedValue struct {
	data  []byte
	found bool
}

// WithRequestCache returns a context carrying a fresh read cache. Writes made
// through this package with the returned context keep the cache current.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheCtxKey{}, &requestCache{values: make(map[string]cachedValue)})
}

func cacheFrom(ctx context.Context) *requestCache {
	c, _ := ctx.Value(cacheCtxKey{}).(*requestCache)
	return c
}

func (c *requestCache) get(ctx context.Context, s Store, key string) ([]byte, bool, error) {
	c.mu.RLock()
	if v, ok := c.values[key]; ok {
		c.mu.RUnlock()
		return v.data, v.found, nil
	}
	c.mu.RUnlock()

	// Concurrent fan-out reads of the same key collapse into one backend call.
	res, err, _ := c.sf.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		if v, ok := c.values[key]; ok {
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		data, found, err := fetch(ctx, s, key)
		if err != nil {
			return nil, err
		}
		v := cachedValue{data: data, found: found}
		c.mu.Lock()
		c.values[key] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	v := res.(cachedValue)
	return v.data, v.found, nil
}

func (c *requestCache) set(key string, data []byte, found bool) {
	c.mu.Lock()
	c.values[key] = cachedValue{data: data, found: found}
	c.mu.Unlock()
}

func (c *requestCache) forget(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}
