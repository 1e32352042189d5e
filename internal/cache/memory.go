package cache

import (
	"context"
	"strings"
	"sync"
)

// MemoryCache implements Cache with in-memory maps. Used for testing
// and development. Not shared between processes.
type MemoryCache struct {
	mu      sync.RWMutex
	scalars map[string]string
	sets    map[string]map[string]struct{}
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		scalars: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.scalars[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.sets, key)
	c.scalars[key] = value
	return nil
}

func (c *MemoryCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(members) == 0 {
		return nil
	}
	set, ok := c.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		c.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(c.sets, key)
	}
	return nil
}

func (c *MemoryCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.scalars[key]; ok {
		return true, nil
	}
	_, ok := c.sets[key]
	return ok, nil
}

func (c *MemoryCache) ScanPrefix(_ context.Context, prefix string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string)
	for k, v := range c.scalars {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.scalars, k)
		delete(c.sets, k)
	}
	return nil
}

func (c *MemoryCache) DelPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.scalars {
		if strings.HasPrefix(k, prefix) {
			delete(c.scalars, k)
		}
	}
	for k := range c.sets {
		if strings.HasPrefix(k, prefix) {
			delete(c.sets, k)
		}
	}
	return nil
}

// Len returns the number of keys held. Used by tests.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scalars) + len(c.sets)
}
