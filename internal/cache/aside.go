package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atmx/item-exchange/internal/metrics"
)

// Aside applies the cache-aside contract on top of a Cache: read the cache,
// fall back to the source of truth on a miss, and write the result back.
// Cache failures are logged and treated as misses.
type Aside struct {
	cache  Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewAside wraps c with read-through helpers.
func NewAside(c Cache, logger *zap.Logger) *Aside {
	return &Aside{cache: c, logger: logger}
}

// Cache returns the underlying primitives.
func (a *Aside) Cache() Cache { return a.cache }

// ReadThrough returns the value at key, loading it with load on a miss.
// Concurrent misses for the same key share one load. When setCache is
// false the loaded value is returned without being written back.
func ReadThrough[T any](ctx context.Context, a *Aside, key string, setCache bool, load func(context.Context) (T, error)) (T, error) {
	var cached T
	err := GetJSON(ctx, a.cache, key, &cached)
	switch {
	case err == nil:
		metrics.CacheLookups.WithLabelValues(family(key), "hit").Inc()
		return cached, nil
	case errors.Is(err, ErrMiss):
		metrics.CacheLookups.WithLabelValues(family(key), "miss").Inc()
	default:
		metrics.CacheLookups.WithLabelValues(family(key), "error").Inc()
		a.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if setCache {
			a.Put(ctx, key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// ReadPrefix returns every value stored under prefix. The scan is trusted
// only when the prefix's completeness marker exists; otherwise load is the
// source of truth and its result is written back entry by entry before the
// marker is set. Results are ordered by key.
func ReadPrefix[T any](ctx context.Context, a *Aside, prefix string, keyOf func(T) string, load func(context.Context) ([]T, error)) ([]T, error) {
	marker := Marker(prefix)
	complete, err := a.cache.Exists(ctx, marker)
	if err != nil {
		a.logger.Warn("cache marker check failed", zap.String("marker", marker), zap.Error(err))
	}

	if complete {
		if vals, ok := a.scan(ctx, prefix); ok {
			if out, ok := decodeAll[T](vals); ok {
				metrics.CacheLookups.WithLabelValues(family(prefix), "hit").Inc()
				return out, nil
			}
		}
	}
	metrics.CacheLookups.WithLabelValues(family(prefix), "miss").Inc()

	v, err, _ := a.group.Do(prefix, func() (any, error) {
		items, err := load(ctx)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			a.Put(ctx, keyOf(it), it)
		}
		a.Set(ctx, marker, "1")
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

// scan returns the values under prefix ordered by key.
func (a *Aside) scan(ctx context.Context, prefix string) ([]string, bool) {
	raw, err := a.cache.ScanPrefix(ctx, prefix)
	if err != nil {
		a.logger.Warn("cache prefix scan failed", zap.String("prefix", prefix), zap.Error(err))
		return nil, false
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = raw[k]
	}
	return vals, true
}

// decodeAll decodes every value as a T. Any undecodable entry makes the
// scan untrustworthy and the caller falls back to the source of truth.
func decodeAll[T any](vals []string) ([]T, bool) {
	out := make([]T, 0, len(vals))
	for _, raw := range vals {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// Put writes v as JSON at key, logging instead of failing.
func (a *Aside) Put(ctx context.Context, key string, v any) {
	if err := SetJSON(ctx, a.cache, key, v); err != nil {
		a.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Set writes a raw scalar, logging instead of failing.
func (a *Aside) Set(ctx context.Context, key, value string) {
	if err := a.cache.Set(ctx, key, value); err != nil {
		a.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate deletes keys, logging instead of failing.
func (a *Aside) Invalidate(ctx context.Context, keys ...string) {
	if err := a.cache.Del(ctx, keys...); err != nil {
		a.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// InvalidatePrefix deletes every key under prefix, logging instead of failing.
func (a *Aside) InvalidatePrefix(ctx context.Context, prefix string) {
	if err := a.cache.DelPrefix(ctx, prefix); err != nil {
		a.logger.Warn("cache prefix invalidation failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

// AddMembers adds to a set, logging instead of failing.
func (a *Aside) AddMembers(ctx context.Context, key string, members ...string) {
	if len(members) == 0 {
		return
	}
	if err := a.cache.SAdd(ctx, key, members...); err != nil {
		a.logger.Warn("cache set add failed", zap.String("key", key), zap.Error(err))
	}
}

// RemoveMembers removes from a set, logging instead of failing.
func (a *Aside) RemoveMembers(ctx context.Context, key string, members ...string) {
	if len(members) == 0 {
		return
	}
	if err := a.cache.SRem(ctx, key, members...); err != nil {
		a.logger.Warn("cache set remove failed", zap.String("key", key), zap.Error(err))
	}
}

// Members reads the set at key, loading and populating it when empty.
func (a *Aside) Members(ctx context.Context, key string, load func(context.Context) ([]string, error)) ([]string, error) {
	members, err := a.cache.SMembers(ctx, key)
	if err != nil {
		a.logger.Warn("cache set read failed", zap.String("key", key), zap.Error(err))
	}
	if len(members) > 0 {
		metrics.CacheLookups.WithLabelValues(family(key), "hit").Inc()
		sort.Strings(members)
		return members, nil
	}
	metrics.CacheLookups.WithLabelValues(family(key), "miss").Inc()

	members, err = load(ctx)
	if err != nil {
		return nil, err
	}
	a.AddMembers(ctx, key, members...)
	sort.Strings(members)
	return members, nil
}
