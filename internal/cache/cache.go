// Package cache is the disposable accelerator in front of the relational
// store. Everything held here can be rebuilt from PostgreSQL, so callers
// treat every failure as a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache: miss")

// Cache is the set of key-value and set primitives the engines rely on.
// Implementations include Redis (production) and in-memory (tests, dev).
type Cache interface {
	// Get returns the scalar stored at key or ErrMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a scalar without expiry.
	Set(ctx context.Context, key, value string) error

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers lists the set at key; a missing set is empty.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Exists reports whether key holds any value.
	Exists(ctx context.Context, key string) (bool, error)

	// ScanPrefix returns every scalar key starting with prefix, with its value.
	ScanPrefix(ctx context.Context, prefix string) (map[string]string, error)

	// Del removes keys.
	Del(ctx context.Context, keys ...string) error

	// DelPrefix removes every key starting with prefix.
	DelPrefix(ctx context.Context, prefix string) error
}

// GetJSON decodes the structured value at key into dst.
func GetJSON(ctx context.Context, c Cache, key string, dst any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v as a structured value at key.
func SetJSON(ctx context.Context, c Cache, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, string(data))
}
