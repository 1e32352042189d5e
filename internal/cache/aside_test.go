package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type entry struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
}

func TestReadThrough(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))

	var loads atomic.Int32
	load := func(context.Context) (entry, error) {
		loads.Add(1)
		return entry{Key: "a", Value: 1}, nil
	}

	got, err := ReadThrough(ctx, a, "items:a", true, load)
	require.NoError(t, err)
	assert.Equal(t, entry{Key: "a", Value: 1}, got)

	got, err = ReadThrough(ctx, a, "items:a", true, load)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Value)
	assert.Equal(t, int32(1), loads.Load(), "second read is a hit")
}

func TestReadThroughWithoutWriteBack(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))

	_, err := ReadThrough(ctx, a, "items:b", false, func(context.Context) (int64, error) {
		return 7, nil
	})
	require.NoError(t, err)

	_, err = c.Get(ctx, "items:b")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestReadThroughLoadError(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))
	boom := errors.New("boom")

	_, err := ReadThrough(ctx, a, "items:c", true, func(context.Context) (entry, error) {
		return entry{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestReadThroughCorruptValue(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))
	require.NoError(t, c.Set(ctx, "items:d", "{broken"))

	got, err := ReadThrough(ctx, a, "items:d", true, func(context.Context) (entry, error) {
		return entry{Key: "d", Value: 4}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Value)

	// The reload overwrote the corrupt entry.
	var fixed entry
	require.NoError(t, GetJSON(ctx, c, "items:d", &fixed))
	assert.Equal(t, 4, fixed.Value)
}

func TestReadPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))
	prefix := InventoryItemsPrefix("alice")
	keyOf := func(e entry) string { return prefix + e.Key }

	var loads atomic.Int32
	load := func(context.Context) ([]entry, error) {
		loads.Add(1)
		return []entry{{Key: "b", Value: 2}, {Key: "a", Value: 1}}, nil
	}

	got, err := ReadPrefix(ctx, a, prefix, keyOf, load)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(1), loads.Load())

	ok, err := c.Exists(ctx, Marker(prefix))
	require.NoError(t, err)
	assert.True(t, ok, "a full load marks the prefix complete")

	got, err = ReadPrefix(ctx, a, prefix, keyOf, load)
	require.NoError(t, err)
	assert.Equal(t, []entry{{Key: "a", Value: 1}, {Key: "b", Value: 2}}, got, "cached scan is ordered by key")
	assert.Equal(t, int32(1), loads.Load())
}

func TestReadPrefixIgnoresPartialEntries(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))
	prefix := SentTradesPrefix("bob")

	// One entry is cached but the marker is absent.
	require.NoError(t, SetJSON(ctx, c, SentTradeKey("bob", "t1"), "t1"))

	got, err := ReadPrefix(ctx, a, prefix, func(id string) string { return SentTradeKey("bob", id) },
		func(context.Context) ([]string, error) { return []string{"t1", "t2"}, nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, got)
}

func TestReadPrefixUndecodableScanReloads(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))
	prefix := TradeItemsPrefix("t9")

	require.NoError(t, c.Set(ctx, Marker(prefix), "1"))
	require.NoError(t, c.Set(ctx, prefix+"x", "not json"))

	got, err := ReadPrefix(ctx, a, prefix, func(e entry) string { return prefix + e.Key },
		func(context.Context) ([]entry, error) { return []entry{{Key: "x", Value: 9}}, nil })
	require.NoError(t, err)
	assert.Equal(t, []entry{{Key: "x", Value: 9}}, got)
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))
	key := UsedItemsKey("gem")

	var loads atomic.Int32
	load := func(context.Context) ([]string, error) {
		loads.Add(1)
		return []string{"t2", "t1"}, nil
	}

	got, err := a.Members(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, got)

	got, err = a.Members(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, got)
	assert.Equal(t, int32(1), loads.Load())

	a.RemoveMembers(ctx, key, "t1", "t2")
	a.AddMembers(ctx, key)
	ok, err := c.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	a := NewAside(c, zaptest.NewLogger(t))

	a.Put(ctx, TradeKey("t1"), entry{Key: "t1"})
	a.Put(ctx, TradeItemKey("t1", "gem"), entry{Key: "gem"})
	a.Set(ctx, Marker(TradeItemsPrefix("t1")), "1")
	a.Put(ctx, TradeItemKey("t10", "gem"), entry{Key: "gem"})

	a.Invalidate(ctx, TradeKey("t1"))
	a.InvalidatePrefix(ctx, TradeScope("t1"))

	assert.Equal(t, 1, c.Len(), "only the other trade's line remains")
	_, err := c.Get(ctx, TradeItemKey("t10", "gem"))
	assert.NoError(t, err)
}
