package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atmx/item-exchange/internal/apperr"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/store"
)

func newService(t *testing.T) (*Service, *store.MemoryStore, *cache.MemoryCache) {
	t.Helper()
	st := store.NewMemoryStore()
	mc := cache.NewMemoryCache()
	logger := zaptest.NewLogger(t)
	return NewService(st, cache.NewAside(mc, logger), logger), st, mc
}

func TestCreateAndGetItem(t *testing.T) {
	svc, _, mc := newService(t)
	ctx := context.Background()

	created, err := svc.CreateItem(ctx, model.CatalogItem{Name: "  Lantern ", Description: "bright"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Lantern", created.Name)

	_, err = mc.Get(ctx, cache.ItemKey(created.ID))
	require.NoError(t, err, "item should be cached after commit")

	got, err := svc.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *created, *got)
	assert.Equal(t, "Lantern", svc.GetName(ctx, created.ID))
}

func TestCreateItemValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, model.CatalogItem{ID: "x", Name: " "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.CreateItem(ctx, model.CatalogItem{ID: "x", Name: "X"})
	require.NoError(t, err)
	_, err = svc.CreateItem(ctx, model.CatalogItem{ID: "x", Name: "X"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestGetUnknownItem(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GetItem(ctx, "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, "nope", svc.GetName(ctx, "nope"))
}

func TestDeleteItemRefusedWhilePending(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, model.CatalogItem{ID: "gem", Name: "Gem"})
	require.NoError(t, err)

	trade := &model.Trade{
		ID:         "t1",
		SenderID:   "alice",
		ReceiverID: "bob",
		SentDate:   time.Now().UTC(),
		Contents:   []model.TradeContent{{TradeID: "t1", ItemID: "gem", Quantity: 1, Price: decimal.NewFromInt(3)}},
	}
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error { return tx.InsertTrade(ctx, trade) }))

	err = svc.DeleteItem(ctx, "gem")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	// Once the trade is answered the item can go.
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetTradeResponse(ctx, "t1", false, time.Now().UTC())
	}))
	require.NoError(t, svc.DeleteItem(ctx, "gem"))

	_, err = svc.GetItem(ctx, "gem")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDeleteUnknownItem(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.DeleteItem(context.Background(), "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDisplayName(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.DisplayName(ctx, "alice")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	require.NoError(t, svc.PutUser(ctx, model.User{ID: "alice", DisplayName: "Alice"}))
	name, err := svc.DisplayName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	err = svc.PutUser(ctx, model.User{DisplayName: "nobody"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
