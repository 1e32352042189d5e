package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atmx/item-exchange/internal/api"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/catalog"
	"github.com/atmx/item-exchange/internal/inventory"
	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/notify"
	"github.com/atmx/item-exchange/internal/store"
	"github.com/atmx/item-exchange/internal/trade"
	"github.com/atmx/item-exchange/internal/wallet"
)

type result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Errors  []string        `json:"errors"`
}

// newTestEnv wires the full stack on the in-memory store and cache.
func newTestEnv(t *testing.T) (chi.Router, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	st := store.NewMemoryStore()
	aside := cache.NewAside(cache.NewMemoryCache(), logger)
	cat := catalog.NewService(st, aside, logger)
	inv := inventory.NewEngine(st, aside, cat, logger)
	cat.SetPurger(inv)
	ledger := wallet.NewLedger(logger)
	trades := trade.NewService(st, aside, inv, ledger, cat, cat, notify.Nop{}, logger)

	require.NoError(t, cat.PutUser(ctx, model.User{ID: "alice", DisplayName: "Alice"}))
	require.NoError(t, cat.PutUser(ctx, model.User{ID: "bob", DisplayName: "Bob"}))
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return ledger.Give(ctx, tx, "bob", decimal.NewFromInt(50))
	}))

	h := api.NewHandler(inv, trades, cat, nil, logger)
	return api.NewRouter(h, 5*time.Second), st
}

func do(t *testing.T, router chi.Router, method, path, user string, body any) (*httptest.ResponseRecorder, result) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(api.UserHeader, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var res result
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	}
	return w, res
}

func TestMissingUserHeader(t *testing.T) {
	router, _ := newTestEnv(t)

	w, res := do(t, router, "GET", "/api/v1/inventory", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"missing X-User-ID header"}, res.Errors)
}

func TestHealth(t *testing.T) {
	router, _ := newTestEnv(t)
	w, _ := do(t, router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInventoryEndpoints(t *testing.T) {
	router, _ := newTestEnv(t)

	w, res := do(t, router, "POST", "/api/v1/items", "alice", map[string]string{"id": "sword", "name": "Sword"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, res.Success)

	w, res = do(t, router, "POST", "/api/v1/inventory/sword", "alice", map[string]int{"quantity": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var item inventory.InventoryItem
	require.NoError(t, json.Unmarshal(res.Data, &item))
	assert.Equal(t, int64(5), item.Quantity)
	assert.Equal(t, "Sword", item.Name)

	w, res = do(t, router, "POST", "/api/v1/inventory/sword", "alice", map[string]int{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"quantity cannot be zero"}, res.Errors)

	w, res = do(t, router, "DELETE", "/api/v1/inventory/sword", "alice", map[string]int{"quantity": 9})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []string{"cannot drop more than you have"}, res.Errors)

	w, _ = do(t, router, "DELETE", "/api/v1/inventory/sword", "alice", map[string]int{"quantity": 2})
	assert.Equal(t, http.StatusOK, w.Code)

	w, res = do(t, router, "GET", "/api/v1/inventory?search=sw", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []inventory.InventoryItem
	require.NoError(t, json.Unmarshal(res.Data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, int64(3), items[0].Quantity)

	w, _ = do(t, router, "GET", "/api/v1/inventory/sword", "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, res = do(t, router, "POST", "/api/v1/inventory/sword", "alice", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"invalid request body"}, res.Errors)
}

func TestTradeLifecycleEndpoints(t *testing.T) {
	router, _ := newTestEnv(t)

	do(t, router, "POST", "/api/v1/items", "alice", map[string]string{"id": "gem", "name": "Gem"})
	do(t, router, "POST", "/api/v1/inventory/gem", "alice", map[string]int{"quantity": 3})

	w, res := do(t, router, "POST", "/api/v1/trades", "alice", map[string]any{
		"target_id": "bob",
		"items":     []map[string]any{{"item_id": "gem", "quantity": 0, "price": "5"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{"items[0].quantity must be greater than 0"}, res.Errors)

	w, res = do(t, router, "POST", "/api/v1/trades", "alice", map[string]any{
		"target_id": "bob",
		"items":     []map[string]any{{"item_id": "gem", "quantity": 2, "price": "30"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var offer trade.TradeOffer
	require.NoError(t, json.Unmarshal(res.Data, &offer))
	assert.Equal(t, "Bob", offer.ReceiverName)

	w, res = do(t, router, "GET", "/api/v1/trades/received", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var offers []trade.TradeOffer
	require.NoError(t, json.Unmarshal(res.Data, &offers))
	require.Len(t, offers, 1)
	assert.Equal(t, offer.TradeID, offers[0].TradeID)

	w, _ = do(t, router, "GET", "/api/v1/trades/sent/"+offer.TradeID, "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, res = do(t, router, "POST", "/api/v1/trades/"+offer.TradeID+"/accept", "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []string{"you are not the receiver of this trade"}, res.Errors)

	w, res = do(t, router, "POST", "/api/v1/trades/"+offer.TradeID+"/accept", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var s trade.Settlement
	require.NoError(t, json.Unmarshal(res.Data, &s))
	assert.True(t, s.Total.Equal(decimal.NewFromInt(30)))

	w, res = do(t, router, "DELETE", "/api/v1/trades/"+offer.TradeID, "alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []string{"trade already responded"}, res.Errors)

	w, res = do(t, router, "GET", "/api/v1/trades/sent/responded", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(res.Data, &offers))
	require.Len(t, offers, 1)
	assert.Equal(t, trade.StatusAccepted, offers[0].Status)

	w, _ = do(t, router, "GET", "/api/v1/inventory/gem", "bob", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelTwiceEndpoint(t *testing.T) {
	router, _ := newTestEnv(t)

	do(t, router, "POST", "/api/v1/items", "alice", map[string]string{"id": "gem", "name": "Gem"})
	do(t, router, "POST", "/api/v1/inventory/gem", "alice", map[string]int{"quantity": 1})
	_, res := do(t, router, "POST", "/api/v1/trades", "alice", map[string]any{
		"target_id": "bob",
		"items":     []map[string]any{{"item_id": "gem", "quantity": 1, "price": "1"}},
	})
	var offer trade.TradeOffer
	require.NoError(t, json.Unmarshal(res.Data, &offer))

	w, _ := do(t, router, "DELETE", "/api/v1/trades/"+offer.TradeID, "alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, res = do(t, router, "DELETE", "/api/v1/trades/"+offer.TradeID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []string{"trade not found or already cancelled"}, res.Errors)
}

func TestNotificationsDisabled(t *testing.T) {
	router, _ := newTestEnv(t)
	w, _ := do(t, router, "GET", "/api/v1/ws", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
