package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/item-exchange/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Units of work are serialized by a mutex and run against a copy of the
// committed state, which replaces it on commit.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var tx *memTx
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx = &memTx{memState: s.state.clone()}
		if err := fn(tx); err != nil {
			return err
		}
		s.state = tx.memState
		return nil
	}()
	if err != nil {
		return err
	}

	tx.hooks.run(ctx)
	return nil
}

// read returns the committed state. Committed states are never mutated in
// place, so the lock is only needed to grab the current pointer.
func (s *MemoryStore) read() *memState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *MemoryStore) GetOwnedItem(ctx context.Context, userID, itemID string) (*model.OwnedItem, error) {
	return s.read().GetOwnedItem(ctx, userID, itemID)
}

func (s *MemoryStore) GetLockedItem(ctx context.Context, userID, itemID string) (*model.LockedItem, error) {
	return s.read().GetLockedItem(ctx, userID, itemID)
}

func (s *MemoryStore) ListOwnedItems(ctx context.Context, userID string) ([]model.OwnedItem, error) {
	return s.read().ListOwnedItems(ctx, userID)
}

func (s *MemoryStore) ListOwnersOfItem(ctx context.Context, itemID string) ([]string, error) {
	return s.read().ListOwnersOfItem(ctx, itemID)
}

func (s *MemoryStore) GetCatalogItem(ctx context.Context, itemID string) (*model.CatalogItem, error) {
	return s.read().GetCatalogItem(ctx, itemID)
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.read().GetUser(ctx, userID)
}

func (s *MemoryStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.read().GetBalance(ctx, userID)
}

func (s *MemoryStore) GetTrade(ctx context.Context, tradeID string) (*model.Trade, error) {
	return s.read().GetTrade(ctx, tradeID)
}

func (s *MemoryStore) ListTradeContents(ctx context.Context, tradeID string) ([]model.TradeContent, error) {
	return s.read().ListTradeContents(ctx, tradeID)
}

func (s *MemoryStore) ListSentTradeIDs(ctx context.Context, userID string) ([]string, error) {
	return s.read().ListSentTradeIDs(ctx, userID)
}

func (s *MemoryStore) ListReceivedTradeIDs(ctx context.Context, userID string) ([]string, error) {
	return s.read().ListReceivedTradeIDs(ctx, userID)
}

func (s *MemoryStore) ListTradesUsingItem(ctx context.Context, itemID string) ([]string, error) {
	return s.read().ListTradesUsingItem(ctx, itemID)
}

type pair struct {
	user string
	item string
}

type memState struct {
	owned   map[pair]int64
	locked  map[pair]int64
	items   map[string]model.CatalogItem
	users   map[string]model.User
	wallets map[string]decimal.Decimal
	trades  map[string]*model.Trade
}

func newMemState() *memState {
	return &memState{
		owned:   make(map[pair]int64),
		locked:  make(map[pair]int64),
		items:   make(map[string]model.CatalogItem),
		users:   make(map[string]model.User),
		wallets: make(map[string]decimal.Decimal),
		trades:  make(map[string]*model.Trade),
	}
}

// clone copies every table. Trade values are replaced, never mutated, so
// copying the pointers is enough.
func (m *memState) clone() *memState {
	return &memState{
		owned:   maps.Clone(m.owned),
		locked:  maps.Clone(m.locked),
		items:   maps.Clone(m.items),
		users:   maps.Clone(m.users),
		wallets: maps.Clone(m.wallets),
		trades:  maps.Clone(m.trades),
	}
}

func (m *memState) GetOwnedItem(_ context.Context, userID, itemID string) (*model.OwnedItem, error) {
	q, ok := m.owned[pair{userID, itemID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &model.OwnedItem{UserID: userID, ItemID: itemID, Quantity: q}, nil
}

func (m *memState) GetLockedItem(_ context.Context, userID, itemID string) (*model.LockedItem, error) {
	q, ok := m.locked[pair{userID, itemID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &model.LockedItem{UserID: userID, ItemID: itemID, Quantity: q}, nil
}

func (m *memState) ListOwnedItems(_ context.Context, userID string) ([]model.OwnedItem, error) {
	var out []model.OwnedItem
	for k, q := range m.owned {
		if k.user == userID {
			out = append(out, model.OwnedItem{UserID: userID, ItemID: k.item, Quantity: q})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *memState) ListOwnersOfItem(_ context.Context, itemID string) ([]string, error) {
	var out []string
	for k := range m.owned {
		if k.item == itemID {
			out = append(out, k.user)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memState) GetCatalogItem(_ context.Context, itemID string) (*model.CatalogItem, error) {
	it, ok := m.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (m *memState) GetUser(_ context.Context, userID string) (*model.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memState) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	return m.wallets[userID], nil
}

func (m *memState) GetTrade(_ context.Context, tradeID string) (*model.Trade, error) {
	t, ok := m.trades[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *t
	out.Contents = append([]model.TradeContent(nil), t.Contents...)
	return &out, nil
}

func (m *memState) ListTradeContents(_ context.Context, tradeID string) ([]model.TradeContent, error) {
	t, ok := m.trades[tradeID]
	if !ok {
		return nil, nil
	}
	return append([]model.TradeContent(nil), t.Contents...), nil
}

func (m *memState) ListSentTradeIDs(_ context.Context, userID string) ([]string, error) {
	return m.tradeIDs(func(t *model.Trade) bool { return t.SenderID == userID }), nil
}

func (m *memState) ListReceivedTradeIDs(_ context.Context, userID string) ([]string, error) {
	return m.tradeIDs(func(t *model.Trade) bool { return t.ReceiverID == userID }), nil
}

func (m *memState) ListTradesUsingItem(_ context.Context, itemID string) ([]string, error) {
	return m.tradeIDs(func(t *model.Trade) bool {
		for _, c := range t.Contents {
			if c.ItemID == itemID {
				return true
			}
		}
		return false
	}), nil
}

// tradeIDs returns matching trade ids ordered by sent date, then id.
func (m *memState) tradeIDs(match func(*model.Trade) bool) []string {
	var trades []*model.Trade
	for _, t := range m.trades {
		if match(t) {
			trades = append(trades, t)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].SentDate.Equal(trades[j].SentDate) {
			return trades[i].SentDate.Before(trades[j].SentDate)
		}
		return trades[i].ID < trades[j].ID
	})
	ids := make([]string, len(trades))
	for i, t := range trades {
		ids[i] = t.ID
	}
	return ids
}

// memTx is a unit of work over a private copy of the state.
type memTx struct {
	*memState
	hooks hooks
}

func (tx *memTx) AfterCommit(fn func(ctx context.Context)) { tx.hooks.add(fn) }

func (tx *memTx) PutOwnedItem(_ context.Context, item model.OwnedItem) error {
	if _, ok := tx.items[item.ItemID]; !ok {
		return fmt.Errorf("put owned item %s: unknown catalog item", item.ItemID)
	}
	tx.owned[pair{item.UserID, item.ItemID}] = item.Quantity
	return nil
}

func (tx *memTx) DeleteOwnedItem(_ context.Context, userID, itemID string) error {
	delete(tx.owned, pair{userID, itemID})
	return nil
}

func (tx *memTx) PutLockedItem(_ context.Context, item model.LockedItem) error {
	tx.locked[pair{item.UserID, item.ItemID}] = item.Quantity
	return nil
}

func (tx *memTx) DeleteLockedItem(_ context.Context, userID, itemID string) error {
	delete(tx.locked, pair{userID, itemID})
	return nil
}

func (tx *memTx) CreateCatalogItem(_ context.Context, item model.CatalogItem) error {
	if _, ok := tx.items[item.ID]; ok {
		return fmt.Errorf("catalog item %s already exists", item.ID)
	}
	tx.items[item.ID] = item
	return nil
}

func (tx *memTx) DeleteCatalogItem(_ context.Context, itemID string) error {
	if _, ok := tx.items[itemID]; !ok {
		return ErrNotFound
	}
	for k := range tx.owned {
		if k.item == itemID {
			return fmt.Errorf("delete catalog item %s: still owned by %s", itemID, k.user)
		}
	}
	delete(tx.items, itemID)
	return nil
}

func (tx *memTx) PutUser(_ context.Context, user model.User) error {
	tx.users[user.ID] = user
	return nil
}

func (tx *memTx) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) error {
	tx.wallets[userID] = tx.wallets[userID].Add(delta)
	return nil
}

func (tx *memTx) InsertTrade(_ context.Context, trade *model.Trade) error {
	if _, ok := tx.trades[trade.ID]; ok {
		return fmt.Errorf("trade %s already exists", trade.ID)
	}
	stored := *trade
	stored.Contents = append([]model.TradeContent(nil), trade.Contents...)
	tx.trades[trade.ID] = &stored
	return nil
}

func (tx *memTx) SetTradeResponse(_ context.Context, tradeID string, accepted bool, at time.Time) error {
	t, ok := tx.trades[tradeID]
	if !ok || !t.Pending() {
		return ErrNotFound
	}
	updated := *t
	updated.Response = &accepted
	updated.ResponseDate = &at
	tx.trades[tradeID] = &updated
	return nil
}

func (tx *memTx) DeleteTrade(_ context.Context, tradeID string) error {
	if _, ok := tx.trades[tradeID]; !ok {
		return ErrNotFound
	}
	delete(tx.trades, tradeID)
	return nil
}
