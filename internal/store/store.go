// Package store defines the persistence interface for the item exchange.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development). Every mutation happens inside a unit of work
// opened with WithTx.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/item-exchange/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Queries are the reads available both on the store and inside a unit of
// work. Inside a unit of work, reads of mutable rows lock them until commit.
type Queries interface {
	// --- Inventory rows ---

	// GetOwnedItem returns the ownership row or ErrNotFound.
	GetOwnedItem(ctx context.Context, userID, itemID string) (*model.OwnedItem, error)

	// GetLockedItem returns the lock row or ErrNotFound.
	GetLockedItem(ctx context.Context, userID, itemID string) (*model.LockedItem, error)

	// ListOwnedItems returns every ownership row of a user.
	ListOwnedItems(ctx context.Context, userID string) ([]model.OwnedItem, error)

	// ListOwnersOfItem returns the ids of users owning an item.
	ListOwnersOfItem(ctx context.Context, itemID string) ([]string, error)

	// --- Collaborator rows ---

	// GetCatalogItem returns an item's metadata or ErrNotFound.
	GetCatalogItem(ctx context.Context, itemID string) (*model.CatalogItem, error)

	// GetUser returns a user or ErrNotFound.
	GetUser(ctx context.Context, userID string) (*model.User, error)

	// GetBalance returns a user's wallet balance; no wallet row is zero.
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// --- Trades ---

	// GetTrade returns a trade with its line items or ErrNotFound.
	GetTrade(ctx context.Context, tradeID string) (*model.Trade, error)

	// ListTradeContents returns a trade's line items ordered by item id.
	ListTradeContents(ctx context.Context, tradeID string) ([]model.TradeContent, error)

	// ListSentTradeIDs returns the ids of trades a user sent.
	ListSentTradeIDs(ctx context.Context, userID string) ([]string, error)

	// ListReceivedTradeIDs returns the ids of trades a user received.
	ListReceivedTradeIDs(ctx context.Context, userID string) ([]string, error)

	// ListTradesUsingItem returns the ids of trades with a line for itemID.
	ListTradesUsingItem(ctx context.Context, itemID string) ([]string, error)
}

// Tx is an open unit of work. Nothing it writes is visible to other
// sessions until WithTx commits; a returned error rolls everything back.
type Tx interface {
	Queries

	// --- Inventory rows ---

	PutOwnedItem(ctx context.Context, item model.OwnedItem) error
	DeleteOwnedItem(ctx context.Context, userID, itemID string) error
	PutLockedItem(ctx context.Context, item model.LockedItem) error
	DeleteLockedItem(ctx context.Context, userID, itemID string) error

	// --- Collaborator rows ---

	CreateCatalogItem(ctx context.Context, item model.CatalogItem) error
	DeleteCatalogItem(ctx context.Context, itemID string) error
	PutUser(ctx context.Context, user model.User) error

	// AdjustBalance adds delta (possibly negative) to a wallet, creating it.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error

	// --- Trades ---

	// InsertTrade persists the trade, its sent/received index rows and
	// its line items.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// SetTradeResponse records the response of a pending trade.
	SetTradeResponse(ctx context.Context, tradeID string, accepted bool, at time.Time) error

	// DeleteTrade removes the trade and, by cascade, its index rows and lines.
	DeleteTrade(ctx context.Context, tradeID string) error

	// AfterCommit registers fn to run once the unit of work has committed.
	// Hooks never run for a rolled-back unit of work.
	AfterCommit(fn func(ctx context.Context))
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// the cache package layers read-through caching on top of it.
type Store interface {
	Queries

	// WithTx runs fn in a unit of work, commits when fn returns nil and
	// then runs the registered AfterCommit hooks in order.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// hooks collects AfterCommit callbacks for one unit of work.
type hooks []func(ctx context.Context)

func (h *hooks) add(fn func(ctx context.Context)) { *h = append(*h, fn) }

// run fires the hooks with a context that outlives request cancellation,
// so a client disconnect right after commit cannot skip cache upkeep.
func (h hooks) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, fn := range h {
		fn(ctx)
	}
}
