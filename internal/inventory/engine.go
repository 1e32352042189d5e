// Package inventory tracks how many of each item a user owns and how many of
// those are pledged to open trade offers. The free quantity of a pair is
// owned minus locked and is never stored.
//
// Every mutation runs in a store unit of work. The trade package composes
// several mutations into one unit of work through In(tx).
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/apperr"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/metrics"
	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/store"
)

// Catalog resolves item metadata.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (*model.CatalogItem, error)
}

// InventoryItem is one inventory line as shown to its owner. Quantity is
// the free quantity.
type InventoryItem struct {
	ItemID      string `json:"item_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
}

// Engine implements the inventory operations.
type Engine struct {
	store   store.Store
	aside   *cache.Aside
	catalog Catalog
	logger  *zap.Logger
}

// NewEngine creates an inventory engine.
func NewEngine(st store.Store, aside *cache.Aside, catalog Catalog, logger *zap.Logger) *Engine {
	return &Engine{store: st, aside: aside, catalog: catalog, logger: logger}
}

func checkIDs(userID, itemID string) error {
	if userID == "" {
		return apperr.Validation("user id is required")
	}
	if itemID == "" {
		return apperr.Validation("item id is required")
	}
	return nil
}

// --- Reads ---

// HasItem reports whether userID has at least qty free units of itemID.
func (e *Engine) HasItem(ctx context.Context, userID, itemID string, qty int64) (bool, error) {
	if err := checkIDs(userID, itemID); err != nil {
		return false, err
	}
	if qty < 1 {
		return false, nil
	}
	free, err := e.free(ctx, userID, itemID)
	if err != nil {
		return false, err
	}
	return free >= qty, nil
}

// GetLockedAmount returns how many units of itemID userID has pledged.
func (e *Engine) GetLockedAmount(ctx context.Context, userID, itemID string) (int64, error) {
	if err := checkIDs(userID, itemID); err != nil {
		return 0, err
	}
	return e.locked(ctx, userID, itemID)
}

// GetItem returns the free quantity of itemID together with its catalog
// data. NotFound when the user owns none.
func (e *Engine) GetItem(ctx context.Context, userID, itemID string) (*InventoryItem, error) {
	if err := checkIDs(userID, itemID); err != nil {
		return nil, err
	}
	owned, err := e.owned(ctx, userID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("item not found in inventory")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return e.describe(ctx, *owned)
}

// ListItems returns the user's inventory sorted by item name. A non-empty
// search keeps only items whose name starts with it, ignoring case.
func (e *Engine) ListItems(ctx context.Context, userID, search string) ([]InventoryItem, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	rows, err := cache.ReadPrefix(ctx, e.aside, cache.InventoryItemsPrefix(userID),
		func(o model.OwnedItem) string { return cache.InventoryItemKey(o.UserID, o.ItemID) },
		func(ctx context.Context) ([]model.OwnedItem, error) {
			return e.store.ListOwnedItems(ctx, userID)
		})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	search = strings.ToLower(search)
	out := make([]InventoryItem, 0, len(rows))
	for _, row := range rows {
		item, err := e.describe(ctx, row)
		if apperr.Is(err, apperr.KindNotFound) {
			// Catalog item deleted underneath a stale cache entry.
			continue
		}
		if err != nil {
			return nil, err
		}
		if search != "" && !strings.HasPrefix(strings.ToLower(item.Name), search) {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// GetUsersOwningItem returns the ids of every user owning itemID.
func (e *Engine) GetUsersOwningItem(ctx context.Context, itemID string) ([]string, error) {
	if itemID == "" {
		return nil, apperr.Validation("item id is required")
	}
	users, err := e.store.ListOwnersOfItem(ctx, itemID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return users, nil
}

func (e *Engine) describe(ctx context.Context, row model.OwnedItem) (*InventoryItem, error) {
	meta, err := e.catalog.GetItem(ctx, row.ItemID)
	if err != nil {
		return nil, err
	}
	locked, err := e.locked(ctx, row.UserID, row.ItemID)
	if err != nil {
		return nil, err
	}
	return &InventoryItem{
		ItemID:      row.ItemID,
		Name:        meta.Name,
		Description: meta.Description,
		Quantity:    row.Quantity - locked,
	}, nil
}

// owned reads the ownership row through the cache.
func (e *Engine) owned(ctx context.Context, userID, itemID string) (*model.OwnedItem, error) {
	row, err := cache.ReadThrough(ctx, e.aside, cache.InventoryItemKey(userID, itemID), true,
		func(ctx context.Context) (model.OwnedItem, error) {
			o, err := e.store.GetOwnedItem(ctx, userID, itemID)
			if err != nil {
				return model.OwnedItem{}, err
			}
			return *o, nil
		})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// locked reads the locked amount through the cache; no row is zero.
func (e *Engine) locked(ctx context.Context, userID, itemID string) (int64, error) {
	n, err := cache.ReadThrough(ctx, e.aside, cache.LockedAmountKey(userID, itemID), true,
		func(ctx context.Context) (int64, error) {
			l, err := e.store.GetLockedItem(ctx, userID, itemID)
			if errors.Is(err, store.ErrNotFound) {
				return 0, nil
			}
			if err != nil {
				return 0, err
			}
			return l.Quantity, nil
		})
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

func (e *Engine) free(ctx context.Context, userID, itemID string) (int64, error) {
	owned, err := e.owned(ctx, userID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Internal(err)
	}
	locked, err := e.locked(ctx, userID, itemID)
	if err != nil {
		return 0, err
	}
	return owned.Quantity - locked, nil
}

// --- Mutations ---

// AddItem gives userID qty units of itemID and returns the new inventory line.
func (e *Engine) AddItem(ctx context.Context, userID, itemID string, qty int64) (*InventoryItem, error) {
	var free int64
	err := e.mutate(ctx, "add", func(s *Session) (err error) {
		free, err = s.Add(ctx, userID, itemID, qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.line(ctx, itemID, free)
}

// DropItem removes qty free units of itemID from userID.
func (e *Engine) DropItem(ctx context.Context, userID, itemID string, qty int64) (*InventoryItem, error) {
	var free int64
	err := e.mutate(ctx, "drop", func(s *Session) (err error) {
		free, err = s.Drop(ctx, userID, itemID, qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.line(ctx, itemID, free)
}

// LockItem pledges qty free units of itemID.
func (e *Engine) LockItem(ctx context.Context, userID, itemID string, qty int64) error {
	return e.mutate(ctx, "lock", func(s *Session) error {
		return s.Lock(ctx, userID, itemID, qty)
	})
}

// UnlockItem releases qty pledged units of itemID.
func (e *Engine) UnlockItem(ctx context.Context, userID, itemID string, qty int64) error {
	return e.mutate(ctx, "unlock", func(s *Session) error {
		return s.Unlock(ctx, userID, itemID, qty)
	})
}

// PurgeItem removes every ownership and lock row of itemID inside tx. The
// catalog calls it before deleting the item itself.
func (e *Engine) PurgeItem(ctx context.Context, tx store.Tx, itemID string) error {
	owners, err := tx.ListOwnersOfItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("list owners of %s: %w", itemID, err)
	}
	for _, userID := range owners {
		if err := tx.DeleteLockedItem(ctx, userID, itemID); err != nil {
			return fmt.Errorf("purge lock %s/%s: %w", userID, itemID, err)
		}
		if err := tx.DeleteOwnedItem(ctx, userID, itemID); err != nil {
			return fmt.Errorf("purge item %s/%s: %w", userID, itemID, err)
		}
		e.In(tx).invalidate(userID, itemID)
	}
	e.logger.Info("inventory purged", zap.String("item_id", itemID), zap.Int("owners", len(owners)))
	return nil
}

func (e *Engine) mutate(ctx context.Context, op string, fn func(s *Session) error) error {
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		return fn(e.In(tx))
	})
	metrics.InventoryOps.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		e.logger.Error("inventory unit of work failed", zap.String("op", op), zap.Error(err))
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Internal(err)
		}
	}
	return err
}

func (e *Engine) line(ctx context.Context, itemID string, free int64) (*InventoryItem, error) {
	meta, err := e.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return &InventoryItem{
		ItemID:      itemID,
		Name:        meta.Name,
		Description: meta.Description,
		Quantity:    free,
	}, nil
}
