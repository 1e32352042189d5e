package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/apperr"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/store"
)

// Session runs inventory mutations inside an open unit of work. Reads go
// straight to the transaction, which locks the rows it touches, and cache
// keys are invalidated only after the unit of work commits.
type Session struct {
	e  *Engine
	tx store.Tx
}

// In binds the engine to tx.
func (e *Engine) In(tx store.Tx) *Session {
	return &Session{e: e, tx: tx}
}

// quantities returns the owned and locked amounts of a pair; a missing
// row is zero.
func (s *Session) quantities(ctx context.Context, userID, itemID string) (owned, locked int64, err error) {
	o, err := s.tx.GetOwnedItem(ctx, userID, itemID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return 0, 0, fmt.Errorf("get owned %s/%s: %w", userID, itemID, err)
	default:
		owned = o.Quantity
	}

	l, err := s.tx.GetLockedItem(ctx, userID, itemID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return 0, 0, fmt.Errorf("get locked %s/%s: %w", userID, itemID, err)
	default:
		locked = l.Quantity
	}
	return owned, locked, nil
}

// Free returns owned minus locked.
func (s *Session) Free(ctx context.Context, userID, itemID string) (int64, error) {
	if err := checkIDs(userID, itemID); err != nil {
		return 0, err
	}
	owned, locked, err := s.quantities(ctx, userID, itemID)
	if err != nil {
		return 0, err
	}
	return owned - locked, nil
}

// Has reports whether at least qty units are free.
func (s *Session) Has(ctx context.Context, userID, itemID string, qty int64) (bool, error) {
	if qty < 1 {
		return false, nil
	}
	free, err := s.Free(ctx, userID, itemID)
	if err != nil {
		return false, err
	}
	return free >= qty, nil
}

// Add creates or grows the ownership row and returns the new free quantity.
func (s *Session) Add(ctx context.Context, userID, itemID string, qty int64) (int64, error) {
	if err := checkIDs(userID, itemID); err != nil {
		return 0, err
	}
	switch {
	case qty < 0:
		return 0, apperr.Validation("quantity cannot be negative")
	case qty == 0:
		return 0, apperr.Validation("quantity cannot be zero")
	}
	// Resolved through tx: a store read from here would wait on the unit
	// of work that is already open.
	if _, err := s.tx.GetCatalogItem(ctx, itemID); errors.Is(err, store.ErrNotFound) {
		return 0, apperr.NotFound("item not found")
	} else if err != nil {
		return 0, fmt.Errorf("get catalog item %s: %w", itemID, err)
	}

	owned, locked, err := s.quantities(ctx, userID, itemID)
	if err != nil {
		return 0, err
	}
	owned += qty
	if err := s.tx.PutOwnedItem(ctx, model.OwnedItem{UserID: userID, ItemID: itemID, Quantity: owned}); err != nil {
		return 0, fmt.Errorf("put owned %s/%s: %w", userID, itemID, err)
	}
	s.invalidate(userID, itemID)
	s.e.logger.Debug("item added",
		zap.String("user_id", userID), zap.String("item_id", itemID), zap.Int64("quantity", qty))
	return owned - locked, nil
}

// Drop shrinks the ownership row by qty free units, deleting it at zero.
// Returns the new free quantity.
func (s *Session) Drop(ctx context.Context, userID, itemID string, qty int64) (int64, error) {
	if err := checkIDs(userID, itemID); err != nil {
		return 0, err
	}
	if qty < 1 {
		return 0, apperr.Validation("quantity must be at least 1")
	}
	owned, locked, err := s.quantities(ctx, userID, itemID)
	if err != nil {
		return 0, err
	}
	if owned == 0 {
		return 0, apperr.NotFound("item not found in inventory")
	}
	if qty > owned-locked {
		return 0, apperr.Conflict("cannot drop more than you have")
	}

	remaining := owned - qty
	if remaining == 0 {
		err = s.tx.DeleteOwnedItem(ctx, userID, itemID)
	} else {
		err = s.tx.PutOwnedItem(ctx, model.OwnedItem{UserID: userID, ItemID: itemID, Quantity: remaining})
	}
	if err != nil {
		return 0, fmt.Errorf("drop %s/%s: %w", userID, itemID, err)
	}
	s.invalidate(userID, itemID)
	s.e.logger.Debug("item dropped",
		zap.String("user_id", userID), zap.String("item_id", itemID), zap.Int64("quantity", qty))
	return remaining - locked, nil
}

// Lock pledges qty free units. The ownership row is never removed.
func (s *Session) Lock(ctx context.Context, userID, itemID string, qty int64) error {
	if err := checkIDs(userID, itemID); err != nil {
		return err
	}
	if qty < 1 {
		return apperr.Validation("quantity must be at least 1")
	}
	owned, locked, err := s.quantities(ctx, userID, itemID)
	if err != nil {
		return err
	}
	if owned-locked < qty {
		return apperr.Conflict("not enough free items to lock")
	}
	if err := s.tx.PutLockedItem(ctx, model.LockedItem{UserID: userID, ItemID: itemID, Quantity: locked + qty}); err != nil {
		return fmt.Errorf("lock %s/%s: %w", userID, itemID, err)
	}
	s.invalidate(userID, itemID)
	return nil
}

// Unlock releases qty pledged units, deleting the lock row at zero.
func (s *Session) Unlock(ctx context.Context, userID, itemID string, qty int64) error {
	if err := checkIDs(userID, itemID); err != nil {
		return err
	}
	if qty < 1 {
		return apperr.Validation("quantity must be at least 1")
	}
	_, locked, err := s.quantities(ctx, userID, itemID)
	if err != nil {
		return err
	}
	if qty > locked {
		return apperr.Conflict("cannot unlock more than is locked")
	}
	if locked == qty {
		err = s.tx.DeleteLockedItem(ctx, userID, itemID)
	} else {
		err = s.tx.PutLockedItem(ctx, model.LockedItem{UserID: userID, ItemID: itemID, Quantity: locked - qty})
	}
	if err != nil {
		return fmt.Errorf("unlock %s/%s: %w", userID, itemID, err)
	}
	s.invalidate(userID, itemID)
	return nil
}

// invalidate drops the pair's cache keys once the unit of work commits.
// The inventory list marker goes too, since the list scan would otherwise
// trust a prefix that is missing this pair.
func (s *Session) invalidate(userID, itemID string) {
	keys := []string{
		cache.InventoryItemKey(userID, itemID),
		cache.LockedAmountKey(userID, itemID),
		cache.Marker(cache.InventoryItemsPrefix(userID)),
	}
	s.tx.AfterCommit(func(ctx context.Context) {
		s.e.aside.Invalidate(ctx, keys...)
	})
}
