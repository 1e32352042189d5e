// Package catalog serves item metadata and user display names. Items are
// read through items:{id}; deleting an item cascades to every inventory row
// holding it and is refused while a pending trade offer still carries it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/apperr"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/store"
)

// Purger removes every inventory row of an item inside a unit of work.
type Purger interface {
	PurgeItem(ctx context.Context, tx store.Tx, itemID string) error
}

// Service is the catalog and identity collaborator.
type Service struct {
	store  store.Store
	aside  *cache.Aside
	purger Purger
	logger *zap.Logger
}

// NewService creates a catalog service. The purger is set later with
// SetPurger because the inventory engine itself depends on the catalog.
func NewService(st store.Store, aside *cache.Aside, logger *zap.Logger) *Service {
	return &Service{store: st, aside: aside, logger: logger}
}

// SetPurger wires the inventory cascade used by DeleteItem.
func (s *Service) SetPurger(p Purger) { s.purger = p }

// GetItem returns an item's metadata. NotFound when the item is unknown.
func (s *Service) GetItem(ctx context.Context, itemID string) (*model.CatalogItem, error) {
	item, err := cache.ReadThrough(ctx, s.aside, cache.ItemKey(itemID), true,
		func(ctx context.Context) (model.CatalogItem, error) {
			it, err := s.store.GetCatalogItem(ctx, itemID)
			if err != nil {
				return model.CatalogItem{}, err
			}
			return *it, nil
		})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("item not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &item, nil
}

// GetName returns an item's name, or its id when the lookup fails.
func (s *Service) GetName(ctx context.Context, itemID string) string {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return itemID
	}
	return item.Name
}

// CreateItem adds an item to the catalog. An empty id gets a fresh one.
func (s *Service) CreateItem(ctx context.Context, item model.CatalogItem) (*model.CatalogItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return nil, apperr.Validation("item name is required")
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCatalogItem(ctx, item.ID); err == nil {
			return apperr.Conflict("item already exists")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.CreateCatalogItem(ctx, item); err != nil {
			return err
		}
		tx.AfterCommit(func(ctx context.Context) {
			s.aside.Put(ctx, cache.ItemKey(item.ID), item)
		})
		return nil
	})
	if err != nil {
		return nil, s.fail("create", item.ID, err)
	}
	s.logger.Info("catalog item created", zap.String("item_id", item.ID), zap.String("name", item.Name))
	return &item, nil
}

// DeleteItem removes an item and every inventory row holding it.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	used, err := s.aside.Members(ctx, cache.UsedItemsKey(itemID), func(ctx context.Context) ([]string, error) {
		return s.pendingTradesUsing(ctx, s.store, itemID)
	})
	if err != nil {
		return apperr.Internal(err)
	}
	for _, tradeID := range used {
		t, err := s.store.GetTrade(ctx, tradeID)
		if err == nil && t.Pending() {
			return apperr.Conflict("item is part of a pending trade")
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return apperr.Internal(err)
		}
		s.aside.RemoveMembers(ctx, cache.UsedItemsKey(itemID), tradeID)
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCatalogItem(ctx, itemID); errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("item not found")
		} else if err != nil {
			return err
		}
		// The set may lag behind a trade created moments ago.
		pending, err := s.pendingTradesUsing(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return apperr.Conflict("item is part of a pending trade")
		}
		if s.purger != nil {
			if err := s.purger.PurgeItem(ctx, tx, itemID); err != nil {
				return err
			}
		}
		if err := tx.DeleteCatalogItem(ctx, itemID); err != nil {
			return err
		}
		tx.AfterCommit(func(ctx context.Context) {
			s.aside.Invalidate(ctx, cache.ItemKey(itemID), cache.UsedItemsKey(itemID))
		})
		return nil
	})
	if err != nil {
		return s.fail("delete", itemID, err)
	}
	s.logger.Info("catalog item deleted", zap.String("item_id", itemID))
	return nil
}

// pendingTradesUsing returns the ids of pending trades with a line for itemID.
func (s *Service) pendingTradesUsing(ctx context.Context, q store.Queries, itemID string) ([]string, error) {
	ids, err := q.ListTradesUsingItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list trades using %s: %w", itemID, err)
	}
	var pending []string
	for _, id := range ids {
		t, err := q.GetTrade(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get trade %s: %w", id, err)
		}
		if t.Pending() {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// --- Identity ---

// PutUser creates or renames a user.
func (s *Service) PutUser(ctx context.Context, user model.User) error {
	if user.ID == "" {
		return apperr.Validation("user id is required")
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.PutUser(ctx, user)
	})
	if err != nil {
		return s.fail("put user", user.ID, err)
	}
	return nil
}

// DisplayName returns a user's display name. NotFound when the user is unknown.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.NotFound("user not found")
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	return u.DisplayName, nil
}

func (s *Service) fail(op, id string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.KindInternal {
		return err
	}
	s.logger.Error("catalog unit of work failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
	if ae != nil {
		return err
	}
	return apperr.Internal(err)
}
