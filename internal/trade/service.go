// Package trade implements the trade offer lifecycle: create, accept,
// reject and cancel, plus the sent/received query surface.
//
// Every transition runs in one store unit of work. Cache writes and
// notifications happen only after that unit of work commits.
//
// All monetary values use shopspring/decimal; money is never a float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/apperr"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/inventory"
	"github.com/atmx/item-exchange/internal/metrics"
	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/store"
)

// Service handles trade offers.
type Service struct {
	store     store.Store
	aside     *cache.Aside
	inventory *inventory.Engine
	wallet    Wallet
	catalog   Catalog
	identity  Identity
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a trade service.
func NewService(st store.Store, aside *cache.Aside, inv *inventory.Engine, wallet Wallet,
	catalog Catalog, identity Identity, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		store:     st,
		aside:     aside,
		inventory: inv,
		wallet:    wallet,
		catalog:   catalog,
		identity:  identity,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateTradeOffer sends an offer of items from senderID to targetID.
// Every line is checked and reserved before anything is written; if one
// line fails, no line stays locked.
func (s *Service) CreateTradeOffer(ctx context.Context, senderID, targetID string, lines []OfferLine) (*TradeOffer, error) {
	t, err := s.createTradeOffer(ctx, senderID, targetID, lines)
	metrics.TradeTransitions.WithLabelValues("created", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, s.fail("create", "", err)
	}
	s.logger.Info("trade offer created",
		zap.String("trade_id", t.ID),
		zap.String("sender_id", senderID),
		zap.String("receiver_id", targetID),
		zap.Int("lines", len(t.Contents)))
	return s.offer(ctx, t), nil
}

func (s *Service) createTradeOffer(ctx context.Context, senderID, targetID string, lines []OfferLine) (*model.Trade, error) {
	switch {
	case senderID == "" || targetID == "":
		return nil, apperr.Validation("sender and target are required")
	case senderID == targetID:
		return nil, apperr.Validation("you cannot trade with yourself")
	case len(lines) == 0:
		return nil, apperr.Validation("invalid input data: no items offered")
	}
	if _, err := s.identity.DisplayName(ctx, targetID); err != nil {
		return nil, err
	}

	var problems []string
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		switch {
		case l.ItemID == "":
			problems = append(problems, "item id is required")
			continue
		case seen[l.ItemID]:
			problems = append(problems, l.ItemID+": duplicate item")
			continue
		}
		seen[l.ItemID] = true
		if l.Quantity < 1 {
			problems = append(problems, l.ItemID+": quantity must be at least 1")
		}
		if l.Price.IsNegative() {
			problems = append(problems, l.ItemID+": price cannot be negative")
		}
		if _, err := s.catalog.GetItem(ctx, l.ItemID); err != nil {
			if !apperr.Is(err, apperr.KindNotFound) {
				return nil, err
			}
			problems = append(problems, l.ItemID+": item not found")
		}
	}
	if len(problems) > 0 {
		return nil, invalidInput(problems)
	}

	t := &model.Trade{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: targetID,
		SentDate:   s.now(),
	}
	for _, l := range lines {
		t.Contents = append(t.Contents, model.TradeContent{
			TradeID:  t.ID,
			ItemID:   l.ItemID,
			Quantity: l.Quantity,
			Price:    l.Price,
		})
	}
	sort.Slice(t.Contents, func(i, j int) bool { return t.Contents[i].ItemID < t.Contents[j].ItemID })

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		inv := s.inventory.In(tx)

		// Phase one: every line must be coverable.
		for _, c := range t.Contents {
			ok, err := inv.Has(ctx, senderID, c.ItemID, c.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				problems = append(problems, c.ItemID+": not enough free items")
			}
		}
		if len(problems) > 0 {
			return invalidInput(problems)
		}

		// Phase two: reserve. A failure here rolls back earlier locks.
		for _, c := range t.Contents {
			if err := inv.Lock(ctx, senderID, c.ItemID, c.Quantity); err != nil {
				return err
			}
		}
		if err := tx.InsertTrade(ctx, t); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
		tx.AfterCommit(func(ctx context.Context) {
			s.cacheTrade(ctx, t)
			s.notifier.NotifyUser(ctx, t.ReceiverID, CategoryOffer, t.ID, s.offer(ctx, t))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func invalidInput(problems []string) error {
	return apperr.Validation("invalid input data: " + strings.Join(problems, "; "))
}

// AcceptTradeOffer settles a pending offer addressed to userID: the
// receiver pays the summed line prices and the sender's locked items
// change hands. All of it commits together or not at all.
func (s *Service) AcceptTradeOffer(ctx context.Context, tradeID, userID string) (*Settlement, error) {
	start := time.Now()
	settlement, err := s.acceptTradeOffer(ctx, tradeID, userID)
	metrics.TradeTransitions.WithLabelValues("accepted", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, s.fail("accept", tradeID, err)
	}
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	s.logger.Info("trade offer accepted",
		zap.String("trade_id", tradeID),
		zap.String("receiver_id", userID),
		zap.String("total", settlement.Total.String()))
	return settlement, nil
}

func (s *Service) acceptTradeOffer(ctx context.Context, tradeID, userID string) (*Settlement, error) {
	if err := s.precheck(ctx, tradeID, userID, receiver); err != nil {
		return nil, err
	}

	var settled *model.Trade
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := s.lockTrade(ctx, tx, tradeID, userID, receiver)
		if err != nil {
			return err
		}

		amount := total(t.Contents)
		balance, err := s.wallet.Balance(ctx, tx, t.ReceiverID)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", t.ReceiverID, err)
		}
		if balance.LessThan(amount) {
			return apperr.Conflict("insufficient funds")
		}

		inv := s.inventory.In(tx)
		at := s.now()
		steps := []struct {
			name string
			run  func() error
		}{
			{"take cash from receiver", func() error {
				return s.wallet.Take(ctx, tx, t.ReceiverID, amount)
			}},
			{"unlock sender items", func() error {
				for _, c := range t.Contents {
					if err := inv.Unlock(ctx, t.SenderID, c.ItemID, c.Quantity); err != nil {
						return err
					}
				}
				return nil
			}},
			{"give items to receiver", func() error {
				for _, c := range t.Contents {
					if _, err := inv.Add(ctx, t.ReceiverID, c.ItemID, c.Quantity); err != nil {
						return err
					}
				}
				return nil
			}},
			{"take items from sender", func() error {
				for _, c := range t.Contents {
					if _, err := inv.Drop(ctx, t.SenderID, c.ItemID, c.Quantity); err != nil {
						return err
					}
				}
				return nil
			}},
			{"give cash to sender", func() error {
				return s.wallet.Give(ctx, tx, t.SenderID, amount)
			}},
			{"record response", func() error {
				return tx.SetTradeResponse(ctx, t.ID, true, at)
			}},
		}
		for i, step := range steps {
			if err := step.run(); err != nil {
				// Any failed step is a broken invariant, not a user error.
				return apperr.Internal(fmt.Errorf("settle %s step %d (%s): %w", t.ID, i+1, step.name, err))
			}
		}

		accepted := true
		t.Response = &accepted
		t.ResponseDate = &at
		settled = t
		tx.AfterCommit(func(ctx context.Context) {
			s.refreshTrade(ctx, t)
			s.notifier.NotifyUser(ctx, t.SenderID, CategoryAccepted, t.ID, s.offer(ctx, t))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	offer := s.offer(ctx, settled)
	return &Settlement{
		TradeID:      settled.ID,
		SenderID:     settled.SenderID,
		SenderName:   offer.SenderName,
		ReceiverID:   settled.ReceiverID,
		Items:        offer.Items,
		Total:        offer.Total,
		SentDate:     settled.SentDate,
		ResponseDate: *settled.ResponseDate,
	}, nil
}

// RejectTradeOffer declines a pending offer addressed to userID and
// releases the sender's locked items.
func (s *Service) RejectTradeOffer(ctx context.Context, tradeID, userID string) (*TradeOffer, error) {
	t, err := s.rejectTradeOffer(ctx, tradeID, userID)
	metrics.TradeTransitions.WithLabelValues("rejected", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, s.fail("reject", tradeID, err)
	}
	s.logger.Info("trade offer rejected", zap.String("trade_id", tradeID), zap.String("receiver_id", userID))
	return s.offer(ctx, t), nil
}

func (s *Service) rejectTradeOffer(ctx context.Context, tradeID, userID string) (*model.Trade, error) {
	if err := s.precheck(ctx, tradeID, userID, receiver); err != nil {
		return nil, err
	}

	var rejected *model.Trade
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := s.lockTrade(ctx, tx, tradeID, userID, receiver)
		if err != nil {
			return err
		}
		if err := s.release(ctx, tx, t); err != nil {
			return err
		}
		at := s.now()
		if err := tx.SetTradeResponse(ctx, t.ID, false, at); err != nil {
			return fmt.Errorf("record rejection of %s: %w", t.ID, err)
		}

		accepted := false
		t.Response = &accepted
		t.ResponseDate = &at
		rejected = t
		tx.AfterCommit(func(ctx context.Context) {
			s.refreshTrade(ctx, t)
			s.notifier.NotifyUser(ctx, t.SenderID, CategoryRejected, t.ID, s.offer(ctx, t))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// CancelTradeOffer withdraws a pending offer sent by userID. The trade and
// its lines are deleted.
func (s *Service) CancelTradeOffer(ctx context.Context, tradeID, userID string) error {
	err := s.cancelTradeOffer(ctx, tradeID, userID)
	metrics.TradeTransitions.WithLabelValues("cancelled", metrics.Outcome(err)).Inc()
	if err != nil {
		return s.fail("cancel", tradeID, err)
	}
	s.logger.Info("trade offer cancelled", zap.String("trade_id", tradeID), zap.String("sender_id", userID))
	return nil
}

func (s *Service) cancelTradeOffer(ctx context.Context, tradeID, userID string) error {
	if err := s.precheck(ctx, tradeID, userID, sender); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := s.lockTrade(ctx, tx, tradeID, userID, sender)
		if err != nil {
			return err
		}
		if err := s.release(ctx, tx, t); err != nil {
			return err
		}
		if err := tx.DeleteTrade(ctx, t.ID); err != nil {
			return fmt.Errorf("delete trade %s: %w", t.ID, err)
		}
		tx.AfterCommit(func(ctx context.Context) {
			s.evictTrade(ctx, t)
			s.notifier.NotifyUser(ctx, t.ReceiverID, CategoryCancelled, t.ID, map[string]string{"trade_id": t.ID})
		})
		return nil
	})
}

// release unlocks every line of t on the sender's side.
func (s *Service) release(ctx context.Context, tx store.Tx, t *model.Trade) error {
	inv := s.inventory.In(tx)
	for _, c := range t.Contents {
		if err := inv.Unlock(ctx, t.SenderID, c.ItemID, c.Quantity); err != nil {
			return fmt.Errorf("release %s of trade %s: %w", c.ItemID, t.ID, err)
		}
	}
	return nil
}

// --- Party checks ---

type party int

const (
	sender party = iota
	receiver
)

func notFoundFor(p party) error {
	if p == sender {
		return apperr.NotFound("trade not found or already cancelled")
	}
	return apperr.NotFound("trade not found")
}

func checkParty(t *model.Trade, userID string, p party) error {
	if p == receiver && t.ReceiverID != userID {
		return apperr.Conflict("you are not the receiver of this trade")
	}
	if p == sender && t.SenderID != userID {
		return apperr.Conflict("you are not the sender of this trade")
	}
	if !t.Pending() {
		return apperr.Conflict("trade already responded")
	}
	return nil
}

// precheck rejects obviously invalid transitions from the cached header
// before opening a unit of work. A cached terminal state is final, so only
// a cached pending state can be stale, and lockTrade re-checks that.
func (s *Service) precheck(ctx context.Context, tradeID, userID string, p party) error {
	if tradeID == "" || userID == "" {
		return apperr.Validation("trade id and user id are required")
	}
	t, err := s.header(ctx, tradeID)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundFor(p)
	}
	if err != nil {
		return err
	}
	return checkParty(t, userID, p)
}

// lockTrade reads the trade authoritatively inside tx, locking its row.
func (s *Service) lockTrade(ctx context.Context, tx store.Tx, tradeID, userID string, p party) (*model.Trade, error) {
	t, err := tx.GetTrade(ctx, tradeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundFor(p)
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", tradeID, err)
	}
	if err := checkParty(t, userID, p); err != nil {
		return nil, err
	}
	return t, nil
}

// fail logs internal failures and makes sure every error leaving the
// service carries an apperr kind.
func (s *Service) fail(op, tradeID string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.KindInternal {
		return err
	}
	s.logger.Error("trade unit of work failed", zap.String("op", op), zap.String("trade_id", tradeID), zap.Error(err))
	if ae != nil {
		return err
	}
	return apperr.Internal(err)
}

// offer renders t for either party. Name lookups that fail fall back to ids.
func (s *Service) offer(ctx context.Context, t *model.Trade) *TradeOffer {
	o := &TradeOffer{
		TradeID:      t.ID,
		SenderID:     t.SenderID,
		SenderName:   s.displayName(ctx, t.SenderID),
		ReceiverID:   t.ReceiverID,
		ReceiverName: s.displayName(ctx, t.ReceiverID),
		Status:       status(t),
		Items:        make([]OfferItem, 0, len(t.Contents)),
		Total:        total(t.Contents),
		SentDate:     t.SentDate,
		ResponseDate: t.ResponseDate,
	}
	for _, c := range t.Contents {
		o.Items = append(o.Items, OfferItem{
			ItemID:   c.ItemID,
			Name:     s.catalog.GetName(ctx, c.ItemID),
			Quantity: c.Quantity,
			Price:    c.Price,
		})
	}
	return o
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	name, err := s.identity.DisplayName(ctx, userID)
	if err != nil || name == "" {
		return userID
	}
	return name
}
