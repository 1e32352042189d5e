package trade

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/apperr"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/store"
)

// GetSentTradeOffers returns the pending offers userID sent.
func (s *Service) GetSentTradeOffers(ctx context.Context, userID string) ([]TradeOffer, error) {
	return s.list(ctx, userID, sender, true)
}

// GetReceivedTradeOffers returns the pending offers addressed to userID.
func (s *Service) GetReceivedTradeOffers(ctx context.Context, userID string) ([]TradeOffer, error) {
	return s.list(ctx, userID, receiver, true)
}

// GetRespondedSentTradeOffers returns the accepted or rejected offers userID sent.
func (s *Service) GetRespondedSentTradeOffers(ctx context.Context, userID string) ([]TradeOffer, error) {
	return s.list(ctx, userID, sender, false)
}

// GetRespondedReceivedTradeOffers returns the accepted or rejected offers
// addressed to userID.
func (s *Service) GetRespondedReceivedTradeOffers(ctx context.Context, userID string) ([]TradeOffer, error) {
	return s.list(ctx, userID, receiver, false)
}

// GetSentTradeOffer returns one offer sent by userID.
func (s *Service) GetSentTradeOffer(ctx context.Context, userID, tradeID string) (*TradeOffer, error) {
	return s.single(ctx, userID, tradeID, sender)
}

// GetReceivedTradeOffer returns one offer addressed to userID.
func (s *Service) GetReceivedTradeOffer(ctx context.Context, userID, tradeID string) (*TradeOffer, error) {
	return s.single(ctx, userID, tradeID, receiver)
}

func (s *Service) single(ctx context.Context, userID, tradeID string, p party) (*TradeOffer, error) {
	if userID == "" || tradeID == "" {
		return nil, apperr.Validation("trade id and user id are required")
	}
	t, err := s.loadTrade(ctx, tradeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("trade not found")
	}
	if err != nil {
		return nil, s.fail("get", tradeID, err)
	}
	if (p == sender && t.SenderID != userID) || (p == receiver && t.ReceiverID != userID) {
		return nil, apperr.NotFound("trade not found")
	}
	return s.offer(ctx, t), nil
}

func (s *Service) list(ctx context.Context, userID string, p party, pending bool) ([]TradeOffer, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	ids, err := s.tradeIDs(ctx, userID, p)
	if err != nil {
		return nil, s.fail("list", "", err)
	}

	var trades []*model.Trade
	for _, id := range ids {
		t, err := s.loadTrade(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Index entry outlived its trade.
			continue
		}
		if err != nil {
			return nil, s.fail("list", id, err)
		}
		if t.Pending() == pending {
			trades = append(trades, t)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].SentDate.Equal(trades[j].SentDate) {
			return trades[i].SentDate.Before(trades[j].SentDate)
		}
		return trades[i].ID < trades[j].ID
	})

	out := make([]TradeOffer, 0, len(trades))
	for _, t := range trades {
		out = append(out, *s.offer(ctx, t))
	}
	return out, nil
}

// tradeIDs resolves a user's sent or received index. The cache prefix is
// trusted only when its completeness marker is present; otherwise the
// index tables answer and the prefix is repopulated.
func (s *Service) tradeIDs(ctx context.Context, userID string, p party) ([]string, error) {
	if p == sender {
		return cache.ReadPrefix(ctx, s.aside, cache.SentTradesPrefix(userID),
			func(id string) string { return cache.SentTradeKey(userID, id) },
			func(ctx context.Context) ([]string, error) { return s.store.ListSentTradeIDs(ctx, userID) })
	}
	return cache.ReadPrefix(ctx, s.aside, cache.ReceivedTradesPrefix(userID),
		func(id string) string { return cache.ReceivedTradeKey(userID, id) },
		func(ctx context.Context) ([]string, error) { return s.store.ListReceivedTradeIDs(ctx, userID) })
}

// --- Cache projection ---

// header returns a trade without its lines, cache first.
func (s *Service) header(ctx context.Context, tradeID string) (*model.Trade, error) {
	ct, err := cache.ReadThrough(ctx, s.aside, cache.TradeKey(tradeID), true,
		func(ctx context.Context) (model.CachedTrade, error) {
			t, err := s.store.GetTrade(ctx, tradeID)
			if err != nil {
				return model.CachedTrade{}, err
			}
			return t.Project(), nil
		})
	if err != nil {
		return nil, err
	}
	return ct.Trade(), nil
}

// loadTrade returns a trade with its lines, cache first.
func (s *Service) loadTrade(ctx context.Context, tradeID string) (*model.Trade, error) {
	t, err := s.header(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	lines, err := cache.ReadPrefix(ctx, s.aside, cache.TradeItemsPrefix(tradeID),
		func(c model.TradeContent) string { return cache.TradeItemKey(c.TradeID, c.ItemID) },
		func(ctx context.Context) ([]model.TradeContent, error) {
			return s.store.ListTradeContents(ctx, tradeID)
		})
	if err != nil {
		return nil, err
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ItemID < lines[j].ItemID })
	t.Contents = lines
	return t, nil
}

// cacheTrade writes a new trade's projection, lines, index entries and
// item memberships.
func (s *Service) cacheTrade(ctx context.Context, t *model.Trade) {
	s.aside.Put(ctx, cache.TradeKey(t.ID), t.Project())
	for _, c := range t.Contents {
		s.aside.Put(ctx, cache.TradeItemKey(t.ID, c.ItemID), c)
		s.aside.AddMembers(ctx, cache.UsedItemsKey(c.ItemID), t.ID)
	}
	s.aside.Set(ctx, cache.Marker(cache.TradeItemsPrefix(t.ID)), "1")
	s.aside.Put(ctx, cache.SentTradeKey(t.SenderID, t.ID), t.ID)
	s.aside.Put(ctx, cache.ReceivedTradeKey(t.ReceiverID, t.ID), t.ID)
}

// refreshTrade rewrites the projection of a trade that was just answered.
// Its items no longer block catalog deletion.
func (s *Service) refreshTrade(ctx context.Context, t *model.Trade) {
	s.aside.Put(ctx, cache.TradeKey(t.ID), t.Project())
	for _, c := range t.Contents {
		s.aside.RemoveMembers(ctx, cache.UsedItemsKey(c.ItemID), t.ID)
	}
}

// evictTrade removes every cache entry of a deleted trade.
func (s *Service) evictTrade(ctx context.Context, t *model.Trade) {
	s.aside.Invalidate(ctx,
		cache.TradeKey(t.ID),
		cache.SentTradeKey(t.SenderID, t.ID),
		cache.ReceivedTradeKey(t.ReceiverID, t.ID))
	s.aside.InvalidatePrefix(ctx, cache.TradeScope(t.ID))
	for _, c := range t.Contents {
		s.aside.RemoveMembers(ctx, cache.UsedItemsKey(c.ItemID), t.ID)
	}
	s.logger.Debug("trade evicted from cache", zap.String("trade_id", t.ID))
}
