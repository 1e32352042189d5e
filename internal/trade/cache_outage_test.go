package trade_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/item-exchange/internal/apperr"
	"github.com/atmx/item-exchange/internal/cache"
	"github.com/atmx/item-exchange/internal/trade"
)

var errCacheDown = errors.New("cache unavailable")

// downCache fails every call, like an unreachable Redis.
type downCache struct{}

func (downCache) Get(context.Context, string) (string, error) { return "", errCacheDown }
func (downCache) Set(context.Context, string, string) error { return errCacheDown }
func (downCache) SAdd(context.Context, string, ...string) error { return errCacheDown }
func (downCache) SRem(context.Context, string, ...string) error { return errCacheDown }
func (downCache) SMembers(context.Context, string) ([]string, error) { return nil, errCacheDown }
func (downCache) Exists(context.Context, string) (bool, error) { return false, errCacheDown }
func (downCache) Del(context.Context, ...string) error { return errCacheDown }
func (downCache) DelPrefix(context.Context, string) error { return errCacheDown }
func (downCache) ScanPrefix(context.Context, string) (map[string]string, error) {
	return nil, errCacheDown
}

// within fails the test when fn has not returned after d.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("still blocked after %s", d)
	}
}

func TestAcceptWithColdItemCache(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	offer := env.offerTwoLines(t)

	require.NoError(t, env.cache.Del(ctx, cache.ItemKey("sword"), cache.ItemKey("shield")))

	var (
		s   *trade.Settlement
		err error
	)
	within(t, 3*time.Second, func() {
		s, err = env.svc.AcceptTradeOffer(ctx, offer.TradeID, "bob")
	})
	require.NoError(t, err)
	assert.True(t, s.Total.Equal(d(15)))
	assert.Equal(t, int64(2), env.owned(t, "bob", "sword"))
	assert.Equal(t, int64(1), env.owned(t, "bob", "shield"))
}

// lifecycle drives every mutation once and records what a client would
// observe after each step. between runs before every step.
func lifecycle(env *testEnv, between func()) []string {
	ctx := context.Background()
	var out []string
	record := func(format string, args ...any) {
		out = append(out, fmt.Sprintf(format, args...))
	}
	free := func(userID, itemID string) string {
		item, err := env.inv.GetItem(ctx, userID, itemID)
		if err != nil {
			return apperr.Message(err)
		}
		return fmt.Sprint(item.Quantity)
	}
	balance := func(userID string) string {
		b, err := env.ledger.Balance(ctx, env.store, userID)
		if err != nil {
			return err.Error()
		}
		return b.String()
	}
	count := func(offers []trade.TradeOffer, err error) string {
		if err != nil {
			return apperr.Message(err)
		}
		return fmt.Sprint(len(offers))
	}
	offer := func(itemID string, qty, price int64) *trade.TradeOffer {
		o, err := env.svc.CreateTradeOffer(ctx, "alice", "bob", []trade.OfferLine{
			{ItemID: itemID, Quantity: qty, Price: d(price)},
		})
		if err != nil {
			record("create %s: %s", itemID, apperr.Message(err))
			return nil
		}
		record("create %s: %s total %s", itemID, o.Status, o.Total)
		return o
	}

	between()
	item, err := env.inv.AddItem(ctx, "alice", "sword", 1)
	if err != nil {
		record("add: %s", apperr.Message(err))
	} else {
		record("add: free %d", item.Quantity)
	}

	between()
	item, err = env.inv.DropItem(ctx, "alice", "sword", 1)
	if err != nil {
		record("drop: %s", apperr.Message(err))
	} else {
		record("drop: free %d", item.Quantity)
	}

	between()
	record("lock: %v", env.inv.LockItem(ctx, "alice", "shield", 1))
	between()
	record("shield free %s", free("alice", "shield"))
	between()
	record("unlock: %v", env.inv.UnlockItem(ctx, "alice", "shield", 1))

	between()
	o, err := env.svc.CreateTradeOffer(ctx, "alice", "bob", []trade.OfferLine{
		{ItemID: "sword", Quantity: 2, Price: d(10)},
		{ItemID: "shield", Quantity: 1, Price: d(5)},
	})
	if err != nil {
		record("create pair: %s", apperr.Message(err))
	} else {
		record("create pair: %s total %s", o.Status, o.Total)
		between()
		s, err := env.svc.AcceptTradeOffer(ctx, o.TradeID, "bob")
		if err != nil {
			record("accept: %s", apperr.Message(err))
		} else {
			record("accept: total %s", s.Total)
		}
	}
	between()
	record("after accept: alice sword %s, bob sword %s, bob shield %s, bob %s, alice %s",
		free("alice", "sword"), free("bob", "sword"), free("bob", "shield"),
		balance("bob"), balance("alice"))

	between()
	if o := offer("shield", 1, 4); o != nil {
		between()
		r, err := env.svc.RejectTradeOffer(ctx, o.TradeID, "bob")
		if err != nil {
			record("reject: %s", apperr.Message(err))
		} else {
			record("reject: %s", r.Status)
		}
	}
	between()
	record("after reject: alice shield %s", free("alice", "shield"))

	between()
	if o := offer("sword", 1, 1); o != nil {
		between()
		record("cancel: %v", env.svc.CancelTradeOffer(ctx, o.TradeID, "alice"))
		between()
		record("cancel again: %s", apperr.Message(env.svc.CancelTradeOffer(ctx, o.TradeID, "alice")))
	}

	between()
	record("alice sent %s, responded %s", count(env.svc.GetSentTradeOffers(ctx, "alice")),
		count(env.svc.GetRespondedSentTradeOffers(ctx, "alice")))
	between()
	record("bob received %s, responded %s", count(env.svc.GetReceivedTradeOffers(ctx, "bob")),
		count(env.svc.GetRespondedReceivedTradeOffers(ctx, "bob")))
	between()
	record("alice sword %s", free("alice", "sword"))
	return out
}

func TestLifecycleDoesNotDependOnCache(t *testing.T) {
	want := []string{
		"add: free 6",
		"drop: free 5",
		"lock: <nil>",
		"shield free 1",
		"unlock: <nil>",
		"create pair: pending total 15",
		"accept: total 15",
		"after accept: alice sword 3, bob sword 2, bob shield 1, bob 85, alice 15",
		"create shield: pending total 4",
		"reject: rejected",
		"after reject: alice shield 1",
		"create sword: pending total 1",
		"cancel: <nil>",
		"cancel again: trade not found or already cancelled",
		"alice sent 0, responded 2",
		"bob received 0, responded 2",
		"alice sword 3",
	}

	tests := []struct {
		name    string
		cache   func() cache.Cache
		between func(env *testEnv) func()
	}{
		{"warm", func() cache.Cache { return cache.NewMemoryCache() }, func(*testEnv) func() { return func() {} }},
		{"flushed between steps", func() cache.Cache { return cache.NewMemoryCache() }, func(env *testEnv) func() {
			return func() { _ = env.cache.DelPrefix(context.Background(), "") }
		}},
		{"unavailable", func() cache.Cache { return downCache{} }, func(*testEnv) func() { return func() {} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnvOn(t, tt.cache(), nil)
			var got []string
			within(t, 10*time.Second, func() {
				got = lifecycle(env, tt.between(env))
			})
			assert.Equal(t, want, got)
		})
	}
}
