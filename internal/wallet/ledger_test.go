package wallet

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atmx/item-exchange/internal/store"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func TestTakeAndGive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := NewLedger(zaptest.NewLogger(t))

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return l.Give(ctx, tx, "alice", d(25))
	}))
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return l.Take(ctx, tx, "alice", d(10))
	}))

	balance, err := l.Balance(ctx, st, "alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d(15)), "balance = %s", balance)
}

func TestTakeInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := NewLedger(zaptest.NewLogger(t))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		return l.Take(ctx, tx, "bob", d(1))
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := l.Balance(ctx, st, "bob")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestNegativeAmountsRejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := NewLedger(zaptest.NewLogger(t))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		return l.Give(ctx, tx, "alice", d(-5))
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = st.WithTx(ctx, func(tx store.Tx) error {
		return l.Take(ctx, tx, "alice", d(-5))
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRolledBackTakeLeavesBalance(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l := NewLedger(zaptest.NewLogger(t))

	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return l.Give(ctx, tx, "alice", d(10))
	}))

	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := l.Take(ctx, tx, "alice", d(10)); err != nil {
			return err
		}
		return l.Take(ctx, tx, "alice", d(1))
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := l.Balance(ctx, st, "alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d(10)), "balance = %s", balance)
}
