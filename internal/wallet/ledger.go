// Package wallet keeps each user's cash balance. It is deliberately not a
// double-entry ledger: a wallet is a single decimal balance that Take and
// Give move inside the caller's unit of work.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a wallet cannot cover a Take.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")

	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("wallet: amount must not be negative")
)

// Ledger implements balance, take and give over the store's wallets table.
type Ledger struct {
	logger *zap.Logger
}

// NewLedger creates a wallet ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{logger: logger}
}

// Balance returns the balance of userID. Pass a store.Tx to read (and lock)
// the wallet inside a unit of work.
func (l *Ledger) Balance(ctx context.Context, q store.Queries, userID string) (decimal.Decimal, error) {
	return q.GetBalance(ctx, userID)
}

// Take removes amount from userID's wallet, refusing to go negative.
func (l *Ledger) Take(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	balance, err := tx.GetBalance(ctx, userID)
	if err != nil {
		return fmt.Errorf("take from %s: %w", userID, err)
	}
	if balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	if err := tx.AdjustBalance(ctx, userID, amount.Neg()); err != nil {
		return err
	}
	l.logger.Debug("wallet debited", zap.String("user_id", userID), zap.String("amount", amount.String()))
	return nil
}

// Give adds amount to userID's wallet.
func (l *Ledger) Give(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if err := tx.AdjustBalance(ctx, userID, amount); err != nil {
		return err
	}
	l.logger.Debug("wallet credited", zap.String("user_id", userID), zap.String("amount", amount.String()))
	return nil
}
