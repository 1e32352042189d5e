// Package model defines the row types shared across the item exchange.
// All monetary values use shopspring/decimal; money is never a float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OwnedItem is the total quantity of an item a user owns, locked or free.
// The row disappears when the quantity reaches zero.
type OwnedItem struct {
	UserID   string `json:"user_id" db:"user_id"`
	ItemID   string `json:"item_id" db:"item_id"`
	Quantity int64  `json:"quantity" db:"quantity"`
}

// LockedItem is the part of an OwnedItem pledged to open trade offers.
// Invariant: 0 < Quantity <= OwnedItem.Quantity while the row exists.
type LockedItem struct {
	UserID   string `json:"user_id" db:"user_id"`
	ItemID   string `json:"item_id" db:"item_id"`
	Quantity int64  `json:"quantity" db:"quantity"`
}

// CatalogItem is the name/description metadata of an item.
type CatalogItem struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// User is the identity row used for display names.
type User struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
}

// Trade is a trade offer aggregate. Response is nil while pending,
// true once accepted and false once rejected.
type Trade struct {
	ID           string         `json:"id" db:"id"`
	SenderID     string         `json:"sender_id" db:"sender_id"`
	ReceiverID   string         `json:"receiver_id" db:"receiver_id"`
	SentDate     time.Time      `json:"sent_date" db:"sent_date"`
	ResponseDate *time.Time     `json:"response_date,omitempty" db:"response_date"`
	Response     *bool          `json:"response,omitempty" db:"response"`
	Contents     []TradeContent `json:"contents"`
}

// Pending reports whether nobody has responded to the trade yet.
func (t *Trade) Pending() bool { return t.Response == nil }

// TradeContent is one line item of a trade. Quantity and price are a
// snapshot taken when the offer was created.
type TradeContent struct {
	TradeID  string          `json:"trade_id" db:"trade_id"`
	ItemID   string          `json:"item_id" db:"item_id"`
	Quantity int64           `json:"quantity" db:"quantity"`
	Price    decimal.Decimal `json:"price" db:"price"`
}

// CachedTrade is the denormalized read model stored under trades:trade:{id}.
type CachedTrade struct {
	TradeID      string     `json:"trade_id"`
	SenderID     string     `json:"sender_id"`
	ReceiverID   string     `json:"receiver_id"`
	Response     *bool      `json:"response"`
	SentDate     time.Time  `json:"sent_date"`
	ResponseDate *time.Time `json:"response_date"`
	ItemIDs      []string   `json:"item_ids"`
}

// Project builds the cache projection of a trade.
func (t *Trade) Project() CachedTrade {
	ids := make([]string, 0, len(t.Contents))
	for _, c := range t.Contents {
		ids = append(ids, c.ItemID)
	}
	return CachedTrade{
		TradeID:      t.ID,
		SenderID:     t.SenderID,
		ReceiverID:   t.ReceiverID,
		Response:     t.Response,
		SentDate:     t.SentDate,
		ResponseDate: t.ResponseDate,
		ItemIDs:      ids,
	}
}

// Trade rebuilds a trade header from its projection. Contents are not part
// of the projection and are left empty.
func (c CachedTrade) Trade() *Trade {
	return &Trade{
		ID:           c.TradeID,
		SenderID:     c.SenderID,
		ReceiverID:   c.ReceiverID,
		SentDate:     c.SentDate,
		ResponseDate: c.ResponseDate,
		Response:     c.Response,
	}
}
