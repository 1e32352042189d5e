package trade

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/store"
)

// --- Collaborators ---

// Wallet moves cash inside a unit of work.
type Wallet interface {
	Balance(ctx context.Context, q store.Queries, userID string) (decimal.Decimal, error)
	Take(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) error
	Give(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) error
}

// Catalog resolves item metadata.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (*model.CatalogItem, error)
	GetName(ctx context.Context, itemID string) string
}

// Identity resolves user display names.
type Identity interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Notifier pushes a fire-and-forget message to a user.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, category, id string, payload any)
}

// Notification categories.
const (
	CategoryOffer     = "trade_offer"
	CategoryAccepted  = "trade_accepted"
	CategoryRejected  = "trade_rejected"
	CategoryCancelled = "trade_cancelled"
)

// --- Request/Response types ---

// OfferLine is one requested line of a new trade offer.
type OfferLine struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Quantity int64           `json:"quantity" validate:"gt=0"`
	Price    decimal.Decimal `json:"price"`
}

// OfferItem is one line of an existing trade offer.
type OfferItem struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Status values of a trade offer.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// TradeOffer is a trade as shown to either party.
type TradeOffer struct {
	TradeID      string          `json:"trade_id"`
	SenderID     string          `json:"sender_id"`
	SenderName   string          `json:"sender_name"`
	ReceiverID   string          `json:"receiver_id"`
	ReceiverName string          `json:"receiver_name"`
	Status       string          `json:"status"`
	Items        []OfferItem     `json:"items"`
	Total        decimal.Decimal `json:"total"`
	SentDate     time.Time       `json:"sent_date"`
	ResponseDate *time.Time      `json:"response_date,omitempty"`
}

// Settlement summarizes an accepted trade.
type Settlement struct {
	TradeID      string          `json:"trade_id"`
	SenderID     string          `json:"sender_id"`
	SenderName   string          `json:"sender_name"`
	ReceiverID   string          `json:"receiver_id"`
	Items        []OfferItem     `json:"items"`
	Total        decimal.Decimal `json:"total"`
	SentDate     time.Time       `json:"sent_date"`
	ResponseDate time.Time       `json:"response_date"`
}

func status(t *model.Trade) string {
	switch {
	case t.Response == nil:
		return StatusPending
	case *t.Response:
		return StatusAccepted
	default:
		return StatusRejected
	}
}

// total is the sum of line prices. Quantity does not scale the price: a
// line's price is the price of the whole line.
func total(lines []model.TradeContent) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range lines {
		sum = sum.Add(c.Price)
	}
	return sum
}
