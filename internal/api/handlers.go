// Package api exposes the inventory and trade engines over HTTP. Every
// response is a result object: {"success":true,"data":...} or
// {"success":false,"errors":[...]}.
//
// Callers are identified by the X-User-ID header, set by the gateway in
// front of the service after authentication.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/inventory"
	"github.com/atmx/item-exchange/internal/model"
	"github.com/atmx/item-exchange/internal/trade"
)

// UserHeader carries the authenticated caller's id.
const UserHeader = "X-User-ID"

// Catalog is the item administration surface.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (*model.CatalogItem, error)
	CreateItem(ctx context.Context, item model.CatalogItem) (*model.CatalogItem, error)
	DeleteItem(ctx context.Context, itemID string) error
}

// Sessions upgrades a request to a notification socket.
type Sessions interface {
	ServeUser(w http.ResponseWriter, r *http.Request, userID string)
}

// Handler holds the HTTP handlers.
type Handler struct {
	inventory *inventory.Engine
	trades    *trade.Service
	catalog   Catalog
	sessions  Sessions
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewHandler creates the HTTP handlers. sessions may be nil, which disables
// the notification socket.
func NewHandler(inv *inventory.Engine, trades *trade.Service, catalog Catalog, sessions Sessions, logger *zap.Logger) *Handler {
	return &Handler{
		inventory: inv,
		trades:    trades,
		catalog:   catalog,
		sessions:  sessions,
		validate:  newValidator(),
		logger:    logger,
	}
}

// --- Request types ---

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type createTradeRequest struct {
	TargetID string            `json:"target_id" validate:"required"`
	Items    []trade.OfferLine `json:"items" validate:"required,min=1,dive"`
}

type createItemRequest struct {
	ID          string `json:"id" validate:"max=64"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

// --- Inventory ---

// ListInventory handles GET /api/v1/inventory?search=
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListItems(r.Context(), userID(r), r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetInventoryItem handles GET /api/v1/inventory/{itemID}
func (h *Handler) GetInventoryItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.inventory.GetItem(r.Context(), userID(r), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// AddInventoryItem handles POST /api/v1/inventory/{itemID}
func (h *Handler) AddInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.inventory.AddItem(r.Context(), userID(r), chi.URLParam(r, "itemID"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DropInventoryItem handles DELETE /api/v1/inventory/{itemID}
func (h *Handler) DropInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.inventory.DropItem(r.Context(), userID(r), chi.URLParam(r, "itemID"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// --- Trades ---

// CreateTrade handles POST /api/v1/trades
func (h *Handler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	if !h.decode(w, r, &req) {
		return
	}
	offer, err := h.trades.CreateTradeOffer(r.Context(), userID(r), req.TargetID, req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// listTrades adapts one of the trade list queries to a handler.
func (h *Handler) listTrades(query func(ctx context.Context, userID string) ([]trade.TradeOffer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offers, err := query(r.Context(), userID(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, offers)
	}
}

// getTrade adapts one of the single trade queries to a handler.
func (h *Handler) getTrade(query func(ctx context.Context, userID, tradeID string) (*trade.TradeOffer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offer, err := query(r.Context(), userID(r), chi.URLParam(r, "tradeID"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, offer)
	}
}

// AcceptTrade handles POST /api/v1/trades/{tradeID}/accept
func (h *Handler) AcceptTrade(w http.ResponseWriter, r *http.Request) {
	settlement, err := h.trades.AcceptTradeOffer(r.Context(), chi.URLParam(r, "tradeID"), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// RejectTrade handles POST /api/v1/trades/{tradeID}/reject
func (h *Handler) RejectTrade(w http.ResponseWriter, r *http.Request) {
	offer, err := h.trades.RejectTradeOffer(r.Context(), chi.URLParam(r, "tradeID"), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// CancelTrade handles DELETE /api/v1/trades/{tradeID}
func (h *Handler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")
	if err := h.trades.CancelTradeOffer(r.Context(), tradeID, userID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"trade_id": tradeID})
}

// --- Catalog ---

// GetItem handles GET /api/v1/items/{itemID}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// CreateItem handles POST /api/v1/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.catalog.CreateItem(r.Context(), model.CatalogItem{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// DeleteItem handles DELETE /api/v1/items/{itemID}
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	if err := h.catalog.DeleteItem(r.Context(), itemID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"item_id": itemID})
}

// --- Notifications ---

// Notifications handles GET /api/v1/ws
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeErrors(w, http.StatusNotFound, "notifications are disabled")
		return
	}
	h.sessions.ServeUser(w, r, userID(r))
}
