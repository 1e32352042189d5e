package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/metrics"
)

type ctxKey struct{}

// requireUser rejects requests without a caller id. Browsers cannot set
// headers on a WebSocket handshake, so user_id in the query is accepted too.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			id = r.URL.Query().Get("user_id")
		}
		if id == "" {
			writeErrors(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// NewRouter builds the HTTP router. timeout bounds every API request
// except the notification socket.
func NewRouter(h *Handler, timeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"item-exchange"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireUser)

		r.Get("/ws", h.Notifications)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Get("/inventory", h.ListInventory)
			r.Get("/inventory/{itemID}", h.GetInventoryItem)
			r.Post("/inventory/{itemID}", h.AddInventoryItem)
			r.Delete("/inventory/{itemID}", h.DropInventoryItem)

			r.Post("/trades", h.CreateTrade)
			r.Get("/trades/sent", h.listTrades(h.trades.GetSentTradeOffers))
			r.Get("/trades/received", h.listTrades(h.trades.GetReceivedTradeOffers))
			r.Get("/trades/sent/responded", h.listTrades(h.trades.GetRespondedSentTradeOffers))
			r.Get("/trades/received/responded", h.listTrades(h.trades.GetRespondedReceivedTradeOffers))
			r.Get("/trades/sent/{tradeID}", h.getTrade(h.trades.GetSentTradeOffer))
			r.Get("/trades/received/{tradeID}", h.getTrade(h.trades.GetReceivedTradeOffer))
			r.Post("/trades/{tradeID}/accept", h.AcceptTrade)
			r.Post("/trades/{tradeID}/reject", h.RejectTrade)
			r.Delete("/trades/{tradeID}", h.CancelTrade)

			r.Post("/items", h.CreateItem)
			r.Get("/items/{itemID}", h.GetItem)
			r.Delete("/items/{itemID}", h.DeleteItem)
		})
	})
	return r
}
