package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/metrics"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 16
)

// session is one WebSocket connection of a user.
type session struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

type delivery struct {
	userID string
	data   []byte
}

// Hub keeps the live WebSocket sessions of every connected user and pushes
// notifications to them. A user may hold several sessions.
type Hub struct {
	sessions   map[string]map[*session]struct{}
	deliver    chan delivery
	register   chan *session
	unregister chan *session
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a new WebSocket hub. Run must be started before sessions
// can connect.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]map[*session]struct{}),
		deliver:    make(chan delivery, 256),
		register:   make(chan *session),
		unregister: make(chan *session),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every session.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, set := range h.sessions {
				for s := range set {
					close(s.send)
				}
			}
			h.sessions = make(map[string]map[*session]struct{})
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case s := <-h.register:
			h.mu.Lock()
			set, ok := h.sessions[s.userID]
			if !ok {
				set = make(map[*session]struct{})
				h.sessions[s.userID] = set
			}
			set[s] = struct{}{}
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			h.logger.Info("ws session opened", zap.String("user_id", s.userID), zap.Int("user_sessions", len(set)))

		case s := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.sessions[s.userID]; ok {
				if _, ok := set[s]; ok {
					delete(set, s)
					close(s.send)
					metrics.WebSocketClients.Dec()
				}
				if len(set) == 0 {
					delete(h.sessions, s.userID)
				}
			}
			h.mu.Unlock()

		case d := <-h.deliver:
			h.mu.RLock()
			for s := range h.sessions[d.userID] {
				select {
				case s.send <- d.data:
				default:
					// Slow reader.
					metrics.NotificationsDropped.WithLabelValues("websocket").Inc()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NotifyUser queues a message for every session of userID. Users without a
// session simply miss it.
func (h *Hub) NotifyUser(_ context.Context, userID, category, id string, payload any) {
	data, err := json.Marshal(newMessage(userID, category, id, payload))
	if err != nil {
		h.logger.Warn("ws notification not encodable", zap.String("category", category), zap.Error(err))
		return
	}
	select {
	case h.deliver <- delivery{userID: userID, data: data}:
	default:
		metrics.NotificationsDropped.WithLabelValues("websocket").Inc()
	}
}

// Sessions returns how many live sessions userID holds.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // The gateway in front of the service enforces origins.
	},
}

// ServeUser upgrades the request to a WebSocket session owned by userID.
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	s := &session{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(s)
	go h.readPump(s)
}

// readPump keeps the connection alive and detects disconnects. Clients are
// not expected to send anything.
func (h *Hub) readPump(s *session) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
	}()
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of the connection.
func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
