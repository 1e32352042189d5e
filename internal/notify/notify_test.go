package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeUser(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversToUserSessionsOnly(t *testing.T) {
	hub, srv := startHub(t)

	alice1 := dial(t, srv, "alice")
	alice2 := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	require.Eventually(t, func() bool {
		return hub.Sessions("alice") == 2 && hub.Sessions("bob") == 1
	}, time.Second, 10*time.Millisecond)

	hub.NotifyUser(context.Background(), "alice", "trade_offer", "t1", map[string]string{"k": "v"})

	for _, conn := range []*websocket.Conn{alice1, alice2} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "alice", msg.UserID)
		assert.Equal(t, "trade_offer", msg.Category)
		assert.Equal(t, "t1", msg.ID)
	}

	bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "bob should not receive alice's notification")
}

func TestHubForgetsClosedSessions(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "carol")
	require.Eventually(t, func() bool { return hub.Sessions("carol") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Sessions("carol") == 0 }, time.Second, 10*time.Millisecond)

	// Notifying a user without sessions is a no-op.
	hub.NotifyUser(context.Background(), "carol", "trade_offer", "t2", nil)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByUser(t *testing.T) {
	fw := &fakeWriter{}
	p := &KafkaPublisher{writer: fw, logger: zaptest.NewLogger(t)}

	p.NotifyUser(context.Background(), "bob", "trade_accepted", "t9", map[string]int{"n": 1})

	require.Len(t, fw.msgs, 1)
	m := fw.msgs[0]
	assert.Equal(t, "bob", string(m.Key))
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "category", m.Headers[0].Key)
	assert.Equal(t, "trade_accepted", string(m.Headers[0].Value))

	var msg Message
	require.NoError(t, json.Unmarshal(m.Value, &msg))
	assert.Equal(t, "t9", msg.ID)
	assert.Equal(t, "bob", msg.UserID)

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestKafkaPublisherSwallowsErrors(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: fw, logger: zaptest.NewLogger(t)}

	assert.NotPanics(t, func() {
		p.NotifyUser(context.Background(), "bob", "trade_rejected", "t1", nil)
	})
	assert.Empty(t, fw.msgs)
}

type countingNotifier struct{ n int }

func (c *countingNotifier) NotifyUser(context.Context, string, string, string, any) { c.n++ }

func TestFanout(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	f := Fanout{a, Nop{}, b}

	f.NotifyUser(context.Background(), "alice", "trade_offer", "t1", nil)
	f.NotifyUser(context.Background(), "alice", "trade_offer", "t2", nil)

	assert.Equal(t, 2, a.n)
	assert.Equal(t, 2, b.n)
}
