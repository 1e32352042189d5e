// Package notify delivers fire-and-forget notifications to users: live over
// WebSocket sessions and durably through a Kafka topic. Delivery never
// blocks the caller and never reports failure back to it.
package notify

import (
	"context"
	"time"
)

// Notifier pushes a message to one user.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, category, id string, payload any)
}

// Message is the JSON envelope sent on every transport.
type Message struct {
	UserID   string    `json:"user_id"`
	Category string    `json:"category"`
	ID       string    `json:"id"`
	Payload  any       `json:"payload,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

func newMessage(userID, category, id string, payload any) Message {
	return Message{
		UserID:   userID,
		Category: category,
		ID:       id,
		Payload:  payload,
		SentAt:   time.Now().UTC(),
	}
}

// Fanout sends every notification to each of its notifiers in order.
type Fanout []Notifier

func (f Fanout) NotifyUser(ctx context.Context, userID, category, id string, payload any) {
	for _, n := range f {
		n.NotifyUser(ctx, userID, category, id, payload)
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) NotifyUser(context.Context, string, string, string, any) {}
