package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/metrics"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes notifications to a Kafka topic, keyed by user id
// so one user's notifications stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher creates an async publisher. Writes return immediately;
// delivery failures are logged from the writer's completion callback.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.NotificationsDropped.WithLabelValues("kafka").Add(float64(len(messages)))
				logger.Error("kafka notification delivery failed", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) NotifyUser(ctx context.Context, userID, category, id string, payload any) {
	msg := newMessage(userID, category, id, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn("kafka notification not encodable", zap.String("category", category), zap.Error(err))
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(userID),
		Value: data,
		Time:  msg.SentAt,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(category)},
		},
	})
	if err != nil {
		metrics.NotificationsDropped.WithLabelValues("kafka").Inc()
		p.logger.Warn("kafka notification dropped", zap.String("user_id", userID), zap.String("category", category), zap.Error(err))
	}
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
