package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// UsageHandler receives each consumed event. Returning an error requeues the
// message.
type UsageHandler func(ctx context.Context, event models.UsageEvent) error

// StartConsumer blocks until ctx is done or the broker closes the delivery
// channel.
func (q *QueueService) StartConsumer(ctx context.Context, consumerID string, handle UsageHandler) error {
	q.mu.Lock()
	msgs, err := q.channel.Consume(
		q.queueName, // queue
		consumerID,  // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.logger.Info("Usage consumer started", zap.String("consumer", consumerID))

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Usage consumer stopping", zap.String("consumer", consumerID))
			return nil
		case msg, ok := <-msgs:
			if !ok {
				q.logger.Warn("Message channel closed", zap.String("consumer", consumerID))
				return nil
			}
			q.processMessage(ctx, msg, handle)
		}
	}
}

func (q *QueueService) processMessage(ctx context.Context, msg amqp.Delivery, handle UsageHandler) {
	var event models.UsageEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		q.logger.Error("Failed to unmarshal usage event", zap.Error(err))
		msg.Nack(false, false) // Don't requeue malformed messages
		return
	}

	if err := handle(ctx, event); err != nil {
		q.logger.Error("Usage event handler failed",
			zap.String("record_id", event.RecordID),
			zap.Error(err))
		msg.Nack(false, true)
		return
	}

	if err := msg.Ack(false); err != nil {
		q.logger.Error("Failed to ack message",
			zap.String("record_id", event.RecordID),
			zap.Error(err))
	}
}
