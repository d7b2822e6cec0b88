package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

func encodeEvent(event models.UsageEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal usage event: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    event.RecordID,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.CreatedAt,
	}, nil
}

func (q *QueueService) PublishUsage(ctx context.Context, event models.UsageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	q.mu.Lock()
	err = q.channel.Publish(
		"",          // exchange
		q.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		msg,
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish usage event: %w", err)
	}

	q.logger.Debug("Usage event published", zap.String("record_id", event.RecordID))
	return nil
}
