package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingAcker struct {
	acked, nacked, requeued bool
}

func (a *recordingAcker) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *recordingAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *recordingAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func sampleEvent() models.UsageEvent {
	return models.UsageEvent{
		RecordID:   "rec-1",
		Identity:   "10.0.0.5",
		Label:      "photo.png",
		ByteSize:   1024,
		Day:        "2026-10-16",
		Format:     models.FormatPNG,
		OutputSize: 4096,
		CreatedAt:  time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
	}
}

func TestEncodeEvent(t *testing.T) {
	msg, err := encodeEvent(sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "rec-1", msg.MessageId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var decoded models.UsageEvent
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, sampleEvent(), decoded)
}

func TestProcessMessage(t *testing.T) {
	q := &QueueService{logger: zap.NewNop()}
	body, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	t.Run("ack on success", func(t *testing.T) {
		acker := &recordingAcker{}
		var got models.UsageEvent
		q.processMessage(context.Background(), amqp.Delivery{Acknowledger: acker, Body: body},
			func(_ context.Context, e models.UsageEvent) error {
				got = e
				return nil
			})

		assert.True(t, acker.acked)
		assert.Equal(t, "rec-1", got.RecordID)
	})

	t.Run("requeue on handler failure", func(t *testing.T) {
		acker := &recordingAcker{}
		q.processMessage(context.Background(), amqp.Delivery{Acknowledger: acker, Body: body},
			func(context.Context, models.UsageEvent) error { return errors.New("db down") })

		assert.True(t, acker.nacked)
		assert.True(t, acker.requeued)
	})

	t.Run("drop malformed", func(t *testing.T) {
		acker := &recordingAcker{}
		called := false
		q.processMessage(context.Background(), amqp.Delivery{Acknowledger: acker, Body: []byte("{")},
			func(context.Context, models.UsageEvent) error {
				called = true
				return nil
			})

		assert.False(t, called)
		assert.True(t, acker.nacked)
		assert.False(t, acker.requeued)
	})
}

func TestPublishUsageHonoursCanceledContext(t *testing.T) {
	q := &QueueService{logger: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, q.PublishUsage(ctx, sampleEvent()), context.Canceled)
}

func TestHealthCheckWithoutConnection(t *testing.T) {
	q := &QueueService{logger: zap.NewNop()}
	assert.Equal(t, "unhealthy", q.HealthCheck())
}
