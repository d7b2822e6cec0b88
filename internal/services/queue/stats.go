package queue

import "fmt"

// QueueStats is a snapshot of the usage-event queue backlog.
type QueueStats struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

func (q *QueueService) Stats() (QueueStats, error) {
	q.mu.Lock()
	info, err := q.channel.QueueInspect(q.queueName)
	q.mu.Unlock()
	if err != nil {
		return QueueStats{}, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return QueueStats{
		Name:      info.Name,
		Messages:  info.Messages,
		Consumers: info.Consumers,
	}, nil
}

// HealthCheck reports "healthy" while the broker connection is open.
func (q *QueueService) HealthCheck() string {
	if q.conn == nil || q.conn.IsClosed() || q.channel == nil {
		return "unhealthy"
	}
	return "healthy"
}
