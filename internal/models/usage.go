package models

import "time"

// UsageRecord is one accepted request. Records are append-only.
type UsageRecord struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Label     string    `json:"label"`
	ByteSize  int64     `json:"byte_size"`
	CreatedAt time.Time `json:"created_at"`
	Day       string    `json:"day"`
}

// QuotaState is derived from the committed records of one identity and day.
type QuotaState struct {
	Identity   string `json:"identity"`
	Day        string `json:"day"`
	Used       int    `json:"used"`
	DailyLimit int    `json:"daily_limit"`
}

func (q QuotaState) Allowed() bool {
	return q.Used < q.DailyLimit
}

func (q QuotaState) Remaining() int {
	if r := q.DailyLimit - q.Used; r > 0 {
		return r
	}
	return 0
}

// UsageStats is the body of GET /api/usage-stats.
type UsageStats struct {
	UsedCount  int `json:"usedCount"`
	DailyLimit int `json:"dailyLimit"`
	Remaining  int `json:"remaining"`
}

// UsageEvent is published after a record is committed.
type UsageEvent struct {
	RecordID   string    `json:"record_id"`
	Identity   string    `json:"identity"`
	Label      string    `json:"label"`
	ByteSize   int64     `json:"byte_size"`
	Day        string    `json:"day"`
	Format     Format    `json:"format"`
	OutputSize int64     `json:"output_size"`
	CreatedAt  time.Time `json:"created_at"`
}
