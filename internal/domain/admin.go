package domain

import "time"

// Operator views of the queue streams. Durations are reported in
// milliseconds so the admin API stays readable.

// ConsumerGroupInfo describes one group. Lag counts entries not yet
// delivered to it.
type ConsumerGroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	Lag             int64  `json:"lag"`
	LastDeliveredID string `json:"last_delivered_id"`
}

type ConsumerInfo struct {
	Name    string `json:"name"`
	Pending int64  `json:"pending"`
	IdleMs  int64  `json:"idle_ms"`
}

// PendingMessageSummary counts deliveries that were never acknowledged.
type PendingMessageSummary struct {
	Total          int64            `json:"total"`
	OldestID       string           `json:"oldest_id,omitempty"`
	NewestID       string           `json:"newest_id,omitempty"`
	ConsumerTotals map[string]int64 `json:"consumer_totals,omitempty"`
}

type PendingMessageDetail struct {
	ID         string `json:"id"`
	Consumer   string `json:"consumer"`
	IdleMs     int64  `json:"idle_ms"`
	Deliveries int64  `json:"deliveries"`
}

// DeadLetter is a job that exhausted its attempts, with where it came from.
type DeadLetter struct {
	MessageID      string    `json:"message_id"`
	OriginalStream string    `json:"original_stream"`
	OriginalID     string    `json:"original_msg_id"`
	FailedAt       time.Time `json:"failed_at"`
	Job            Job       `json:"job"`
}
