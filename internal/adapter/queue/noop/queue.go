// Package noop provides a broker-less job queue. It is selected when no
// Redis address is configured: every job is dropped with a warning and
// ingestion keeps working.
package noop

import (
	"context"
	"log/slog"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// Queue implements domain.JobQueue without a broker.
type Queue struct {
	logger *slog.Logger
}

// New creates a no-op queue.
func New(logger *slog.Logger) *Queue {
	return &Queue{logger: logger.With("component", "noop_queue")}
}

// Enqueue logs and reports ErrQueueUnavailable.
func (q *Queue) Enqueue(ctx context.Context, queue domain.QueueName, payload any, opts domain.EnqueueOptions) (domain.JobHandle, error) {
	q.logger.Warn("No job broker configured, dropping job", "queue", queue)
	return domain.JobHandle{}, domain.ErrQueueUnavailable
}

// Consume has nothing to read and returns when ctx is done.
func (q *Queue) Consume(ctx context.Context, queue domain.QueueName, handler domain.JobHandler) error {
	q.logger.Warn("No job broker configured, consumer idle", "queue", queue)
	<-ctx.Done()
	return nil
}
