package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// StreamKeyFunc names the stream backing one (queue, priority) pair.
type StreamKeyFunc func(queue domain.QueueName, p domain.Priority) string

// QueueStreamStatus describes one priority stream of a queue.
type QueueStreamStatus struct {
	Queue    domain.QueueName           `json:"queue"`
	Priority domain.Priority            `json:"priority"`
	Stream   string                     `json:"stream"`
	Groups   []domain.ConsumerGroupInfo `json:"groups"`
	Error    string                     `json:"error,omitempty"`
}

// AdminStreamUseCase inspects and repairs the queue streams. Only the streams
// of known queues and the dead-letter stream can be addressed.
type AdminStreamUseCase struct {
	repo      domain.StreamAdminRepository
	streamKey StreamKeyFunc
	known     map[string]struct{}
}

func NewAdminStreamUseCase(repo domain.StreamAdminRepository, streamKey StreamKeyFunc, dlqStream string) *AdminStreamUseCase {
	known := map[string]struct{}{dlqStream: {}}
	for _, q := range domain.Queues {
		for _, p := range []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
			known[streamKey(q, p)] = struct{}{}
		}
	}
	return &AdminStreamUseCase{repo: repo, streamKey: streamKey, known: known}
}

func (uc *AdminStreamUseCase) check(stream string) error {
	if _, ok := uc.known[stream]; !ok {
		return fmt.Errorf("%w: stream %q", domain.ErrUnknownQueue, stream)
	}
	return nil
}

// Overview reports the consumer groups of every priority stream. A stream
// that cannot be inspected is reported with its error, not skipped.
func (uc *AdminStreamUseCase) Overview(ctx context.Context) []QueueStreamStatus {
	var out []QueueStreamStatus
	for _, q := range domain.Queues {
		for _, p := range []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
			st := QueueStreamStatus{Queue: q, Priority: p, Stream: uc.streamKey(q, p)}
			groups, err := uc.repo.GetGroupInfo(ctx, st.Stream)
			if err != nil {
				st.Error = err.Error()
			}
			st.Groups = groups
			out = append(out, st)
		}
	}
	return out
}

func (uc *AdminStreamUseCase) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	return uc.repo.GetGroupInfo(ctx, stream)
}

func (uc *AdminStreamUseCase) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	return uc.repo.GetConsumerInfo(ctx, stream, group)
}

func (uc *AdminStreamUseCase) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMessageSummary, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	return uc.repo.GetPendingSummary(ctx, stream, group)
}

// GetPendingMessages pages through pending deliveries starting at startID ("-" when empty).
func (uc *AdminStreamUseCase) GetPendingMessages(ctx context.Context, stream, group, consumer, startID string, count int64) ([]domain.PendingMessageDetail, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	if startID == "" {
		startID = "-"
	}
	if count <= 0 {
		count = 100
	}
	return uc.repo.GetPendingMessages(ctx, stream, group, consumer, startID, count)
}

// ClaimMessages hands idle deliveries to consumer and returns the decoded jobs.
func (uc *AdminStreamUseCase) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]domain.Job, error) {
	if err := uc.check(stream); err != nil {
		return nil, err
	}
	if consumer == "" || len(ids) == 0 {
		return nil, errors.New("consumer and message ids are required")
	}
	return uc.repo.ClaimMessages(ctx, stream, group, consumer, minIdle, ids)
}

func (uc *AdminStreamUseCase) AcknowledgeMessages(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	if err := uc.check(stream); err != nil {
		return 0, err
	}
	return uc.repo.AcknowledgeMessages(ctx, stream, group, ids...)
}

func (uc *AdminStreamUseCase) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	if err := uc.check(stream); err != nil {
		return 0, err
	}
	return uc.repo.TrimStream(ctx, stream, maxLen)
}

// ListDeadLetters returns the most recent abandoned jobs, newest first.
func (uc *AdminStreamUseCase) ListDeadLetters(ctx context.Context, count int64) ([]domain.DeadLetter, error) {
	if count <= 0 {
		count = 50
	}
	return uc.repo.ListDeadLetters(ctx, count)
}
