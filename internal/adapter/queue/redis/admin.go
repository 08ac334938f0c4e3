package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// AdminRepository implements domain.StreamAdminRepository over the job
// streams written by Queue.
type AdminRepository struct {
	client    *redis.Client
	dlqStream string
	logger    *slog.Logger
}

func NewAdminRepository(client *redis.Client, dlqStream string, logger *slog.Logger) *AdminRepository {
	if dlqStream == "" {
		dlqStream = defaultDLQStream
	}
	return &AdminRepository{
		client:    client,
		dlqStream: dlqStream,
		logger:    logger.With("component", "queue_admin"),
	}
}

// GetGroupInfo lists the consumer groups of stream. A stream that was never
// written has no groups.
func (r *AdminRepository) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	groups, err := r.client.XInfoGroups(ctx, stream).Result()
	if isMissingStream(err) {
		return []domain.ConsumerGroupInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xinfo groups %s: %w", stream, err)
	}

	out := make([]domain.ConsumerGroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, domain.ConsumerGroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			Lag:             g.Lag,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return out, nil
}

func (r *AdminRepository) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	consumers, err := r.client.XInfoConsumers(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("xinfo consumers %s/%s: %w", stream, group, err)
	}

	out := make([]domain.ConsumerInfo, 0, len(consumers))
	for _, c := range consumers {
		out = append(out, domain.ConsumerInfo{Name: c.Name, Pending: c.Pending, IdleMs: c.Idle.Milliseconds()})
	}
	return out, nil
}

func (r *AdminRepository) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingMessageSummary, error) {
	p, err := r.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}
	return &domain.PendingMessageSummary{
		Total:          p.Count,
		OldestID:       p.Lower,
		NewestID:       p.Higher,
		ConsumerTotals: p.Consumers,
	}, nil
}

// GetPendingMessages pages through in-flight deliveries starting at startID.
// An empty consumer lists every consumer of the group.
func (r *AdminRepository) GetPendingMessages(ctx context.Context, stream, group, consumer, startID string, count int64) ([]domain.PendingMessageDetail, error) {
	entries, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		Start:    startID,
		End:      "+",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}

	out := make([]domain.PendingMessageDetail, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.PendingMessageDetail{
			ID:         e.ID,
			Consumer:   e.Consumer,
			IdleMs:     e.Idle.Milliseconds(),
			Deliveries: e.RetryCount,
		})
	}
	return out, nil
}

// ClaimMessages moves stalled deliveries to consumer. Entries that no longer
// decode as jobs are claimed but left out of the result.
func (r *AdminRepository) ClaimMessages(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]domain.Job, error) {
	msgs, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s/%s: %w", stream, group, err)
	}
	return r.decodeAll(msgs, "claimed"), nil
}

// AcknowledgeMessages acks and deletes the entries, the same way a consumer
// settles a handled job. It returns the number acknowledged.
func (r *AdminRepository) AcknowledgeMessages(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, errors.New("no message ids given")
	}
	var ack *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ack = pipe.XAck(ctx, stream, group, ids...)
		pipe.XDel(ctx, stream, ids...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ack %s/%s: %w", stream, group, err)
	}
	return ack.Val(), nil
}

func (r *AdminRepository) TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error) {
	n, err := r.client.XTrimMaxLen(ctx, stream, maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("xtrim %s: %w", stream, err)
	}
	r.logger.Info("Trimmed stream", "stream", stream, "max_len", maxLen, "removed", n)
	return n, nil
}

// ListDeadLetters returns up to count abandoned jobs, newest first.
func (r *AdminRepository) ListDeadLetters(ctx context.Context, count int64) ([]domain.DeadLetter, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.dlqStream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}

	out := make([]domain.DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		job, err := decodeJob(msg)
		if err != nil {
			r.logger.Warn("Skipping undecodable dead letter", "message_id", msg.ID, "error", err)
			continue
		}
		letter := domain.DeadLetter{
			MessageID:      msg.ID,
			OriginalStream: stringField(msg, "original_stream"),
			OriginalID:     stringField(msg, "original_msg_id"),
			Job:            job,
		}
		if at, err := time.Parse(time.RFC3339, stringField(msg, "failed_at")); err == nil {
			letter.FailedAt = at
		}
		out = append(out, letter)
	}
	return out, nil
}

func (r *AdminRepository) decodeAll(msgs []redis.XMessage, what string) []domain.Job {
	jobs := make([]domain.Job, 0, len(msgs))
	for _, msg := range msgs {
		job, err := decodeJob(msg)
		if err != nil {
			r.logger.Warn("Skipping undecodable entry", "what", what, "message_id", msg.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func decodeJob(msg redis.XMessage) (domain.Job, error) {
	raw := stringField(msg, jobField)
	if raw == "" {
		return domain.Job{}, errors.New("entry has no job field")
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return domain.Job{}, err
	}
	job.StreamMessageID = msg.ID
	return job, nil
}

func stringField(msg redis.XMessage, key string) string {
	v, _ := msg.Values[key].(string)
	return v
}

func isMissingStream(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}
