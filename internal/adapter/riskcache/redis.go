package riskcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

const keyPrefix = "risk:ip:"

// Redis is a RiskCache shared by every worker instance. Keys expire with the
// TTL, and CachedAt is checked again on read.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, now: time.Now}
}

func (r *Redis) Get(ctx context.Context, ip string) (domain.RiskRecord, bool, error) {
	raw, err := r.client.Get(ctx, keyPrefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RiskRecord{}, false, nil
	}
	if err != nil {
		return domain.RiskRecord{}, false, fmt.Errorf("failed to read risk record: %w", err)
	}

	var rec domain.RiskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.RiskRecord{}, false, fmt.Errorf("failed to decode risk record: %w", err)
	}
	if !fresh(rec, r.ttl, r.now()) {
		return domain.RiskRecord{}, false, nil
	}
	return rec, true, nil
}

func (r *Redis) Set(ctx context.Context, record domain.RiskRecord) error {
	if record.CachedAt.IsZero() {
		record.CachedAt = r.now()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, keyPrefix+record.IP, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write risk record: %w", err)
	}
	return nil
}
