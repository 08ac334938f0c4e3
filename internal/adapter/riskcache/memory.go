// Package riskcache stores IP risk records for a fixed TTL.
package riskcache

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// Memory is a process-local RiskCache. Expired entries are evicted lazily.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	records map[string]domain.RiskRecord
}

// NewMemory creates an in-memory cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, records: make(map[string]domain.RiskRecord)}
}

func (m *Memory) Get(ctx context.Context, ip string) (domain.RiskRecord, bool, error) {
	m.mu.RLock()
	rec, ok := m.records[ip]
	m.mu.RUnlock()
	if !ok {
		return domain.RiskRecord{}, false, nil
	}
	if !fresh(rec, m.ttl, m.now()) {
		m.mu.Lock()
		if cur, ok := m.records[ip]; ok && cur.CachedAt.Equal(rec.CachedAt) {
			delete(m.records, ip)
		}
		m.mu.Unlock()
		return domain.RiskRecord{}, false, nil
	}
	return rec, true, nil
}

// Set stores record, stamping CachedAt when it is unset.
func (m *Memory) Set(ctx context.Context, record domain.RiskRecord) error {
	if record.CachedAt.IsZero() {
		record.CachedAt = m.now()
	}
	m.mu.Lock()
	m.records[record.IP] = record
	m.mu.Unlock()
	return nil
}

func fresh(rec domain.RiskRecord, ttl time.Duration, now time.Time) bool {
	return rec.CachedAt.Add(ttl).After(now)
}
