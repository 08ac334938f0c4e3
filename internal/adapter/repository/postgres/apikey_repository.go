package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
)

type keyEntry struct {
	valid     bool
	expiresAt time.Time
}

// APIKeyRepository validates admin API keys against the api_keys table,
// remembering each answer for a fixed TTL.
type APIKeyRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.IngestMetrics
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]keyEntry
}

// NewAPIKeyRepository creates the key validator.
func NewAPIKeyRepository(db *sql.DB, logger *slog.Logger, ttl time.Duration, m *metrics.IngestMetrics) *APIKeyRepository {
	return &APIKeyRepository{
		db:      db,
		logger:  logger.With("component", "apikey_repository"),
		metrics: m,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]keyEntry),
	}
}

const apiKeyQuery = `SELECT EXISTS(SELECT 1 FROM api_keys WHERE key = $1 AND is_active = true AND (expires_at IS NULL OR expires_at > NOW()))`

// IsValid reports whether key exists, is active and has not expired.
func (r *APIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	if valid, ok := r.cached(key); ok {
		r.metrics.APIKeyLookup(true)
		return valid, nil
	}
	r.metrics.APIKeyLookup(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another request may have filled the entry while we waited.
	if e, ok := r.cache[key]; ok && r.now().Before(e.expiresAt) {
		return e.valid, nil
	}

	var valid bool
	if err := r.db.QueryRowContext(ctx, apiKeyQuery, key).Scan(&valid); err != nil {
		r.logger.Error("Failed to validate API key", "error", err)
		return false, err
	}

	r.cache[key] = keyEntry{valid: valid, expiresAt: r.now().Add(r.ttl)}
	return valid, nil
}

func (r *APIKeyRepository) cached(key string) (bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[key]
	if !ok || !r.now().Before(e.expiresAt) {
		return false, false
	}
	return e.valid, true
}
