package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/domain"
)

const replayBatchSize = 500

// EventRepository stores raw capture events. While Postgres is unreachable,
// events are spooled to the WAL and written back once it recovers.
type EventRepository struct {
	db          *sql.DB
	logger      *slog.Logger
	wal         domain.EventSpool
	metrics     *metrics.IngestMetrics
	isAvailable atomic.Bool
}

// NewEventRepository creates the event store. wal may be nil.
func NewEventRepository(db *sql.DB, wal domain.EventSpool, logger *slog.Logger, m *metrics.IngestMetrics) *EventRepository {
	r := &EventRepository{
		db:      db,
		logger:  logger.With("component", "event_repository"),
		wal:     wal,
		metrics: m,
	}
	r.isAvailable.Store(true)
	return r
}

// StartHealthCheck pings Postgres on every tick and drains the WAL after recovery.
func (r *EventRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if r.wal == nil {
		r.logger.Info("WAL is not configured, skipping health check/replayer")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHealth(ctx)
		}
	}
}

func (r *EventRepository) checkHealth(ctx context.Context) {
	if err := r.db.PingContext(ctx); err != nil {
		if r.isAvailable.CompareAndSwap(true, false) {
			r.logger.Error("Postgres connection lost, spooling events to WAL", "error", err)
			r.metrics.SetWALActive(true)
		}
		return
	}

	if !r.isAvailable.Load() || r.wal.Pending() {
		if err := r.ReplayWAL(ctx); err != nil {
			r.logger.Error("Failed to replay WAL after Postgres recovery", "error", err)
			return
		}
		if r.isAvailable.CompareAndSwap(false, true) {
			r.logger.Info("Postgres connection recovered")
		}
		r.metrics.SetWALActive(false)
	}
}

// ReplayWAL writes spooled events back in batches. Segments are removed as
// they are committed.
func (r *EventRepository) ReplayWAL(ctx context.Context) error {
	total := 0
	err := r.wal.Drain(ctx, replayBatchSize, func(batch []domain.RawEvent) error {
		if err := r.InsertEvents(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		return nil
	})
	r.metrics.Replayed(total)
	if err != nil {
		return fmt.Errorf("WAL replay failed after %d events: %w", total, err)
	}
	if total > 0 {
		r.logger.Info("WAL replay to Postgres completed", "events", total)
	}
	return nil
}

// InsertEvent stores one event, falling back to the WAL on connection loss.
func (r *EventRepository) InsertEvent(ctx context.Context, event domain.RawEvent) error {
	if !r.isAvailable.Load() && r.wal != nil {
		return r.spool(ctx, event)
	}

	err := r.insert(ctx, event)
	if err != nil && IsConnectionError(err) && r.wal != nil {
		if r.isAvailable.CompareAndSwap(true, false) {
			r.logger.Error("Postgres connection lost during write", "error", err)
			r.metrics.SetWALActive(true)
		}
		return r.spool(ctx, event)
	}
	return err
}

func (r *EventRepository) spool(ctx context.Context, event domain.RawEvent) error {
	r.logger.Warn("Postgres is unavailable, writing event to WAL", "event_id", event.ID)
	if err := r.wal.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to spool event: %w", err)
	}
	r.metrics.Event("spooled")
	return nil
}

const insertEventQuery = `
	INSERT INTO survey_events (id, survey_id, session_id, user_id, event_type, page_id, component_id, client_ts, payload, data, pii_redacted, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING`

func (r *EventRepository) insert(ctx context.Context, e domain.RawEvent) error {
	payload, data, err := encodeEventDocs(e)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, insertEventQuery,
		e.ID, e.SurveyID, e.SessionID, nullString(e.UserID), string(e.Type),
		nullString(e.PageID), nullString(e.ComponentID), e.Timestamp,
		payload, data, e.PIIRedacted, e.ReceivedAt)
	return err
}

// InsertEvents bulk-loads events through COPY into a staging table and merges
// them, skipping ids that already exist.
func (r *EventRepository) InsertEvents(ctx context.Context, events []domain.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	const staging = "survey_events_import"
	if _, err := txn.ExecContext(ctx, `CREATE TEMP TABLE `+staging+` (LIKE survey_events INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return err
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(staging,
		"id", "survey_id", "session_id", "user_id", "event_type", "page_id", "component_id",
		"client_ts", "payload", "data", "pii_redacted", "received_at"))
	if err != nil {
		return err
	}

	for _, e := range events {
		payload, data, err := encodeEventDocs(e)
		if err != nil {
			_ = stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.SurveyID, e.SessionID, nullString(e.UserID), string(e.Type),
			nullString(e.PageID), nullString(e.ComponentID), e.Timestamp,
			payload, data, e.PIIRedacted, e.ReceivedAt); err != nil {
			_ = stmt.Close()
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	if _, err := txn.ExecContext(ctx, `
		INSERT INTO survey_events
		SELECT * FROM `+staging+`
		ON CONFLICT (id) DO NOTHING`); err != nil {
		return err
	}
	return txn.Commit()
}

// ListEvents returns matching events ordered by client timestamp.
func (r *EventRepository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.RawEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.SurveyID != "" {
		args = append(args, filter.SurveyID)
		where = append(where, fmt.Sprintf("survey_id = $%d", len(args)))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
	}

	query := `SELECT id, survey_id, session_id, COALESCE(user_id, ''), event_type, COALESCE(page_id, ''), COALESCE(component_id, ''),
		client_ts, payload, data, pii_redacted, received_at FROM survey_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY client_ts ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []domain.RawEvent
	for rows.Next() {
		var (
			e             domain.RawEvent
			eventType     string
			payload, data []byte
		)
		if err := rows.Scan(&e.ID, &e.SurveyID, &e.SessionID, &e.UserID, &eventType, &e.PageID, &e.ComponentID,
			&e.Timestamp, &payload, &data, &e.PIIRedacted, &e.ReceivedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(eventType)
		if e.Payload, err = domain.DecodePayload(e.Type, payload); err != nil {
			r.logger.Warn("Stored payload does not decode, omitting", "event_id", e.ID, "error", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				r.logger.Warn("Stored data does not decode, omitting", "event_id", e.ID, "error", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// encodeEventDocs renders the JSONB columns as text, which both the
// extended protocol and COPY accept.
func encodeEventDocs(e domain.RawEvent) (payload, data sql.NullString, err error) {
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return payload, data, fmt.Errorf("failed to marshal payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return payload, data, fmt.Errorf("failed to marshal data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}
	return payload, data, nil
}
