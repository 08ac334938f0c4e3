package domain

import (
	"context"
	"time"
)

// EventFilter narrows a raw event listing.
type EventFilter struct {
	SurveyID  string
	SessionID string
	Limit     int
}

// EventRepository stores raw capture events.
type EventRepository interface {
	InsertEvent(ctx context.Context, event RawEvent) error
	ListEvents(ctx context.Context, filter EventFilter) ([]RawEvent, error)
}

// EventBulkWriter writes many raw events at once, idempotently on event id.
type EventBulkWriter interface {
	InsertEvents(ctx context.Context, events []RawEvent) error
}

// EventSpool is the local write-ahead log used while the event store is unreachable.
type EventSpool interface {
	// Write appends an event to the spool.
	Write(ctx context.Context, event RawEvent) error

	// Drain passes spooled events to handler in write order, at most
	// batchSize at a time. A segment is removed once all of its batches were
	// accepted, so a failed drain may hand out some events again.
	Drain(ctx context.Context, batchSize int, handler func(batch []RawEvent) error) error

	// Pending reports whether anything is spooled.
	Pending() bool
}

// ResponseRepository reads and writes survey response rows.
type ResponseRepository interface {
	// RecordCompletion creates or refreshes the row for a completed response.
	RecordCompletion(ctx context.Context, resp Response) error

	// UpdateFraudResult writes score, flag, reasons and analysis time in one
	// statement. The last writer wins.
	UpdateFraudResult(ctx context.Context, result FraudResult) error

	ListBySurvey(ctx context.Context, surveyID string) ([]Response, error)
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error)
}

// AnalyticsRepository keeps per-day counters.
type AnalyticsRepository interface {
	// Increment adds delta to the (survey, day) record, creating it when absent.
	// Concurrent calls must never lose an increment.
	Increment(ctx context.Context, surveyID string, day time.Time, delta AnalyticsDelta) error

	ListDaily(ctx context.Context, surveyID string, since time.Time) ([]AnalyticsDailyRecord, error)
}

// PatternRepository is the append-only store of training samples.
type PatternRepository interface {
	Append(ctx context.Context, sample BehavioralPatternSample) error
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// InsightRepository holds one insights aggregate per survey.
type InsightRepository interface {
	Replace(ctx context.Context, insights SurveyInsights) error
	Get(ctx context.Context, surveyID string) (SurveyInsights, error)
}

// CreditLedger debits user credit balances.
type CreditLedger interface {
	// Debit returns ErrInsufficientCredits when the balance does not cover the amount.
	Debit(ctx context.Context, instr DebitInstruction) error
}

// APIKeyRepository defines the interface for validating API keys.
type APIKeyRepository interface {
	// IsValid checks if the provided API key is valid and active.
	IsValid(ctx context.Context, key string) (bool, error)
}

// FraudScorer is the external behavioral scoring model.
type FraudScorer interface {
	Score(ctx context.Context, payload BehavioralPayload) (ScoreResult, error)
	TriggerRetraining(ctx context.Context, sampleCount int64) error
}

// GeoLocator resolves an IP address to location and network operator data.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (GeoLocation, error)
}

// RiskCache stores RiskRecords keyed by IP. Expired entries are reported as misses.
type RiskCache interface {
	Get(ctx context.Context, ip string) (RiskRecord, bool, error)
	Set(ctx context.Context, record RiskRecord) error
}

// StreamAdminRepository defines operations for inspecting and managing queue streams.
type StreamAdminRepository interface {
	GetGroupInfo(ctx context.Context, stream string) ([]ConsumerGroupInfo, error)
	GetConsumerInfo(ctx context.Context, stream, group string) ([]ConsumerInfo, error)
	GetPendingSummary(ctx context.Context, stream, group string) (*PendingMessageSummary, error)
	GetPendingMessages(ctx context.Context, stream, group, consumer string, startID string, count int64) ([]PendingMessageDetail, error)
	ClaimMessages(ctx context.Context, stream, group, consumer string, minIdleTime time.Duration, messageIDs []string) ([]Job, error)
	AcknowledgeMessages(ctx context.Context, stream, group string, messageIDs ...string) (int64, error)
	TrimStream(ctx context.Context, stream string, maxLen int64) (int64, error)
	ListDeadLetters(ctx context.Context, count int64) ([]DeadLetter, error)
}
