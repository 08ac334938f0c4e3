package domain

import (
	"context"
	"encoding/json"
	"time"
)

// QueueName identifies a logical job queue.
type QueueName string

const (
	QueueSubmissionAnalysis  QueueName = "submission-analysis"
	QueueAnalyticsProcessing QueueName = "analytics-processing"
	QueueCreditDistribution  QueueName = "credit-distribution"
	QueueModelRetraining     QueueName = "model-retraining"
)

// Queues lists every queue a consumer process binds a worker to.
var Queues = []QueueName{
	QueueSubmissionAnalysis,
	QueueAnalyticsProcessing,
	QueueCreditDistribution,
	QueueModelRetraining,
}

// Priority maps to an ordinal; lower values are served first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// Priorities is the serving order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// EnqueueOptions tunes a single enqueue. Zero fields fall back to the queue policy.
type EnqueueOptions struct {
	Priority    Priority
	Delay       time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// QueuePolicy holds the defaults applied to every job of a queue.
type QueuePolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Delay       time.Duration
	Priority    Priority
}

// QueuePolicies are the per-queue defaults.
var QueuePolicies = map[QueueName]QueuePolicy{
	QueueSubmissionAnalysis:  {MaxAttempts: 3, Backoff: 2 * time.Second, Priority: PriorityNormal},
	QueueAnalyticsProcessing: {MaxAttempts: 2, Backoff: 2 * time.Second, Delay: 5 * time.Second, Priority: PriorityNormal},
	QueueCreditDistribution:  {MaxAttempts: 3, Backoff: time.Second, Priority: PriorityHigh},
	QueueModelRetraining:     {MaxAttempts: 1, Priority: PriorityLow},
}

// Resolve merges per-call options over the queue policy.
func (p QueuePolicy) Resolve(opts EnqueueOptions) EnqueueOptions {
	out := EnqueueOptions{
		Priority:    p.Priority,
		Delay:       p.Delay,
		MaxAttempts: p.MaxAttempts,
		Backoff:     p.Backoff,
	}
	if opts.Priority.Valid() {
		out.Priority = opts.Priority
	}
	if opts.Delay > 0 {
		out.Delay = opts.Delay
	}
	if opts.MaxAttempts > 0 {
		out.MaxAttempts = opts.MaxAttempts
	}
	if opts.Backoff > 0 {
		out.Backoff = opts.Backoff
	}
	if !out.Priority.Valid() {
		out.Priority = PriorityNormal
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	return out
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID    string    `json:"id"`
	Queue QueueName `json:"queue"`
}

// Job is the envelope stored on the broker.
type Job struct {
	ID          string          `json:"id"`
	Queue       QueueName       `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Priority    Priority        `json:"priority"`
	Attempt     int             `json:"attempt"` // attempts already made
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`

	StreamMessageID string `json:"-"`
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// HasAttemptsLeft reports whether another delivery is allowed after the
// current one fails.
func (j Job) HasAttemptsLeft() bool {
	return j.Attempt+1 < j.MaxAttempts
}

// RetryDelay is the exponential backoff before the next attempt:
// base * 2^attempt.
func (j Job) RetryDelay() time.Duration {
	if j.Backoff <= 0 {
		return 0
	}
	return j.Backoff << uint(j.Attempt)
}

// JobHandler processes one delivery of a job. A non-nil error schedules a
// retry while attempts remain.
type JobHandler func(ctx context.Context, job Job) error

// SubmissionKind distinguishes respondent completions from generation
// completions that also debit credits.
type SubmissionKind string

const (
	SubmissionResponseCompleted   SubmissionKind = "response_completed"
	SubmissionGenerationCompleted SubmissionKind = "generation_completed"
)

// SubmissionJob asks the analysis worker to score one completed response.
type SubmissionJob struct {
	Kind         SubmissionKind    `json:"kind"`
	SurveyID     string            `json:"survey_id"`
	ResponseID   string            `json:"response_id"`
	UserID       string            `json:"user_id,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Timezone     string            `json:"timezone,omitempty"`
	CreditAction string            `json:"credit_action,omitempty"`
	Behavioral   BehavioralPayload `json:"behavioral"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	AttemptCount int               `json:"attempt_count"`
	Priority     Priority          `json:"priority"`

	// JobID is the queue job this submission arrived in. It is not part of
	// the payload.
	JobID string `json:"-"`
}

// AnalyticsJob carries the context the aggregator needs after scoring.
type AnalyticsJob struct {
	SurveyID   string            `json:"survey_id"`
	ResponseID string            `json:"response_id"`
	Behavioral BehavioralPayload `json:"behavioral"`
	Result     FraudResult       `json:"result"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// RetrainingJob signals that enough fresh pattern samples exist to retrain.
type RetrainingJob struct {
	SampleCount int64     `json:"sample_count"`
	WindowStart time.Time `json:"window_start"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// JobEnqueuer publishes jobs. Implementations return ErrQueueUnavailable,
// never a partial enqueue, when no broker can accept the job.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, queue QueueName, payload any, opts EnqueueOptions) (JobHandle, error)
}

// JobConsumer runs a handler against deliveries of one queue until ctx ends.
type JobConsumer interface {
	Consume(ctx context.Context, queue QueueName, handler JobHandler) error
}

// JobQueue is a broker supporting both sides.
type JobQueue interface {
	JobEnqueuer
	JobConsumer
}
