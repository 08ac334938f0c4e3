package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/adapter/pii"
	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// EngagementRecorder counts views and starts on the daily analytics record.
type EngagementRecorder interface {
	RecordView(ctx context.Context, surveyID string, at time.Time) error
	RecordStart(ctx context.Context, surveyID string, at time.Time) error
}

// BatchMeta is request context attached to every event of a batch.
type BatchMeta struct {
	IPAddress string
}

// SkippedEvent explains why one batch item was not stored.
type SkippedEvent struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestResult reports partial success so callers can detect dropped items.
type IngestResult struct {
	Processed int            `json:"processed"`
	Total     int            `json:"total"`
	Enqueued  int            `json:"enqueued"`
	Skipped   []SkippedEvent `json:"skipped,omitempty"`
}

// IngestEventsUseCase validates, persists and triages capture batches.
type IngestEventsUseCase struct {
	events     domain.EventRepository
	responses  domain.ResponseRepository
	engagement EngagementRecorder
	queue      domain.JobEnqueuer
	redactor   *pii.Redactor
	metrics    *metrics.IngestMetrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewIngestEventsUseCase creates the ingestion boundary. engagement may be nil.
func NewIngestEventsUseCase(
	events domain.EventRepository,
	responses domain.ResponseRepository,
	engagement EngagementRecorder,
	queue domain.JobEnqueuer,
	redactor *pii.Redactor,
	m *metrics.IngestMetrics,
	logger *slog.Logger,
) *IngestEventsUseCase {
	return &IngestEventsUseCase{
		events:     events,
		responses:  responses,
		engagement: engagement,
		queue:      queue,
		redactor:   redactor,
		metrics:    m,
		logger:     logger.With("component", "ingest_events"),
		now:        time.Now,
	}
}

// Ingest processes every item independently; no single failure aborts the batch.
func (uc *IngestEventsUseCase) Ingest(ctx context.Context, items []json.RawMessage, meta BatchMeta) IngestResult {
	ctx, span := otel.Tracer("usecase").Start(ctx, "IngestEvents")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(items)))

	res := IngestResult{Total: len(items)}
	for i, raw := range items {
		event, err := uc.decode(raw)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedEvent{Index: i, Reason: err.Error()})
			uc.metrics.Event("skipped")
			continue
		}

		if err := uc.events.InsertEvent(ctx, event); err != nil {
			uc.logger.Error("Failed to persist event", "error", err, "event_id", event.ID, "survey_id", event.SurveyID)
			res.Skipped = append(res.Skipped, SkippedEvent{Index: i, Reason: "persist failed"})
			uc.metrics.Event("failed")
			continue
		}
		res.Processed++
		uc.metrics.Event("accepted")

		uc.recordEngagement(ctx, event)

		if event.Type == domain.EventSurveyCompleted && uc.submit(ctx, event, meta) {
			res.Enqueued++
		}
	}

	span.SetAttributes(attribute.Int("batch.processed", res.Processed), attribute.Int("batch.enqueued", res.Enqueued))
	return res
}

func (uc *IngestEventsUseCase) decode(raw json.RawMessage) (domain.RawEvent, error) {
	var event domain.RawEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, err
	}
	if err := event.Validate(); err != nil {
		return event, err
	}

	// Identity and redaction state are server assigned; whatever the client
	// sent in those fields is discarded.
	event.ID = uuid.NewString()
	event.PIIRedacted = false
	event.ReceivedAt = uc.now().UTC()
	if uc.redactor != nil {
		uc.redactor.Redact(&event)
	}
	return event, nil
}

func (uc *IngestEventsUseCase) recordEngagement(ctx context.Context, event domain.RawEvent) {
	if uc.engagement == nil {
		return
	}
	var err error
	switch event.Type {
	case domain.EventPageViewed:
		err = uc.engagement.RecordView(ctx, event.SurveyID, event.OccurredAt())
	case domain.EventSurveyStarted:
		err = uc.engagement.RecordStart(ctx, event.SurveyID, event.OccurredAt())
	}
	if err != nil {
		uc.logger.Warn("Failed to count engagement", "error", err, "survey_id", event.SurveyID, "event_type", event.Type)
	}
}

// submit records the completed response and enqueues it for analysis. It
// reports whether the job reached the broker.
func (uc *IngestEventsUseCase) submit(ctx context.Context, event domain.RawEvent, meta BatchMeta) bool {
	completion, _ := event.Completion()
	if completion == nil {
		completion = &domain.CompletionPayload{}
	}

	responseID := completion.ResponseID
	if responseID == "" {
		responseID = event.ID
	}
	completedAt := event.OccurredAt()
	resp := domain.Response{
		ID:           responseID,
		SurveyID:     event.SurveyID,
		RespondentID: event.UserID,
		IPAddress:    meta.IPAddress,
		CompletedAt:  &completedAt,
	}
	if completion.StartedAt > 0 {
		started := time.UnixMilli(completion.StartedAt).UTC()
		resp.StartedAt = &started
	}
	if err := uc.responses.RecordCompletion(ctx, resp); err != nil {
		uc.logger.Error("Failed to record completed response", "error", err, "response_id", responseID)
	}

	behavioral := completion.Behavioral
	behavioral.SurveyID = event.SurveyID
	behavioral.ResponseID = responseID

	job := domain.SubmissionJob{
		Kind:       domain.SubmissionResponseCompleted,
		SurveyID:   event.SurveyID,
		ResponseID: responseID,
		UserID:     event.UserID,
		IPAddress:  meta.IPAddress,
		Timezone:   completion.Timezone,
		Behavioral: behavioral.Normalized(),
		EnqueuedAt: uc.now().UTC(),
		Priority:   domain.PriorityNormal,
	}
	if completion.CreditAction != "" && event.UserID != "" {
		job.Kind = domain.SubmissionGenerationCompleted
		job.CreditAction = completion.CreditAction
	}

	queue := domain.QueueSubmissionAnalysis
	handle, err := uc.queue.Enqueue(ctx, queue, job, domain.EnqueueOptions{Priority: job.Priority})
	if err != nil {
		if errors.Is(err, domain.ErrQueueUnavailable) {
			uc.logger.Warn("Queue unavailable, dropping submission job", "queue", queue, "survey_id", job.SurveyID, "response_id", responseID)
		} else {
			uc.logger.Warn("Failed to enqueue submission job, dropping it", "error", err, "queue", queue, "response_id", responseID)
		}
		uc.metrics.Dropped(string(queue))
		return false
	}

	uc.metrics.Enqueued(string(queue))
	uc.logger.Debug("Enqueued submission job", "job_id", handle.ID, "response_id", responseID)
	return true
}

// EventReader is the read side of the raw event store.
type EventReader interface {
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.RawEvent, error)
}

// CaptureReportUseCase serves the capture read path.
type CaptureReportUseCase struct {
	events EventReader
}

func NewCaptureReportUseCase(events EventReader) *CaptureReportUseCase {
	return &CaptureReportUseCase{events: events}
}

// Report aggregates the stored events of a survey, optionally narrowed to one session.
func (uc *CaptureReportUseCase) Report(ctx context.Context, surveyID, sessionID string) (domain.CaptureReport, error) {
	events, err := uc.events.ListEvents(ctx, domain.EventFilter{SurveyID: surveyID, SessionID: sessionID})
	if err != nil {
		return domain.CaptureReport{}, err
	}
	return BuildCaptureReport(events), nil
}
