package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/adapter/pii"
	"github.com/V4T54L/survey-sentinel/internal/adapter/repository/memory"
	"github.com/V4T54L/survey-sentinel/internal/domain"
	"github.com/V4T54L/survey-sentinel/internal/domain/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawItems(docs ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = json.RawMessage(d)
	}
	return out
}

const (
	viewedDoc    = `{"surveyId":"s1","sessionId":"sess-1","eventType":"page_viewed","pageId":"p1","timestamp":1700000000000}`
	startedDoc   = `{"surveyId":"s1","sessionId":"sess-1","eventType":"survey_started","timestamp":1700000001000,"payload":{"deviceType":"desktop"}}`
	completedDoc = `{"surveyId":"s1","sessionId":"sess-1","eventType":"survey_completed","timestamp":1700000061000,` +
		`"payload":{"responseId":"r1","startedAt":1700000001000,"timezone":"Europe/Berlin","behavioral":{"response_times":[1200,900]}}}`
)

func newIngest(store *memory.Store, queue domain.JobEnqueuer, m *metrics.IngestMetrics) *IngestEventsUseCase {
	log := discardLogger()
	agg := NewAnalyticsAggregator(store, store, store, store, queue, 0, nil, log)
	return NewIngestEventsUseCase(store, store, agg, queue, pii.NewRedactor([]string{"email"}, log), m, log)
}

func TestIngest_LifecycleBatch(t *testing.T) {
	store := memory.New()
	queue := &mocks.MockQueue{}
	uc := newIngest(store, queue, nil)

	res := uc.Ingest(context.Background(), rawItems(viewedDoc, startedDoc, completedDoc), BatchMeta{IPAddress: "203.0.113.7"})

	if res.Processed != 3 || res.Total != 3 || res.Enqueued != 1 || len(res.Skipped) != 0 {
		t.Fatalf("result = %+v, want 3 processed, 3 total, 1 enqueued", res)
	}

	jobs := queue.For(domain.QueueSubmissionAnalysis)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 submission job, got %d", len(jobs))
	}
	var sub domain.SubmissionJob
	if err := json.Unmarshal(jobs[0].Payload, &sub); err != nil {
		t.Fatalf("decode submission job: %v", err)
	}
	if sub.ResponseID != "r1" || sub.SurveyID != "s1" || sub.IPAddress != "203.0.113.7" {
		t.Errorf("unexpected submission job: %+v", sub)
	}
	if sub.Kind != domain.SubmissionResponseCompleted {
		t.Errorf("Kind = %q, want %q", sub.Kind, domain.SubmissionResponseCompleted)
	}
	if sub.Behavioral.ResponseID != "r1" || len(sub.Behavioral.ResponseTimes) != 2 {
		t.Errorf("unexpected behavioral payload: %+v", sub.Behavioral)
	}
	if sub.Behavioral.MouseMovements == nil {
		t.Error("behavioral lists should be normalized to empty slices")
	}

	resp, ok := store.Response("r1")
	if !ok {
		t.Fatal("completed response was not recorded")
	}
	if resp.IPAddress != "203.0.113.7" || resp.StartedAt == nil || resp.CompletedAt == nil {
		t.Errorf("unexpected response row: %+v", resp)
	}

	daily, err := store.ListDaily(context.Background(), "s1", time.UnixMilli(1700000000000).AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("ListDaily() error = %v", err)
	}
	if len(daily) != 1 || daily[0].TotalViews != 1 || daily[0].TotalStarts != 1 {
		t.Errorf("daily = %+v, want one view and one start", daily)
	}

	events, _ := store.ListEvents(context.Background(), domain.EventFilter{SurveyID: "s1"})
	if len(events) != 3 {
		t.Fatalf("stored %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.ID == "" {
			t.Error("stored event has no id")
		}
		if e.ReceivedAt.IsZero() {
			t.Error("stored event has no receipt time")
		}
	}
}

func TestIngest_QueueUnavailable(t *testing.T) {
	store := memory.New()
	queue := &mocks.MockQueue{Err: domain.ErrQueueUnavailable}
	m := metrics.NewIngestMetrics(prometheus.NewRegistry())
	uc := newIngest(store, queue, m)

	res := uc.Ingest(context.Background(), rawItems(viewedDoc, startedDoc, completedDoc), BatchMeta{})

	if res.Processed != 3 {
		t.Errorf("Processed = %d, want 3", res.Processed)
	}
	if res.Enqueued != 0 {
		t.Errorf("Enqueued = %d, want 0", res.Enqueued)
	}
	if got := testutil.ToFloat64(m.JobsDropped.WithLabelValues(string(domain.QueueSubmissionAnalysis))); got != 1 {
		t.Errorf("dropped jobs = %v, want 1", got)
	}
	if _, ok := store.Response("r1"); !ok {
		t.Error("response should be recorded even when the queue is down")
	}
}

func TestIngest_SkipsInvalidItems(t *testing.T) {
	store := memory.New()
	uc := newIngest(store, &mocks.MockQueue{}, nil)

	items := rawItems(
		viewedDoc,
		`{"surveyId":"","sessionId":"sess-1","eventType":"page_viewed","timestamp":1700000000000}`,
		`not json`,
		`{"surveyId":"s1","sessionId":"sess-1","eventType":"teleported","timestamp":1700000000000}`,
		`{"surveyId":"s1","sessionId":"sess-1","eventType":"mouse_move","timestamp":1700000000000}`,
	)
	res := uc.Ingest(context.Background(), items, BatchMeta{})

	if res.Processed != 1 || res.Total != 5 {
		t.Fatalf("result = %+v, want 1 of 5 processed", res)
	}
	wantIdx := []int{1, 2, 3, 4}
	if len(res.Skipped) != len(wantIdx) {
		t.Fatalf("skipped = %+v, want indices %v", res.Skipped, wantIdx)
	}
	for i, idx := range wantIdx {
		if res.Skipped[i].Index != idx {
			t.Errorf("Skipped[%d].Index = %d, want %d", i, res.Skipped[i].Index, idx)
		}
		if res.Skipped[i].Reason == "" {
			t.Errorf("Skipped[%d] has no reason", i)
		}
	}
}

func TestIngest_PersistFailure(t *testing.T) {
	events := &mocks.MockEventRepository{InsertErr: errors.New("disk full")}
	responses := &mocks.MockResponseRepository{}
	queue := &mocks.MockQueue{}
	uc := NewIngestEventsUseCase(events, responses, nil, queue, nil, nil, discardLogger())

	res := uc.Ingest(context.Background(), rawItems(completedDoc), BatchMeta{})

	if res.Processed != 0 || len(res.Skipped) != 1 || res.Skipped[0].Reason != "persist failed" {
		t.Errorf("result = %+v, want one persist failure", res)
	}
	if len(queue.Enqueued) != 0 {
		t.Error("an unpersisted completion must not be enqueued")
	}
}

func TestIngest_RedactsAndAssignsID(t *testing.T) {
	events := &mocks.MockEventRepository{}
	uc := NewIngestEventsUseCase(events, &mocks.MockResponseRepository{}, nil, &mocks.MockQueue{},
		pii.NewRedactor([]string{"email"}, discardLogger()), nil, discardLogger())

	doc := `{"surveyId":"s1","sessionId":"sess-1","eventType":"question_answered","timestamp":1700000000000,"data":{"profile":{"Email":"a@example.com"}}}`
	res := uc.Ingest(context.Background(), rawItems(doc), BatchMeta{})
	if res.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", res.Processed)
	}

	got := events.Inserted[0]
	if got.ID == "" {
		t.Error("expected a generated id")
	}
	if !got.PIIRedacted {
		t.Error("expected event to be marked redacted")
	}
	profile := got.Data["profile"].(map[string]any)
	if profile["Email"] == "a@example.com" {
		t.Error("email was not redacted")
	}
}

func TestIngest_IgnoresClientIdentity(t *testing.T) {
	store := memory.New()
	uc := newIngest(store, &mocks.MockQueue{}, nil)

	doc := `{"id":"x","piiRedacted":true,"surveyId":"s1","sessionId":"sess-1","eventType":"page_viewed","timestamp":1700000000000}`
	res := uc.Ingest(context.Background(), rawItems(doc, doc), BatchMeta{})
	if res.Processed != 2 {
		t.Fatalf("Processed = %d, want 2", res.Processed)
	}

	stored, err := store.ListEvents(context.Background(), domain.EventFilter{SurveyID: "s1"})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d events, want 2 (processed count must match what was kept)", len(stored))
	}
	if stored[0].ID == "x" || stored[1].ID == "x" || stored[0].ID == stored[1].ID {
		t.Errorf("ids = %q, %q; want two fresh server ids", stored[0].ID, stored[1].ID)
	}
	if stored[0].PIIRedacted {
		t.Error("client-supplied piiRedacted flag should not survive ingestion")
	}
}

func TestIngest_GenerationCompletion(t *testing.T) {
	queue := &mocks.MockQueue{}
	uc := NewIngestEventsUseCase(&mocks.MockEventRepository{}, &mocks.MockResponseRepository{}, nil, queue, nil, nil, discardLogger())

	doc := `{"surveyId":"s1","sessionId":"sess-1","userId":"u1","eventType":"survey_completed","timestamp":1700000061000,"payload":{"creditAction":"survey_complex"}}`
	res := uc.Ingest(context.Background(), rawItems(doc), BatchMeta{})
	if res.Enqueued != 1 {
		t.Fatalf("Enqueued = %d, want 1", res.Enqueued)
	}

	var sub domain.SubmissionJob
	if err := json.Unmarshal(queue.Enqueued[0].Payload, &sub); err != nil {
		t.Fatal(err)
	}
	if sub.Kind != domain.SubmissionGenerationCompleted || sub.CreditAction != "survey_complex" || sub.UserID != "u1" {
		t.Errorf("unexpected generation job: %+v", sub)
	}
	if sub.ResponseID == "" {
		t.Error("response id should fall back to the event id")
	}
}

func TestCaptureReport_FiltersBySession(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, e := range []domain.RawEvent{
		{ID: "1", SurveyID: "s1", SessionID: "a", Type: domain.EventSurveyStarted, Timestamp: 1000},
		{ID: "2", SurveyID: "s1", SessionID: "a", Type: domain.EventSurveyCompleted, Timestamp: 61000},
		{ID: "3", SurveyID: "s1", SessionID: "b", Type: domain.EventSurveyStarted, Timestamp: 2000},
		{ID: "4", SurveyID: "s2", SessionID: "c", Type: domain.EventSurveyStarted, Timestamp: 3000},
	} {
		if err := store.InsertEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	uc := NewCaptureReportUseCase(store)

	all, err := uc.Report(ctx, "s1", "")
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if all.Summary.TotalEvents != 3 || all.Summary.UniqueSessions != 2 || all.Summary.CompletionRate != 50 {
		t.Errorf("survey summary = %+v", all.Summary)
	}

	one, err := uc.Report(ctx, "s1", "a")
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if one.Summary.TotalEvents != 2 || one.Summary.CompletionRate != 100 || one.Summary.AverageTime != 60 {
		t.Errorf("session summary = %+v", one.Summary)
	}
}
