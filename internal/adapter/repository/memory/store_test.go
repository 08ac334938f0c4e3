package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

func TestStore_IncrementIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delta := domain.AnalyticsDelta{Completions: 1}
			if i%5 == 0 {
				delta.Fraudulent = 1
			}
			_ = s.Increment(ctx, "survey-1", day, delta)
		}(i)
	}
	wg.Wait()

	recs, err := s.ListDaily(ctx, "survey-1", day.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("ListDaily() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 daily record, got %d", len(recs))
	}
	if recs[0].TotalCompletions != workers {
		t.Errorf("TotalCompletions = %d, want %d", recs[0].TotalCompletions, workers)
	}
	if recs[0].FraudulentResponses != workers/5 {
		t.Errorf("FraudulentResponses = %d, want %d", recs[0].FraudulentResponses, workers/5)
	}
	if !recs[0].Date.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected date truncated to UTC day, got %v", recs[0].Date)
	}
}

func TestStore_ResponsesLastWriteWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	started := time.Now().Add(-5 * time.Minute)
	completed := time.Now()

	if err := s.RecordCompletion(ctx, domain.Response{ID: "r1", SurveyID: "s1", IPAddress: "1.2.3.4", StartedAt: &started, CompletedAt: &completed}); err != nil {
		t.Fatal(err)
	}
	first := domain.FraudResult{ResponseID: "r1", SurveyID: "s1", FraudScore: 0.9, IsFlagged: true, RiskFactors: []string{"bot"}, AnalyzedAt: time.Now()}
	second := domain.FraudResult{ResponseID: "r1", SurveyID: "s1", FraudScore: 0.1, IsFlagged: false, RiskFactors: []string{}, AnalyzedAt: time.Now()}
	_ = s.UpdateFraudResult(ctx, first)
	_ = s.UpdateFraudResult(ctx, second)

	got, ok := s.Response("r1")
	if !ok {
		t.Fatal("response missing")
	}
	if got.FraudScore != 0.1 || got.IsFlagged || len(got.FlagReasons) != 0 {
		t.Errorf("expected the whole second result to win, got %+v", got)
	}
	if got.StartedAt == nil || got.IPAddress != "1.2.3.4" {
		t.Error("fraud update must not clobber completion fields")
	}

	n, _ := s.CountByIPSince(ctx, "1.2.3.4", time.Now().Add(-time.Hour))
	if n != 1 {
		t.Errorf("CountByIPSince = %d, want 1", n)
	}
}

func TestStore_Debit(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetCredits("u1", 30)

	if err := s.Debit(ctx, domain.DebitInstruction{UserID: "u1", Action: "survey_simple", Amount: 20}); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	err := s.Debit(ctx, domain.DebitInstruction{UserID: "u1", Action: "survey_simple", Amount: 20})
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if s.Credits("u1") != 10 {
		t.Errorf("balance = %d, want 10", s.Credits("u1"))
	}
}

func TestStore_EventsIdempotentAndFiltered(t *testing.T) {
	s := New()
	ctx := context.Background()
	e1 := domain.RawEvent{ID: "e1", SurveyID: "s1", SessionID: "a", Type: domain.EventSurveyStarted, Timestamp: 2}
	e2 := domain.RawEvent{ID: "e2", SurveyID: "s1", SessionID: "b", Type: domain.EventSurveyStarted, Timestamp: 1}
	e3 := domain.RawEvent{ID: "e3", SurveyID: "s2", SessionID: "a", Type: domain.EventSurveyStarted, Timestamp: 3}

	_ = s.InsertEvents(ctx, []domain.RawEvent{e1, e2, e3})
	_ = s.InsertEvents(ctx, []domain.RawEvent{e1})

	all, _ := s.ListEvents(ctx, domain.EventFilter{SurveyID: "s1"})
	if len(all) != 2 || all[0].ID != "e2" {
		t.Fatalf("expected 2 events ordered by timestamp, got %+v", all)
	}
	one, _ := s.ListEvents(ctx, domain.EventFilter{SurveyID: "s1", SessionID: "a"})
	if len(one) != 1 || one[0].ID != "e1" {
		t.Fatalf("expected session filter to apply, got %+v", one)
	}
}

func TestStore_InsightsNotFound(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RecordCompletionMergesLikeUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()
	completed := time.Now()

	if err := s.RecordCompletion(ctx, domain.Response{ID: "r1", SurveyID: "s1", IPAddress: "1.2.3.4", CompletedAt: &completed}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordCompletion(ctx, domain.Response{ID: "r1", SurveyID: "s2", RespondentID: "u1"}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Response("r1")
	if got.SurveyID != "s1" {
		t.Errorf("SurveyID = %q, want the value from the first insert", got.SurveyID)
	}
	if got.RespondentID != "u1" || got.IPAddress != "1.2.3.4" {
		t.Errorf("merged response = %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, an empty value must not clear it", got.CompletedAt)
	}
}
