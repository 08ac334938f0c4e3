package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/adapter/repository/memory"
	"github.com/V4T54L/survey-sentinel/internal/domain"
	"github.com/V4T54L/survey-sentinel/internal/domain/mocks"
)

type stubAssessor struct {
	assessment domain.RiskAssessment
	calls      int
}

func (s *stubAssessor) Assess(ctx context.Context, ip, browserTZ string) domain.RiskAssessment {
	s.calls++
	return s.assessment
}

func seedResponse(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	completed := time.Now()
	if err := store.RecordCompletion(context.Background(), domain.Response{ID: id, SurveyID: "s1", CompletedAt: &completed}); err != nil {
		t.Fatal(err)
	}
}

func submissionJob(t *testing.T, sub domain.SubmissionJob, attempt int) domain.Job {
	t.Helper()
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatal(err)
	}
	return domain.Job{ID: "job-1", Queue: domain.QueueSubmissionAnalysis, Payload: raw, Attempt: attempt, MaxAttempts: 3}
}

func TestAnalyze_ScoresAndDispatches(t *testing.T) {
	store := memory.New()
	seedResponse(t, store, "r1")
	scorer := &mocks.MockScorer{Result: domain.ScoreResult{FraudProbability: 0.82, IsSuspicious: true, RiskFactors: []string{"linear mouse path"}}}
	queue := &mocks.MockQueue{}
	uc := NewAnalyzeSubmissionUseCase(scorer, store, nil, queue, nil, discardLogger())

	sub := domain.SubmissionJob{Kind: domain.SubmissionResponseCompleted, SurveyID: "s1", ResponseID: "r1"}
	if err := uc.Handle(context.Background(), submissionJob(t, sub, 0)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	resp, _ := store.Response("r1")
	if resp.FraudScore != 0.82 || !resp.IsFlagged || resp.AnalyzedAt == nil {
		t.Errorf("unexpected response row: %+v", resp)
	}
	if len(resp.FlagReasons) != 1 || resp.FlagReasons[0] != "linear mouse path" {
		t.Errorf("FlagReasons = %v", resp.FlagReasons)
	}

	jobs := queue.For(domain.QueueAnalyticsProcessing)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 analytics job, got %d", len(jobs))
	}
	var aj domain.AnalyticsJob
	if err := json.Unmarshal(jobs[0].Payload, &aj); err != nil {
		t.Fatal(err)
	}
	if aj.Result.FraudScore != 0.82 || aj.ResponseID != "r1" {
		t.Errorf("unexpected analytics job: %+v", aj)
	}
	if len(queue.For(domain.QueueCreditDistribution)) != 0 {
		t.Error("a response completion must not debit credits")
	}
}

func TestAnalyze_ScorerFailureFallsBackToNeutral(t *testing.T) {
	store := memory.New()
	seedResponse(t, store, "r1")
	m := metrics.NewWorkerMetrics(prometheus.NewRegistry())
	scorer := &mocks.MockScorer{ScoreErr: errors.New("scorer returned 500")}
	uc := NewAnalyzeSubmissionUseCase(scorer, store, nil, &mocks.MockQueue{}, m, discardLogger())

	result, err := uc.Analyze(context.Background(), domain.SubmissionJob{SurveyID: "s1", ResponseID: "r1"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if result.FraudScore != 0 || result.IsFlagged {
		t.Errorf("expected neutral result, got %+v", result)
	}
	resp, _ := store.Response("r1")
	if resp.AnalyzedAt == nil {
		t.Error("neutral result should still be persisted")
	}
	if got := testutil.ToFloat64(m.ScorerFallbacks); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}

func TestAnalyze_PersistFailureIsReturned(t *testing.T) {
	responses := &mocks.MockResponseRepository{UpdateErr: errors.New("connection reset")}
	queue := &mocks.MockQueue{}
	uc := NewAnalyzeSubmissionUseCase(&mocks.MockScorer{}, responses, nil, queue, nil, discardLogger())

	err := uc.Handle(context.Background(), submissionJob(t, domain.SubmissionJob{SurveyID: "s1", ResponseID: "r1"}, 1))
	if err == nil {
		t.Fatal("expected the persist error to be returned for retry")
	}
	if len(queue.Enqueued) != 0 {
		t.Error("no follow-up jobs should be dispatched before the result is stored")
	}
}

func TestAnalyze_RiskFactorsDoNotChangeScore(t *testing.T) {
	store := memory.New()
	seedResponse(t, store, "r1")
	risk := &stubAssessor{assessment: domain.RiskAssessment{
		Record:   domain.RiskRecord{IsTor: true, RiskScore: 0.4, ThreatLevel: domain.ThreatMedium},
		Timezone: domain.TimezoneCheck{IsConsistent: true},
	}}
	scorer := &mocks.MockScorer{Result: domain.ScoreResult{FraudProbability: 0.1}}
	uc := NewAnalyzeSubmissionUseCase(scorer, store, risk, &mocks.MockQueue{}, nil, discardLogger())

	result, err := uc.Analyze(context.Background(), domain.SubmissionJob{SurveyID: "s1", ResponseID: "r1", IPAddress: "192.0.2.9"})
	if err != nil {
		t.Fatal(err)
	}
	if result.FraudScore != 0.1 {
		t.Errorf("FraudScore = %v, want 0.1", result.FraudScore)
	}
	if len(result.RiskFactors) != 1 || result.RiskFactors[0] != "Tor network detected" {
		t.Errorf("RiskFactors = %v", result.RiskFactors)
	}

	if _, err := uc.Analyze(context.Background(), domain.SubmissionJob{SurveyID: "s1", ResponseID: "r1"}); err != nil {
		t.Fatal(err)
	}
	if risk.calls != 1 {
		t.Errorf("risk assessed %d times, want 1 (no ip on the second job)", risk.calls)
	}
}

func TestAnalyze_GenerationDebits(t *testing.T) {
	tests := []struct {
		name       string
		action     string
		wantAmount int64
		wantDebit  bool
	}{
		{"named action", "survey_complex", 50, true},
		{"default action", "", 20, true},
		{"unknown action", "survey_gigantic", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seedResponse(t, store, "r1")
			queue := &mocks.MockQueue{}
			uc := NewAnalyzeSubmissionUseCase(&mocks.MockScorer{}, store, nil, queue, nil, discardLogger())

			sub := domain.SubmissionJob{
				Kind:         domain.SubmissionGenerationCompleted,
				SurveyID:     "s1",
				ResponseID:   "r1",
				UserID:       "u1",
				CreditAction: tt.action,
			}
			if err := uc.Handle(context.Background(), submissionJob(t, sub, 0)); err != nil {
				t.Fatal(err)
			}

			debits := queue.For(domain.QueueCreditDistribution)
			if !tt.wantDebit {
				if len(debits) != 0 {
					t.Errorf("expected no debit, got %d", len(debits))
				}
				return
			}
			if len(debits) != 1 {
				t.Fatalf("expected 1 debit, got %d", len(debits))
			}
			var instr domain.DebitInstruction
			if err := json.Unmarshal(debits[0].Payload, &instr); err != nil {
				t.Fatal(err)
			}
			if instr.UserID != "u1" || instr.Amount != tt.wantAmount {
				t.Errorf("unexpected debit: %+v", instr)
			}
			if instr.Metadata["job_id"] != "job-1" || instr.Metadata["response_id"] != "r1" {
				t.Errorf("debit metadata = %v, want job and response ids", instr.Metadata)
			}
		})
	}
}

func TestAnalyze_EnqueueFailureDoesNotFailJob(t *testing.T) {
	store := memory.New()
	seedResponse(t, store, "r1")
	queue := &mocks.MockQueue{ErrFor: map[domain.QueueName]error{domain.QueueAnalyticsProcessing: domain.ErrQueueUnavailable}}
	uc := NewAnalyzeSubmissionUseCase(&mocks.MockScorer{}, store, nil, queue, nil, discardLogger())

	if _, err := uc.Analyze(context.Background(), domain.SubmissionJob{SurveyID: "s1", ResponseID: "r1"}); err != nil {
		t.Errorf("Analyze() error = %v, want nil", err)
	}
}

func TestAnalyze_DiscardsBadJobs(t *testing.T) {
	responses := &mocks.MockResponseRepository{}
	scorer := &mocks.MockScorer{}
	uc := NewAnalyzeSubmissionUseCase(scorer, responses, nil, &mocks.MockQueue{}, nil, discardLogger())

	bad := domain.Job{ID: "job-x", Payload: json.RawMessage(`{"survey_id":`)}
	if err := uc.Handle(context.Background(), bad); err != nil {
		t.Errorf("undecodable job: Handle() error = %v, want nil", err)
	}
	if err := uc.Handle(context.Background(), submissionJob(t, domain.SubmissionJob{SurveyID: "s1"}, 0)); err != nil {
		t.Errorf("job without response id: Handle() error = %v, want nil", err)
	}
	if len(scorer.Scored) != 0 || len(responses.Results) != 0 {
		t.Error("discarded jobs must not be scored or persisted")
	}
}
