package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// JobState is the progress of one submission job delivery.
type JobState string

const (
	StateReceived              JobState = "received"
	StateScoring               JobState = "scoring"
	StatePersisted             JobState = "persisted"
	StateSideEffectsDispatched JobState = "side_effects_dispatched"
	StateDone                  JobState = "done"
)

// RiskAssessor runs the IP checks for a submission.
type RiskAssessor interface {
	Assess(ctx context.Context, ip, browserTZ string) domain.RiskAssessment
}

// AnalyzeSubmissionUseCase turns submission jobs into fraud results.
type AnalyzeSubmissionUseCase struct {
	scorer    domain.FraudScorer
	responses domain.ResponseRepository
	risk      RiskAssessor
	queue     domain.JobEnqueuer
	metrics   *metrics.WorkerMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewAnalyzeSubmissionUseCase creates the analysis worker. risk may be nil.
func NewAnalyzeSubmissionUseCase(
	scorer domain.FraudScorer,
	responses domain.ResponseRepository,
	risk RiskAssessor,
	queue domain.JobEnqueuer,
	m *metrics.WorkerMetrics,
	logger *slog.Logger,
) *AnalyzeSubmissionUseCase {
	return &AnalyzeSubmissionUseCase{
		scorer:    scorer,
		responses: responses,
		risk:      risk,
		queue:     queue,
		metrics:   m,
		logger:    logger.With("component", "analysis_worker"),
		now:       time.Now,
	}
}

// Handle is the submission-analysis queue handler.
func (uc *AnalyzeSubmissionUseCase) Handle(ctx context.Context, job domain.Job) error {
	var sub domain.SubmissionJob
	if err := job.Decode(&sub); err != nil {
		// Redelivering a payload that does not decode cannot succeed.
		uc.logger.Error("Discarding undecodable submission job", "error", err, "job_id", job.ID)
		return nil
	}
	sub.AttemptCount = job.Attempt + 1
	sub.JobID = job.ID
	_, err := uc.Analyze(ctx, sub)
	return err
}

// Analyze scores one submission, persists the result and dispatches the
// follow-up jobs. Only a failed write is returned, so that the queue retries.
func (uc *AnalyzeSubmissionUseCase) Analyze(ctx context.Context, sub domain.SubmissionJob) (domain.FraudResult, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "AnalyzeSubmission")
	defer span.End()
	span.SetAttributes(
		attribute.String("survey.id", sub.SurveyID),
		attribute.String("response.id", sub.ResponseID),
		attribute.Int("job.attempt", sub.AttemptCount),
	)

	log := uc.logger.With("survey_id", sub.SurveyID, "response_id", sub.ResponseID, "attempt", sub.AttemptCount)
	if sub.SurveyID == "" || sub.ResponseID == "" {
		log.Error("Discarding submission job without survey or response id")
		return domain.FraudResult{}, nil
	}
	log.Debug("Job state", "state", StateReceived)

	log.Debug("Job state", "state", StateScoring)
	score, err := uc.scorer.Score(ctx, sub.Behavioral)
	if err != nil {
		log.Warn("Fraud scorer unavailable, using neutral score", "error", err)
		uc.metrics.ScorerFallback()
		score = domain.NeutralScore()
	}

	factors := append([]string{}, score.RiskFactors...)
	if uc.risk != nil && sub.IPAddress != "" {
		factors = append(factors, RiskFactors(uc.risk.Assess(ctx, sub.IPAddress, sub.Timezone))...)
	}

	result := domain.FraudResult{
		ResponseID:  sub.ResponseID,
		SurveyID:    sub.SurveyID,
		FraudScore:  score.FraudProbability,
		IsFlagged:   score.IsSuspicious,
		RiskFactors: factors,
		AnalyzedAt:  uc.now().UTC(),
	}
	if err := uc.responses.UpdateFraudResult(ctx, result); err != nil {
		return result, fmt.Errorf("persist fraud result: %w", err)
	}
	log.Debug("Job state", "state", StatePersisted, "fraud_score", result.FraudScore, "flagged", result.IsFlagged)

	uc.dispatch(ctx, sub, result, log)
	log.Debug("Job state", "state", StateSideEffectsDispatched)

	log.Info("Submission analyzed", "state", StateDone, "fraud_score", result.FraudScore, "flagged", result.IsFlagged)
	return result, nil
}

// dispatch enqueues follow-up work. Failures are logged only; the result is
// already stored and scoring must not run again because of them.
func (uc *AnalyzeSubmissionUseCase) dispatch(ctx context.Context, sub domain.SubmissionJob, result domain.FraudResult, log *slog.Logger) {
	analytics := domain.AnalyticsJob{
		SurveyID:   sub.SurveyID,
		ResponseID: sub.ResponseID,
		Behavioral: sub.Behavioral,
		Result:     result,
		EnqueuedAt: uc.now().UTC(),
	}
	uc.enqueue(ctx, domain.QueueAnalyticsProcessing, analytics, log)

	if sub.Kind != domain.SubmissionGenerationCompleted {
		return
	}
	action := sub.CreditAction
	if action == "" {
		action = domain.DefaultGenerationAction
	}
	amount, ok := domain.CreditCosts[action]
	if !ok {
		log.Error("Unknown credit action, skipping debit", "action", action, "user_id", sub.UserID)
		return
	}
	debit := domain.DebitInstruction{
		UserID: sub.UserID,
		Action: action,
		Amount: amount,
		Metadata: map[string]any{
			"survey_id":   sub.SurveyID,
			"response_id": sub.ResponseID,
		},
	}
	if sub.JobID != "" {
		debit.Metadata["job_id"] = sub.JobID
	}
	uc.enqueue(ctx, domain.QueueCreditDistribution, debit, log)
}

func (uc *AnalyzeSubmissionUseCase) enqueue(ctx context.Context, queue domain.QueueName, payload any, log *slog.Logger) {
	_, err := uc.queue.Enqueue(ctx, queue, payload, domain.EnqueueOptions{})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrQueueUnavailable):
		log.Warn("Queue unavailable, dropping job", "queue", queue)
	default:
		log.Error("Failed to enqueue job", "error", err, "queue", queue)
	}
}
