package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// TriggerRetrainingUseCase forwards retraining signals to the scorer.
type TriggerRetrainingUseCase struct {
	scorer domain.FraudScorer
	logger *slog.Logger
}

func NewTriggerRetrainingUseCase(scorer domain.FraudScorer, logger *slog.Logger) *TriggerRetrainingUseCase {
	return &TriggerRetrainingUseCase{scorer: scorer, logger: logger.With("component", "retraining_trigger")}
}

// Handle is the model-retraining queue handler.
func (uc *TriggerRetrainingUseCase) Handle(ctx context.Context, job domain.Job) error {
	var rj domain.RetrainingJob
	if err := job.Decode(&rj); err != nil {
		uc.logger.Error("Discarding undecodable retraining job", "error", err, "job_id", job.ID)
		return nil
	}
	if err := uc.scorer.TriggerRetraining(ctx, rj.SampleCount); err != nil {
		uc.logger.Error("Model retraining request failed", "error", err, "samples", rj.SampleCount)
		return fmt.Errorf("trigger retraining: %w", err)
	}
	uc.logger.Info("Model retraining requested", "samples", rj.SampleCount, "window_start", rj.WindowStart)
	return nil
}
