package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// DistributeCreditsUseCase applies debit instructions to the credit ledger.
type DistributeCreditsUseCase struct {
	ledger domain.CreditLedger
	logger *slog.Logger
}

func NewDistributeCreditsUseCase(ledger domain.CreditLedger, logger *slog.Logger) *DistributeCreditsUseCase {
	return &DistributeCreditsUseCase{ledger: ledger, logger: logger.With("component", "credit_distribution")}
}

// Handle is the credit-distribution queue handler. Ledger errors other than
// an insufficient balance are returned for retry.
func (uc *DistributeCreditsUseCase) Handle(ctx context.Context, job domain.Job) error {
	var instr domain.DebitInstruction
	if err := job.Decode(&instr); err != nil {
		uc.logger.Error("Discarding undecodable debit instruction", "error", err, "job_id", job.ID)
		return nil
	}
	if instr.UserID == "" || instr.Amount <= 0 {
		uc.logger.Error("Discarding invalid debit instruction", "job_id", job.ID, "user_id", instr.UserID, "amount", instr.Amount)
		return nil
	}
	if instr.Metadata == nil {
		instr.Metadata = map[string]any{}
	}
	instr.Metadata["job_id"] = job.ID

	err := uc.ledger.Debit(ctx, instr)
	switch {
	case err == nil:
		uc.logger.Info("Debited credits", "user_id", instr.UserID, "action", instr.Action, "amount", instr.Amount)
		return nil
	case errors.Is(err, domain.ErrInsufficientCredits):
		uc.logger.Warn("Insufficient credits, debit skipped", "user_id", instr.UserID, "action", instr.Action, "amount", instr.Amount)
		return nil
	default:
		return err
	}
}
