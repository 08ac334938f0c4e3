package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// CreditLedger debits user_credits and records each debit in credit_usage.
type CreditLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCreditLedger(db *sql.DB, logger *slog.Logger) *CreditLedger {
	return &CreditLedger{db: db, logger: logger.With("component", "credit_ledger")}
}

// Debit subtracts the amount only when the balance covers it.
func (l *CreditLedger) Debit(ctx context.Context, instr domain.DebitInstruction) error {
	meta, err := json.Marshal(instr.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode debit metadata: %w", err)
	}

	txn, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	res, err := txn.ExecContext(ctx, `
		UPDATE user_credits
		SET credits_remaining = credits_remaining - $2, updated_at = NOW()
		WHERE user_id = $1 AND credits_remaining >= $2`, instr.UserID, instr.Amount)
	if err != nil {
		return fmt.Errorf("failed to debit user %s: %w", instr.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", instr.UserID, domain.ErrInsufficientCredits)
	}

	if _, err := txn.ExecContext(ctx,
		`INSERT INTO credit_usage (user_id, action, amount, metadata) VALUES ($1, $2, $3, $4)`,
		instr.UserID, instr.Action, instr.Amount, string(meta)); err != nil {
		return fmt.Errorf("failed to record credit usage: %w", err)
	}
	return txn.Commit()
}
