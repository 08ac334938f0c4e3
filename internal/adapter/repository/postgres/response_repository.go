package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// ResponseRepository reads and writes survey_responses.
type ResponseRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewResponseRepository(db *sql.DB, logger *slog.Logger) *ResponseRepository {
	return &ResponseRepository{db: db, logger: logger.With("component", "response_repository")}
}

const recordCompletionQuery = `
	INSERT INTO survey_responses (id, survey_id, respondent_id, ip_address, started_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		respondent_id = COALESCE(EXCLUDED.respondent_id, survey_responses.respondent_id),
		ip_address    = COALESCE(EXCLUDED.ip_address, survey_responses.ip_address),
		started_at    = COALESCE(EXCLUDED.started_at, survey_responses.started_at),
		completed_at  = COALESCE(EXCLUDED.completed_at, survey_responses.completed_at)`

// RecordCompletion creates the response row, or fills in fields a previous
// write left empty.
func (r *ResponseRepository) RecordCompletion(ctx context.Context, resp domain.Response) error {
	_, err := r.db.ExecContext(ctx, recordCompletionQuery,
		resp.ID, resp.SurveyID, nullString(resp.RespondentID), nullString(resp.IPAddress),
		nullTime(resp.StartedAt), nullTime(resp.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to record completion of response %s: %w", resp.ID, err)
	}
	return nil
}

const updateFraudQuery = `
	UPDATE survey_responses
	SET fraud_score = $2, is_flagged = $3, flag_reasons = $4, analyzed_at = $5
	WHERE id = $1`

// UpdateFraudResult writes the analysis outcome in one statement.
func (r *ResponseRepository) UpdateFraudResult(ctx context.Context, result domain.FraudResult) error {
	reasons := result.RiskFactors
	if reasons == nil {
		reasons = []string{}
	}
	res, err := r.db.ExecContext(ctx, updateFraudQuery,
		result.ResponseID, result.FraudScore, result.IsFlagged, pq.Array(reasons), result.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("failed to update fraud result for response %s: %w", result.ResponseID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("response %s: %w", result.ResponseID, domain.ErrNotFound)
	}
	return nil
}

const listResponsesQuery = `
	SELECT id, survey_id, COALESCE(respondent_id, ''), COALESCE(ip_address, ''), started_at, completed_at,
		fraud_score, is_flagged, flag_reasons, analyzed_at, created_at
	FROM survey_responses
	WHERE survey_id = $1
	ORDER BY created_at ASC`

func (r *ResponseRepository) ListBySurvey(ctx context.Context, surveyID string) ([]domain.Response, error) {
	rows, err := r.db.QueryContext(ctx, listResponsesQuery, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	defer rows.Close()

	var out []domain.Response
	for rows.Next() {
		var (
			resp                         domain.Response
			started, completed, analyzed sql.NullTime
			reasons                      pq.StringArray
		)
		if err := rows.Scan(&resp.ID, &resp.SurveyID, &resp.RespondentID, &resp.IPAddress, &started, &completed,
			&resp.FraudScore, &resp.IsFlagged, &reasons, &analyzed, &resp.CreatedAt); err != nil {
			return nil, err
		}
		resp.StartedAt = timePtr(started)
		resp.CompletedAt = timePtr(completed)
		resp.AnalyzedAt = timePtr(analyzed)
		resp.FlagReasons = []string(reasons)
		out = append(out, resp)
	}
	return out, rows.Err()
}

// CountByIPSince counts responses created from ip at or after since.
func (r *ResponseRepository) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM survey_responses WHERE ip_address = $1 AND created_at >= $2`, ip, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count responses by ip: %w", err)
	}
	return n, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
