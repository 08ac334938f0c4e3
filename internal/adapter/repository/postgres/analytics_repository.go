package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// AnalyticsRepository owns survey_analytics, behavioral_patterns and
// survey_insights.
type AnalyticsRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAnalyticsRepository(db *sql.DB, logger *slog.Logger) *AnalyticsRepository {
	return &AnalyticsRepository{db: db, logger: logger.With("component", "analytics_repository")}
}

// The increment happens inside the upsert so concurrent writers never read
// then overwrite each other's counts.
const incrementQuery = `
	INSERT INTO survey_analytics (survey_id, date, total_views, total_starts, total_completions, fraudulent_responses)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (survey_id, date) DO UPDATE SET
		total_views          = survey_analytics.total_views + EXCLUDED.total_views,
		total_starts         = survey_analytics.total_starts + EXCLUDED.total_starts,
		total_completions    = survey_analytics.total_completions + EXCLUDED.total_completions,
		fraudulent_responses = survey_analytics.fraudulent_responses + EXCLUDED.fraudulent_responses`

func (r *AnalyticsRepository) Increment(ctx context.Context, surveyID string, day time.Time, d domain.AnalyticsDelta) error {
	_, err := r.db.ExecContext(ctx, incrementQuery,
		surveyID, domain.Day(day), d.Views, d.Starts, d.Completions, d.Fraudulent)
	if err != nil {
		return fmt.Errorf("failed to increment analytics for survey %s: %w", surveyID, err)
	}
	return nil
}

const listDailyQuery = `
	SELECT survey_id, date, total_views, total_starts, total_completions, fraudulent_responses
	FROM survey_analytics
	WHERE survey_id = $1 AND date >= $2
	ORDER BY date DESC`

// ListDaily returns records on or after since, newest first.
func (r *AnalyticsRepository) ListDaily(ctx context.Context, surveyID string, since time.Time) ([]domain.AnalyticsDailyRecord, error) {
	rows, err := r.db.QueryContext(ctx, listDailyQuery, surveyID, domain.Day(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list analytics: %w", err)
	}
	defer rows.Close()

	var out []domain.AnalyticsDailyRecord
	for rows.Next() {
		var rec domain.AnalyticsDailyRecord
		if err := rows.Scan(&rec.SurveyID, &rec.Date, &rec.TotalViews, &rec.TotalStarts,
			&rec.TotalCompletions, &rec.FraudulentResponses); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const appendPatternQuery = `
	INSERT INTO behavioral_patterns (survey_id, mouse_velocity_avg, keystroke_dynamics, response_time_pattern, fraud_score, is_legitimate, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Append stores one training sample.
func (r *AnalyticsRepository) Append(ctx context.Context, s domain.BehavioralPatternSample) error {
	keys, err := json.Marshal(s.KeystrokeDynamics)
	if err != nil {
		return err
	}
	times, err := json.Marshal(s.ResponseTimePattern)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, appendPatternQuery,
		s.SurveyID, s.MouseVelocityAvg, string(keys), string(times), s.FraudScore, s.IsLegitimate, s.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append behavioral pattern: %w", err)
	}
	return nil
}

func (r *AnalyticsRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM behavioral_patterns WHERE created_at >= $1`, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count behavioral patterns: %w", err)
	}
	return n, nil
}

const replaceInsightsQuery = `
	INSERT INTO survey_insights (survey_id, completion_rate, average_time, quality_score, fraud_rate, recommendations, generated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (survey_id) DO UPDATE SET
		completion_rate = EXCLUDED.completion_rate,
		average_time    = EXCLUDED.average_time,
		quality_score   = EXCLUDED.quality_score,
		fraud_rate      = EXCLUDED.fraud_rate,
		recommendations = EXCLUDED.recommendations,
		generated_at    = EXCLUDED.generated_at`

// Replace overwrites the survey's insights aggregate.
func (r *AnalyticsRepository) Replace(ctx context.Context, in domain.SurveyInsights) error {
	recs := in.Recommendations
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	doc, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, replaceInsightsQuery,
		in.SurveyID, in.CompletionRate, in.AverageTime, in.QualityScore, in.FraudRate, string(doc), in.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to replace insights for survey %s: %w", in.SurveyID, err)
	}
	return nil
}

func (r *AnalyticsRepository) Get(ctx context.Context, surveyID string) (domain.SurveyInsights, error) {
	var (
		in  domain.SurveyInsights
		doc []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT survey_id, completion_rate, average_time, quality_score, fraud_rate, recommendations, generated_at
		FROM survey_insights WHERE survey_id = $1`, surveyID).
		Scan(&in.SurveyID, &in.CompletionRate, &in.AverageTime, &in.QualityScore, &in.FraudRate, &doc, &in.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return in, domain.ErrNotFound
	}
	if err != nil {
		return in, fmt.Errorf("failed to load insights: %w", err)
	}
	if err := json.Unmarshal(doc, &in.Recommendations); err != nil {
		return in, fmt.Errorf("failed to decode recommendations: %w", err)
	}
	return in, nil
}
