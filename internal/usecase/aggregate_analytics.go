package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/domain"
)

const (
	// DefaultRetrainThreshold is the 24h sample count above which retraining is requested.
	DefaultRetrainThreshold = 1000

	insightWindowDays = 30
	retrainWindow     = 24 * time.Hour
)

// AnalyticsAggregator maintains daily counters, pattern samples and insights.
type AnalyticsAggregator struct {
	analytics domain.AnalyticsRepository
	patterns  domain.PatternRepository
	insights  domain.InsightRepository
	responses domain.ResponseRepository
	queue     domain.JobEnqueuer
	threshold int64
	metrics   *metrics.WorkerMetrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewAnalyticsAggregator(
	analytics domain.AnalyticsRepository,
	patterns domain.PatternRepository,
	insights domain.InsightRepository,
	responses domain.ResponseRepository,
	queue domain.JobEnqueuer,
	retrainThreshold int64,
	m *metrics.WorkerMetrics,
	logger *slog.Logger,
) *AnalyticsAggregator {
	if retrainThreshold <= 0 {
		retrainThreshold = DefaultRetrainThreshold
	}
	return &AnalyticsAggregator{
		analytics: analytics,
		patterns:  patterns,
		insights:  insights,
		responses: responses,
		queue:     queue,
		threshold: retrainThreshold,
		metrics:   m,
		logger:    logger.With("component", "analytics_aggregator"),
		now:       time.Now,
	}
}

// Handle is the analytics-processing queue handler.
func (a *AnalyticsAggregator) Handle(ctx context.Context, job domain.Job) error {
	var aj domain.AnalyticsJob
	if err := job.Decode(&aj); err != nil {
		a.logger.Error("Discarding undecodable analytics job", "error", err, "job_id", job.ID)
		return nil
	}
	return a.ProcessAnalyticsJob(ctx, aj)
}

// ProcessAnalyticsJob counts the completion, stores the pattern sample and
// regenerates the survey insights. Only the counter update is returned as an
// error: retrying after it succeeded would count the completion twice.
func (a *AnalyticsAggregator) ProcessAnalyticsJob(ctx context.Context, job domain.AnalyticsJob) error {
	if job.SurveyID == "" {
		a.logger.Error("Discarding analytics job without survey id", "response_id", job.ResponseID)
		return nil
	}
	if err := a.UpdateSurveyAnalytics(ctx, job.SurveyID, job.Result); err != nil {
		return err
	}
	if err := a.StoreBehavioralPatterns(ctx, job.SurveyID, job.Behavioral, job.Result); err != nil {
		a.logger.Error("Failed to store behavioral pattern", "error", err, "survey_id", job.SurveyID)
	}
	if _, err := a.GenerateSurveyInsights(ctx, job.SurveyID); err != nil {
		a.logger.Error("Failed to regenerate survey insights", "error", err, "survey_id", job.SurveyID)
	}
	return nil
}

// UpdateSurveyAnalytics adds one completion, and one fraudulent response when
// flagged, to today's record.
func (a *AnalyticsAggregator) UpdateSurveyAnalytics(ctx context.Context, surveyID string, result domain.FraudResult) error {
	delta := domain.AnalyticsDelta{Completions: 1}
	if result.IsFlagged {
		delta.Fraudulent = 1
	}
	if err := a.analytics.Increment(ctx, surveyID, a.now(), delta); err != nil {
		return fmt.Errorf("update survey analytics: %w", err)
	}
	return nil
}

// RecordView counts a page view on the day of at.
func (a *AnalyticsAggregator) RecordView(ctx context.Context, surveyID string, at time.Time) error {
	return a.analytics.Increment(ctx, surveyID, at, domain.AnalyticsDelta{Views: 1})
}

// RecordStart counts a survey start on the day of at.
func (a *AnalyticsAggregator) RecordStart(ctx context.Context, surveyID string, at time.Time) error {
	return a.analytics.Increment(ctx, surveyID, at, domain.AnalyticsDelta{Starts: 1})
}

// StoreBehavioralPatterns appends a training sample and requests retraining
// once the trailing 24h sample count exceeds the threshold.
func (a *AnalyticsAggregator) StoreBehavioralPatterns(ctx context.Context, surveyID string, b domain.BehavioralPayload, result domain.FraudResult) error {
	now := a.now().UTC()
	sample := domain.BehavioralPatternSample{
		SurveyID:            surveyID,
		MouseVelocityAvg:    AverageMouseVelocity(b.MouseMovements),
		KeystrokeDynamics:   AnalyzeKeystrokes(b.Keystrokes),
		ResponseTimePattern: AnalyzeResponseTimes(b.ResponseTimes),
		FraudScore:          result.FraudScore,
		IsLegitimate:        !result.IsFlagged,
		Timestamp:           now,
	}
	if err := a.patterns.Append(ctx, sample); err != nil {
		return err
	}

	windowStart := now.Add(-retrainWindow)
	count, err := a.patterns.CountSince(ctx, windowStart)
	if err != nil {
		a.logger.Warn("Failed to count recent pattern samples", "error", err)
		return nil
	}
	if count <= a.threshold {
		return nil
	}

	job := domain.RetrainingJob{SampleCount: count, WindowStart: windowStart, TriggeredAt: now}
	if _, err := a.queue.Enqueue(ctx, domain.QueueModelRetraining, job, domain.EnqueueOptions{}); err != nil {
		if errors.Is(err, domain.ErrQueueUnavailable) {
			a.logger.Warn("Queue unavailable, dropping retraining signal", "samples", count)
		} else {
			a.logger.Warn("Failed to enqueue retraining signal", "error", err, "samples", count)
		}
		return nil
	}
	a.metrics.Retrain()
	a.logger.Info("Requested model retraining", "samples", count, "threshold", a.threshold)
	return nil
}

// GenerateSurveyInsights recomputes and replaces the survey's insights.
func (a *AnalyticsAggregator) GenerateSurveyInsights(ctx context.Context, surveyID string) (domain.SurveyInsights, error) {
	now := a.now().UTC()
	since := domain.Day(now).AddDate(0, 0, -(insightWindowDays - 1))

	daily, err := a.analytics.ListDaily(ctx, surveyID, since)
	if err != nil {
		return domain.SurveyInsights{}, err
	}
	if len(daily) > insightWindowDays {
		daily = daily[:insightWindowDays]
	}
	responses, err := a.responses.ListBySurvey(ctx, surveyID)
	if err != nil {
		return domain.SurveyInsights{}, err
	}

	var starts, completions int64
	for _, d := range daily {
		starts += d.TotalStarts
		completions += d.TotalCompletions
	}

	var (
		completedResponses, suspect, timed int
		totalSeconds                       float64
	)
	for _, r := range responses {
		if r.CompletedAt != nil {
			completedResponses++
		}
		if r.Suspect() {
			suspect++
		}
		if secs, ok := r.CompletionSeconds(); ok {
			totalSeconds += secs
			timed++
		}
	}

	var completionRate float64
	observed := 0
	switch {
	case starts > 0:
		completionRate = math.Min(1, float64(completions)/float64(starts))
		observed = int(starts)
	case len(responses) > 0:
		completionRate = float64(completedResponses) / float64(len(responses))
		observed = len(responses)
	}

	avgTime := 0.0
	if timed > 0 {
		avgTime = totalSeconds / float64(timed)
	}
	fraudRate, quality := 0.0, 0.0
	if len(responses) > 0 {
		fraudRate = float64(suspect) / float64(len(responses))
		quality = 1 - fraudRate
	}

	var recs []domain.Recommendation
	if rec, ok := fraudRecommendation(fraudRate); ok {
		recs = append(recs, rec)
	}
	recs = append(recs, Recommend(completionRate*100, avgTime, observed, timed)...)

	insights := domain.SurveyInsights{
		SurveyID:        surveyID,
		CompletionRate:  completionRate,
		AverageTime:     avgTime,
		QualityScore:    quality,
		FraudRate:       fraudRate,
		Recommendations: recs,
		GeneratedAt:     now,
	}
	if err := a.insights.Replace(ctx, insights); err != nil {
		return insights, fmt.Errorf("replace survey insights: %w", err)
	}
	return insights, nil
}

// AverageMouseVelocity averages px/ms between consecutive samples. The first
// sample contributes zero.
func AverageMouseVelocity(samples []domain.MouseSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		dt := math.Max(1, float64(cur.Timestamp-prev.Timestamp))
		v := math.Hypot(cur.X-prev.X, cur.Y-prev.Y) / dt
		if !math.IsInf(v, 0) && !math.IsNaN(v) {
			sum += v
		}
	}
	return sum / float64(len(samples))
}

// AnalyzeKeystrokes averages the non-zero dwell and flight times.
func AnalyzeKeystrokes(keys []domain.KeystrokeSample) domain.KeystrokeDynamics {
	var dwell, flight []float64
	for _, k := range keys {
		if k.DwellTime != 0 {
			dwell = append(dwell, k.DwellTime)
		}
		if k.FlightTime != 0 {
			flight = append(flight, k.FlightTime)
		}
	}
	return domain.KeystrokeDynamics{DwellAvg: mean(dwell), FlightAvg: mean(flight)}
}

// AnalyzeResponseTimes returns the mean and population standard deviation.
func AnalyzeResponseTimes(times []float64) domain.ResponseTimePattern {
	if len(times) == 0 {
		return domain.ResponseTimePattern{}
	}
	m := mean(times)
	var sq float64
	for _, t := range times {
		sq += (t - m) * (t - m)
	}
	return domain.ResponseTimePattern{Avg: m, Std: math.Sqrt(sq / float64(len(times)))}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
