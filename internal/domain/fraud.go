package domain

import "time"

// ScoreResult is the fraud scorer's response contract.
type ScoreResult struct {
	FraudProbability float64  `json:"fraud_probability"`
	IsSuspicious     bool     `json:"is_suspicious"`
	RiskFactors      []string `json:"risk_factors"`
}

// NeutralScore is used whenever the scorer cannot be reached.
func NeutralScore() ScoreResult {
	return ScoreResult{FraudProbability: 0, IsSuspicious: false, RiskFactors: []string{}}
}

// FraudResult is the analysis outcome written onto a response.
type FraudResult struct {
	ResponseID  string    `json:"response_id"`
	SurveyID    string    `json:"survey_id"`
	FraudScore  float64   `json:"fraud_score"`
	IsFlagged   bool      `json:"is_flagged"`
	RiskFactors []string  `json:"risk_factors"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// Response is the subset of a survey response the pipeline reads and writes.
type Response struct {
	ID           string     `json:"id"`
	SurveyID     string     `json:"survey_id"`
	RespondentID string     `json:"respondent_id,omitempty"`
	IPAddress    string     `json:"ip_address,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FraudScore   float64    `json:"fraud_score"`
	IsFlagged    bool       `json:"is_flagged"`
	FlagReasons  []string   `json:"flag_reasons,omitempty"`
	AnalyzedAt   *time.Time `json:"analyzed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Suspect reports whether the response counts against quality.
func (r Response) Suspect() bool {
	return r.IsFlagged || r.FraudScore >= 0.5
}

// CompletionSeconds returns the time between start and completion.
func (r Response) CompletionSeconds() (float64, bool) {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0, false
	}
	d := r.CompletedAt.Sub(*r.StartedAt)
	if d < 0 {
		return 0, false
	}
	return d.Seconds(), true
}
