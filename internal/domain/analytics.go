package domain

import "time"

// AnalyticsDailyRecord holds the rolling counters for one (survey, UTC day).
type AnalyticsDailyRecord struct {
	SurveyID            string    `json:"survey_id"`
	Date                time.Time `json:"date"`
	TotalViews          int64     `json:"total_views"`
	TotalStarts         int64     `json:"total_starts"`
	TotalCompletions    int64     `json:"total_completions"`
	FraudulentResponses int64     `json:"fraudulent_responses"`
}

// AnalyticsDelta is applied atomically to a daily record, creating it if absent.
type AnalyticsDelta struct {
	Views       int64
	Starts      int64
	Completions int64
	Fraudulent  int64
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// KeystrokeDynamics summarizes typing rhythm in milliseconds.
type KeystrokeDynamics struct {
	DwellAvg  float64 `json:"dwell_avg"`
	FlightAvg float64 `json:"flight_avg"`
}

// ResponseTimePattern summarizes per-question response times.
type ResponseTimePattern struct {
	Avg float64 `json:"avg"`
	Std float64 `json:"std"`
}

// BehavioralPatternSample is an append-only training signal.
type BehavioralPatternSample struct {
	SurveyID            string              `json:"survey_id"`
	MouseVelocityAvg    float64             `json:"mouse_velocity_avg"`
	KeystrokeDynamics   KeystrokeDynamics   `json:"keystroke_dynamics"`
	ResponseTimePattern ResponseTimePattern `json:"response_time_pattern"`
	FraudScore          float64             `json:"fraud_score"`
	IsLegitimate        bool                `json:"is_legitimate"`
	Timestamp           time.Time           `json:"timestamp"`
}

// Recommendation is an improvement suggestion.
type Recommendation struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// SurveyInsights is fully recomputed on every aggregation pass.
type SurveyInsights struct {
	SurveyID        string           `json:"survey_id"`
	CompletionRate  float64          `json:"completion_rate"`
	AverageTime     float64          `json:"average_time"`
	QualityScore    float64          `json:"quality_score"`
	FraudRate       float64          `json:"fraud_rate"`
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// DropoffPoint counts page views for one page.
type DropoffPoint struct {
	PageID string `json:"pageId"`
	Views  int    `json:"views"`
}

// CaptureInsights is derived on demand from stored raw events.
type CaptureInsights struct {
	CompletionRate        float64          `json:"completionRate"`
	AverageCompletionTime float64          `json:"averageCompletionTime"`
	TotalSessions         int              `json:"totalSessions"`
	CompletedSessions     int              `json:"completedSessions"`
	DropoffPoints         []DropoffPoint   `json:"dropoffPoints"`
	Recommendations       []Recommendation `json:"recommendations"`
}

// CaptureSummary is the headline block of the capture read path.
type CaptureSummary struct {
	TotalEvents    int     `json:"totalEvents"`
	UniqueSessions int     `json:"uniqueSessions"`
	CompletionRate float64 `json:"completionRate"`
	AverageTime    float64 `json:"averageTime"`
}

// CaptureReport is the GET response body of the capture endpoint.
type CaptureReport struct {
	Events   []RawEvent      `json:"events"`
	Insights CaptureInsights `json:"insights"`
	Summary  CaptureSummary  `json:"summary"`
}
