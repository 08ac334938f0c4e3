package usecase

import (
	"testing"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

func lifecycle(session string, t domain.EventType, ts int64, page string) domain.RawEvent {
	return domain.RawEvent{SurveyID: "s1", SessionID: session, Type: t, Timestamp: ts, PageID: page}
}

func recTypes(recs []domain.Recommendation) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Type)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuildCaptureReport(t *testing.T) {
	const t0 = int64(1_700_000_000_000)

	tests := []struct {
		name          string
		events        []domain.RawEvent
		wantRate      float64
		wantAvg       float64
		wantSessions  int
		wantCompleted int
		wantRecs      []string
	}{
		{
			name: "low completion and long surveys",
			events: []domain.RawEvent{
				lifecycle("a", domain.EventSurveyStarted, t0, ""),
				lifecycle("a", domain.EventSurveyCompleted, t0+700_000, ""),
				lifecycle("b", domain.EventSurveyStarted, t0, ""),
				lifecycle("b", domain.EventSurveyCompleted, t0+700_000, ""),
				lifecycle("c", domain.EventSurveyStarted, t0, ""),
				lifecycle("d", domain.EventSurveyStarted, t0, ""),
				lifecycle("e", domain.EventSurveyStarted, t0, ""),
			},
			wantRate:      40,
			wantAvg:       700,
			wantSessions:  5,
			wantCompleted: 2,
			wantRecs:      []string{"completion_rate", "survey_length"},
		},
		{
			name: "fast completions",
			events: []domain.RawEvent{
				lifecycle("a", domain.EventSurveyStarted, t0, ""),
				lifecycle("a", domain.EventSurveyCompleted, t0+15_000, ""),
				lifecycle("b", domain.EventSurveyStarted, t0, ""),
				lifecycle("b", domain.EventSurveyCompleted, t0+15_000, ""),
				lifecycle("c", domain.EventSurveyStarted, t0, ""),
				lifecycle("c", domain.EventSurveyCompleted, t0+15_000, ""),
				lifecycle("d", domain.EventSurveyStarted, t0, ""),
				lifecycle("d", domain.EventSurveyCompleted, t0+15_000, ""),
				lifecycle("e", domain.EventSurveyStarted, t0, ""),
			},
			wantRate:      80,
			wantAvg:       15,
			wantSessions:  5,
			wantCompleted: 4,
			wantRecs:      []string{"response_quality"},
		},
		{
			name: "first completion of a session counts",
			events: []domain.RawEvent{
				lifecycle("a", domain.EventSurveyStarted, t0, ""),
				lifecycle("a", domain.EventSurveyCompleted, t0+120_000, ""),
				lifecycle("a", domain.EventSurveyCompleted, t0+900_000, ""),
			},
			wantRate:      100,
			wantAvg:       120,
			wantSessions:  1,
			wantCompleted: 1,
			wantRecs:      []string{},
		},
		{
			name:     "no events",
			wantRecs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := BuildCaptureReport(tt.events)
			ins := report.Insights

			if ins.CompletionRate != tt.wantRate {
				t.Errorf("CompletionRate = %v, want %v", ins.CompletionRate, tt.wantRate)
			}
			if ins.AverageCompletionTime != tt.wantAvg {
				t.Errorf("AverageCompletionTime = %v, want %v", ins.AverageCompletionTime, tt.wantAvg)
			}
			if ins.TotalSessions != tt.wantSessions || ins.CompletedSessions != tt.wantCompleted {
				t.Errorf("sessions = %d/%d, want %d/%d", ins.CompletedSessions, ins.TotalSessions, tt.wantCompleted, tt.wantSessions)
			}
			if got := recTypes(ins.Recommendations); !equalStrings(got, tt.wantRecs) {
				t.Errorf("recommendations = %v, want %v", got, tt.wantRecs)
			}
			if report.Summary.TotalEvents != len(tt.events) {
				t.Errorf("Summary.TotalEvents = %d, want %d", report.Summary.TotalEvents, len(tt.events))
			}
			if report.Events == nil {
				t.Error("Events must not be nil")
			}
		})
	}
}

func TestBuildCaptureReport_RoundsRate(t *testing.T) {
	events := []domain.RawEvent{
		lifecycle("a", domain.EventSurveyCompleted, 1, ""),
		lifecycle("b", domain.EventSurveyStarted, 1, ""),
		lifecycle("c", domain.EventSurveyStarted, 1, ""),
	}
	if got := BuildCaptureReport(events).Insights.CompletionRate; got != 33.33 {
		t.Errorf("CompletionRate = %v, want 33.33", got)
	}
}

func TestBuildCaptureReport_Dropoffs(t *testing.T) {
	events := []domain.RawEvent{
		lifecycle("a", domain.EventPageViewed, 1, "p2"),
		lifecycle("a", domain.EventPageViewed, 2, "p1"),
		lifecycle("b", domain.EventPageViewed, 3, "p3"),
		lifecycle("b", domain.EventPageViewed, 4, "p1"),
		lifecycle("c", domain.EventPageViewed, 5, "p3"),
		lifecycle("c", domain.EventPageViewed, 6, "p1"),
		lifecycle("d", domain.EventPageViewed, 7, "p3"),
		lifecycle("d", domain.EventPageViewed, 8, ""),
	}

	got := BuildCaptureReport(events).Insights.DropoffPoints
	want := []domain.DropoffPoint{{PageID: "p1", Views: 3}, {PageID: "p3", Views: 3}, {PageID: "p2", Views: 1}}
	if len(got) != len(want) {
		t.Fatalf("DropoffPoints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DropoffPoints[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		avg      float64
		sessions int
		timed    int
		want     []string
	}{
		{"healthy", 75, 120, 10, 5, []string{}},
		{"low completion", 49.99, 120, 10, 5, []string{"completion_rate"}},
		{"boundary completion", 50, 120, 10, 5, []string{}},
		{"too long", 90, 601, 10, 5, []string{"survey_length"}},
		{"too fast", 90, 29, 10, 5, []string{"response_quality"}},
		{"no sessions", 0, 0, 0, 0, []string{}},
		{"no timed sessions", 20, 0, 10, 0, []string{"completion_rate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recTypes(Recommend(tt.rate, tt.avg, tt.sessions, tt.timed))
			if !equalStrings(got, tt.want) {
				t.Errorf("Recommend() = %v, want %v", got, tt.want)
			}
		})
	}
}
