package usecase

import (
	"math"
	"sort"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// Recommendation thresholds shared by the capture read path and the insight
// generator.
const (
	lowCompletionRatePct = 50.0
	longSurveySeconds    = 600.0
	fastSurveySeconds    = 30.0
	highFraudRate        = 0.2
)

// Recommend applies the threshold rules. completionRatePct is a percentage;
// sessions and timed count the observations behind the rate and the average,
// and a rule with no observations behind it never fires.
func Recommend(completionRatePct, avgSeconds float64, sessions, timed int) []domain.Recommendation {
	recs := []domain.Recommendation{}

	if sessions > 0 && completionRatePct < lowCompletionRatePct {
		recs = append(recs, domain.Recommendation{
			Type:     "completion_rate",
			Priority: "high",
			Message:  "Low completion rate detected. Consider reducing survey length or improving question clarity.",
		})
	}
	if timed > 0 && avgSeconds > longSurveySeconds {
		recs = append(recs, domain.Recommendation{
			Type:     "survey_length",
			Priority: "medium",
			Message:  "Survey may be too long. Consider breaking into multiple shorter surveys or adding progress indicators.",
		})
	}
	if timed > 0 && avgSeconds < fastSurveySeconds {
		recs = append(recs, domain.Recommendation{
			Type:     "response_quality",
			Priority: "medium",
			Message:  "Very fast completion times may indicate low engagement. Consider adding attention checks.",
		})
	}
	return recs
}

func fraudRecommendation(fraudRate float64) (domain.Recommendation, bool) {
	if fraudRate <= highFraudRate {
		return domain.Recommendation{}, false
	}
	return domain.Recommendation{
		Type:     "fraud_rate",
		Priority: "high",
		Message:  "High fraud rate detected. Consider adding a CAPTCHA or attention checks to slow down automated submissions.",
	}, true
}

// BuildCaptureReport derives session insights from stored raw events.
func BuildCaptureReport(events []domain.RawEvent) domain.CaptureReport {
	type session struct {
		started, completed int64
		hasStart, hasEnd   bool
	}

	sessions := make(map[string]*session)
	order := []string{}
	pageViews := make(map[string]int)

	for i := range events {
		e := &events[i]
		s, ok := sessions[e.SessionID]
		if !ok {
			s = &session{}
			sessions[e.SessionID] = s
			order = append(order, e.SessionID)
		}
		switch e.Type {
		case domain.EventSurveyStarted:
			if !s.hasStart {
				s.started, s.hasStart = e.Timestamp, true
			}
		case domain.EventSurveyCompleted:
			if !s.hasEnd {
				s.completed, s.hasEnd = e.Timestamp, true
			}
		case domain.EventPageViewed:
			if e.PageID != "" {
				pageViews[e.PageID]++
			}
		}
	}

	completed := 0
	var totalMs float64
	timed := 0
	for _, id := range order {
		s := sessions[id]
		if !s.hasEnd {
			continue
		}
		completed++
		if s.hasStart {
			totalMs += float64(s.completed - s.started)
			timed++
		}
	}

	rate := 0.0
	if len(sessions) > 0 {
		rate = float64(completed) / float64(len(sessions)) * 100
	}
	avgSeconds := 0.0
	if timed > 0 {
		avgSeconds = totalMs / float64(timed) / 1000
	}

	dropoffs := make([]domain.DropoffPoint, 0, len(pageViews))
	for page, views := range pageViews {
		dropoffs = append(dropoffs, domain.DropoffPoint{PageID: page, Views: views})
	}
	sort.Slice(dropoffs, func(i, j int) bool {
		if dropoffs[i].Views != dropoffs[j].Views {
			return dropoffs[i].Views > dropoffs[j].Views
		}
		return dropoffs[i].PageID < dropoffs[j].PageID
	})

	if events == nil {
		events = []domain.RawEvent{}
	}
	insights := domain.CaptureInsights{
		CompletionRate:        math.Round(rate*100) / 100,
		AverageCompletionTime: math.Round(avgSeconds),
		TotalSessions:         len(sessions),
		CompletedSessions:     completed,
		DropoffPoints:         dropoffs,
		Recommendations:       Recommend(rate, avgSeconds, len(sessions), timed),
	}
	return domain.CaptureReport{
		Events:   events,
		Insights: insights,
		Summary: domain.CaptureSummary{
			TotalEvents:    len(events),
			UniqueSessions: len(sessions),
			CompletionRate: insights.CompletionRate,
			AverageTime:    insights.AverageCompletionTime,
		},
	}
}
