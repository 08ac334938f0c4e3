// Package memory provides a mutex-guarded, in-process implementation of every
// repository. It backs local development when no Postgres URL is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

type dailyKey struct {
	surveyID string
	day      time.Time
}

// Store is a thread-safe in-memory data store.
type Store struct {
	mu sync.RWMutex

	events    []domain.RawEvent
	eventIDs  map[string]struct{}
	responses map[string]*domain.Response
	daily     map[dailyKey]*domain.AnalyticsDailyRecord
	patterns  []domain.BehavioralPatternSample
	insights  map[string]domain.SurveyInsights
	credits   map[string]int64
	usage     []domain.DebitInstruction
	apiKeys   map[string]struct{}
}

// New creates an empty, ready-to-use Store.
func New() *Store {
	return &Store{
		eventIDs:  make(map[string]struct{}),
		responses: make(map[string]*domain.Response),
		daily:     make(map[dailyKey]*domain.AnalyticsDailyRecord),
		insights:  make(map[string]domain.SurveyInsights),
		credits:   make(map[string]int64),
		apiKeys:   make(map[string]struct{}),
	}
}

// Raw events

func (s *Store) InsertEvent(ctx context.Context, event domain.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(event)
	return nil
}

// InsertEvents is idempotent on event id.
func (s *Store) InsertEvents(ctx context.Context, events []domain.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.insertLocked(e)
	}
	return nil
}

func (s *Store) insertLocked(event domain.RawEvent) {
	if event.ID != "" {
		if _, dup := s.eventIDs[event.ID]; dup {
			return
		}
		s.eventIDs[event.ID] = struct{}{}
	}
	s.events = append(s.events, event)
}

// ListEvents returns matching events ordered by client timestamp.
func (s *Store) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RawEvent
	for _, e := range s.events {
		if filter.SurveyID != "" && e.SurveyID != filter.SurveyID {
			continue
		}
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Responses

func (s *Store) RecordCompletion(ctx context.Context, resp domain.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Same merge as the Postgres upsert: survey_id is fixed at insert and
	// empty fields never overwrite stored ones.
	if existing, ok := s.responses[resp.ID]; ok {
		if resp.RespondentID != "" {
			existing.RespondentID = resp.RespondentID
		}
		if resp.IPAddress != "" {
			existing.IPAddress = resp.IPAddress
		}
		if resp.StartedAt != nil {
			existing.StartedAt = resp.StartedAt
		}
		if resp.CompletedAt != nil {
			existing.CompletedAt = resp.CompletedAt
		}
		return nil
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	cp := resp
	s.responses[resp.ID] = &cp
	return nil
}

func (s *Store) UpdateFraudResult(ctx context.Context, result domain.FraudResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[result.ResponseID]
	if !ok {
		return fmt.Errorf("response %s: %w", result.ResponseID, domain.ErrNotFound)
	}
	at := result.AnalyzedAt
	resp.FraudScore = result.FraudScore
	resp.IsFlagged = result.IsFlagged
	resp.FlagReasons = append([]string(nil), result.RiskFactors...)
	resp.AnalyzedAt = &at
	return nil
}

func (s *Store) ListBySurvey(ctx context.Context, surveyID string) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Response
	for _, r := range s.responses {
		if r.SurveyID == surveyID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.responses {
		if r.IPAddress == ip && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Response returns a copy of one response row.
func (s *Store) Response(id string) (domain.Response, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[id]
	if !ok {
		return domain.Response{}, false
	}
	return *r, true
}

// Daily analytics

func (s *Store) Increment(ctx context.Context, surveyID string, day time.Time, delta domain.AnalyticsDelta) error {
	key := dailyKey{surveyID: surveyID, day: domain.Day(day)}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.daily[key]
	if !ok {
		rec = &domain.AnalyticsDailyRecord{SurveyID: surveyID, Date: key.day}
		s.daily[key] = rec
	}
	rec.TotalViews += delta.Views
	rec.TotalStarts += delta.Starts
	rec.TotalCompletions += delta.Completions
	rec.FraudulentResponses += delta.Fraudulent
	return nil
}

// ListDaily returns records on or after since, newest first.
func (s *Store) ListDaily(ctx context.Context, surveyID string, since time.Time) ([]domain.AnalyticsDailyRecord, error) {
	from := domain.Day(since)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AnalyticsDailyRecord
	for k, rec := range s.daily {
		if k.surveyID == surveyID && !k.day.Before(from) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// Behavioral patterns

func (s *Store) Append(ctx context.Context, sample domain.BehavioralPatternSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, sample)
	return nil
}

func (s *Store) CountSince(ctx context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, p := range s.patterns {
		if !p.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// Insights

func (s *Store) Replace(ctx context.Context, insights domain.SurveyInsights) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights[insights.SurveyID] = insights
	return nil
}

func (s *Store) Get(ctx context.Context, surveyID string) (domain.SurveyInsights, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ins, ok := s.insights[surveyID]
	if !ok {
		return domain.SurveyInsights{}, domain.ErrNotFound
	}
	return ins, nil
}

// Credits

// SetCredits seeds a user's balance.
func (s *Store) SetCredits(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[userID] = balance
}

// Credits returns a user's balance.
func (s *Store) Credits(userID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credits[userID]
}

func (s *Store) Debit(ctx context.Context, instr domain.DebitInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.credits[instr.UserID]
	if !ok || balance < instr.Amount {
		return fmt.Errorf("%w: user %s", domain.ErrInsufficientCredits, instr.UserID)
	}
	s.credits[instr.UserID] = balance - instr.Amount
	s.usage = append(s.usage, instr)
	return nil
}

// API keys

// AddAPIKey registers a valid key.
func (s *Store) AddAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key] = struct{}{}
}

func (s *Store) IsValid(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.apiKeys[key]
	return ok, nil
}
