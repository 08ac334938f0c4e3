package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// MockEventRepository is a mock implementation of domain.EventRepository.
type MockEventRepository struct {
	mu        sync.Mutex
	Inserted  []domain.RawEvent
	Listed    []domain.RawEvent
	InsertErr error
	ListErr   error
}

func (m *MockEventRepository) InsertEvent(ctx context.Context, event domain.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Inserted = append(m.Inserted, event)
	return nil
}

func (m *MockEventRepository) InsertEvents(ctx context.Context, events []domain.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Inserted = append(m.Inserted, events...)
	return nil
}

func (m *MockEventRepository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Listed, nil
}

// MockEventSpool is a mock implementation of domain.EventSpool.
type MockEventSpool struct {
	mu       sync.Mutex
	Spooled  []domain.RawEvent
	WriteErr error
	Drained  int
}

func (m *MockEventSpool) Write(ctx context.Context, event domain.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Spooled = append(m.Spooled, event)
	return nil
}

func (m *MockEventSpool) Drain(ctx context.Context, batchSize int, handler func(batch []domain.RawEvent) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batchSize <= 0 {
		batchSize = len(m.Spooled)
	}
	for len(m.Spooled) > 0 {
		n := min(batchSize, len(m.Spooled))
		if err := handler(m.Spooled[:n]); err != nil {
			return err
		}
		m.Spooled = m.Spooled[n:]
	}
	m.Spooled = nil
	m.Drained++
	return nil
}

func (m *MockEventSpool) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Spooled) > 0
}

// MockResponseRepository is a mock implementation of domain.ResponseRepository.
type MockResponseRepository struct {
	mu          sync.Mutex
	Completions []domain.Response
	Results     []domain.FraudResult
	Responses   []domain.Response
	IPCount     int64
	RecordErr   error
	UpdateErr   error
	ListErr     error
	CountErr    error
}

func (m *MockResponseRepository) RecordCompletion(ctx context.Context, resp domain.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.Completions = append(m.Completions, resp)
	return nil
}

func (m *MockResponseRepository) UpdateFraudResult(ctx context.Context, result domain.FraudResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.Results = append(m.Results, result)
	return nil
}

func (m *MockResponseRepository) ListBySurvey(ctx context.Context, surveyID string) ([]domain.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Responses, nil
}

func (m *MockResponseRepository) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	return m.IPCount, nil
}

// MockScorer is a mock implementation of domain.FraudScorer.
type MockScorer struct {
	mu           sync.Mutex
	Result       domain.ScoreResult
	ScoreErr     error
	RetrainErr   error
	Scored       []domain.BehavioralPayload
	RetrainCalls []int64
}

func (m *MockScorer) Score(ctx context.Context, payload domain.BehavioralPayload) (domain.ScoreResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scored = append(m.Scored, payload)
	if m.ScoreErr != nil {
		return domain.ScoreResult{}, m.ScoreErr
	}
	return m.Result, nil
}

func (m *MockScorer) TriggerRetraining(ctx context.Context, sampleCount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetrainCalls = append(m.RetrainCalls, sampleCount)
	return m.RetrainErr
}

// MockGeoLocator is a mock implementation of domain.GeoLocator.
type MockGeoLocator struct {
	mu       sync.Mutex
	Location domain.GeoLocation
	Err      error
	Calls    int
}

func (m *MockGeoLocator) Locate(ctx context.Context, ip string) (domain.GeoLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return domain.GeoLocation{}, m.Err
	}
	return m.Location, nil
}

// MockCreditLedger is a mock implementation of domain.CreditLedger.
type MockCreditLedger struct {
	mu      sync.Mutex
	Debited []domain.DebitInstruction
	Err     error
}

func (m *MockCreditLedger) Debit(ctx context.Context, instr domain.DebitInstruction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Debited = append(m.Debited, instr)
	return nil
}

// EnqueuedJob records one call to MockQueue.Enqueue.
type EnqueuedJob struct {
	Queue   domain.QueueName
	Payload json.RawMessage
	Options domain.EnqueueOptions
}

// MockQueue is a mock implementation of domain.JobQueue. Consume is a no-op
// that blocks until ctx is done.
type MockQueue struct {
	mu       sync.Mutex
	Enqueued []EnqueuedJob
	Err      error
	// ErrFor fails only the named queues.
	ErrFor map[domain.QueueName]error
}

func (m *MockQueue) Enqueue(ctx context.Context, queue domain.QueueName, payload any, opts domain.EnqueueOptions) (domain.JobHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.JobHandle{}, m.Err
	}
	if err, ok := m.ErrFor[queue]; ok {
		return domain.JobHandle{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.JobHandle{}, err
	}
	m.Enqueued = append(m.Enqueued, EnqueuedJob{Queue: queue, Payload: raw, Options: opts})
	return domain.JobHandle{ID: uuid.NewString(), Queue: queue}, nil
}

func (m *MockQueue) Consume(ctx context.Context, queue domain.QueueName, handler domain.JobHandler) error {
	<-ctx.Done()
	return nil
}

// For returns the jobs enqueued on one queue.
func (m *MockQueue) For(queue domain.QueueName) []EnqueuedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EnqueuedJob
	for _, j := range m.Enqueued {
		if j.Queue == queue {
			out = append(out, j)
		}
	}
	return out
}

// MockAPIKeyRepository is a mock implementation of domain.APIKeyRepository.
type MockAPIKeyRepository struct {
	ValidKeys map[string]bool
	Err       error
}

func (m *MockAPIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return m.ValidKeys[key], nil
}
