package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

type recordingSender struct {
	mu      sync.Mutex
	batches [][]domain.RawEvent
	err     error
}

func (s *recordingSender) Send(ctx context.Context, events []domain.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, events)
	return nil
}

func (s *recordingSender) events() []domain.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RawEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped
	t.stopped = true
	return active
}

type fakeTimers struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

func (ft *fakeTimers) after(d time.Duration, f func()) stopper {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{f: f}
	ft.pending = append(ft.pending, t)
	return t
}

func (ft *fakeTimers) fire() {
	ft.mu.Lock()
	due := ft.pending
	ft.pending = nil
	ft.mu.Unlock()
	for _, t := range due {
		if !t.stopped {
			t.f()
		}
	}
}

func newTestTracker(cfg Config, sender Sender) (*Tracker, *fakeClock, *fakeTimers) {
	clock := &fakeClock{ms: 1000}
	timers := &fakeTimers{}
	if cfg.SurveyID == "" {
		cfg.SurveyID = "s1"
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "sess-1"
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newTracker(cfg, sender, logger, clock.now, timers.after), clock, timers
}

func TestTracker_MouseMoveCoalesces(t *testing.T) {
	sender := &recordingSender{}
	tr, clock, timers := newTestTracker(Config{}, sender)

	tr.MouseMove(0, 0)
	timers.fire()

	clock.set(1100)
	tr.MouseMove(10, 0)
	clock.set(1150)
	tr.MouseMove(30, 40)
	timers.fire()

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	events := sender.events()
	if len(events) != 2 {
		t.Fatalf("sent %d events, want 2", len(events))
	}
	last, ok := events[1].Payload.(*domain.PointerPayload)
	if !ok {
		t.Fatalf("payload type = %T, want *domain.PointerPayload", events[1].Payload)
	}
	if last.X != 30 || last.Y != 40 {
		t.Errorf("coalesced position = (%v, %v), want (30, 40)", last.X, last.Y)
	}
	if want := 50.0 / 150.0; math.Abs(last.Velocity-want) > 1e-9 {
		t.Errorf("velocity = %v, want %v", last.Velocity, want)
	}
	if events[1].Timestamp != 1150 || events[1].SurveyID != "s1" || events[1].SessionID != "sess-1" {
		t.Errorf("event envelope = %+v", events[1])
	}
}

func TestTracker_StopEmitsPendingSamples(t *testing.T) {
	sender := &recordingSender{}
	tr, _, _ := newTestTracker(Config{}, sender)

	tr.MouseMove(5, 5)
	tr.Scroll(0, 300)
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	events := sender.events()
	if len(events) != 2 || events[0].Type != domain.EventMouseMove || events[1].Type != domain.EventScroll {
		t.Fatalf("events = %+v, want one mouse move and one scroll", events)
	}

	b := tr.Behavior()
	if len(b.MouseMovements) != 1 || b.MouseMovements[0].X != 5 {
		t.Errorf("mouse samples = %+v, want the sample emitted on stop", b.MouseMovements)
	}
	if len(b.ScrollEvents) != 1 || b.ScrollEvents[0].Y != 300 {
		t.Errorf("scroll samples = %+v, want the sample emitted on stop", b.ScrollEvents)
	}
}

func TestTracker_FlushesOnInterval(t *testing.T) {
	sender := &recordingSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := NewTracker(Config{SurveyID: "s1", SessionID: "sess-1", FlushInterval: 20 * time.Millisecond}, sender, logger)
	defer tr.Stop(context.Background())

	tr.Focus("q1")

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("buffered event was not flushed by the interval timer")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := sender.events(); len(got) != 1 || got[0].Type != domain.EventFocus {
		t.Errorf("flushed events = %+v, want the focus event", got)
	}
}

func TestTracker_Keystrokes(t *testing.T) {
	sender := &recordingSender{}
	tr, clock, _ := newTestTracker(Config{}, sender)

	tr.KeyDown("a")
	clock.set(1080)
	tr.KeyUp("a")
	clock.set(1200)
	tr.KeyDown("Shift")
	tr.KeyDown("Shift")
	clock.set(1250)
	tr.KeyUp("Shift")
	tr.KeyUp("x")

	got := tr.Behavior().Keystrokes
	want := []domain.KeystrokeSample{
		{Key: domain.KeyClassCharacter, Timestamp: 1080, DwellTime: 80, FlightTime: 0},
		{Key: "Shift", Timestamp: 1250, DwellTime: 50, FlightTime: 120},
	}
	if len(got) != len(want) {
		t.Fatalf("keystrokes = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keystroke[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	for _, e := range sender.events() {
		p := e.Payload.(*domain.KeystrokePayload)
		if p.KeyClass == "a" {
			t.Error("literal character was recorded")
		}
	}
}

func TestKeyClass(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"a", domain.KeyClassCharacter},
		{"7", domain.KeyClassCharacter},
		{"é", domain.KeyClassCharacter},
		{" ", domain.KeyClassCharacter},
		{"Backspace", "Backspace"},
		{"Enter", "Enter"},
		{"\t", "\t"},
	}
	for _, tt := range tests {
		if got := KeyClass(tt.key); got != tt.want {
			t.Errorf("KeyClass(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestTracker_FlushAtBatchSize(t *testing.T) {
	sender := &recordingSender{}
	tr, _, _ := newTestTracker(Config{FlushSize: 3}, sender)

	tr.Focus("q1")
	tr.Blur("q1")
	tr.VisibilityChange(true)
	tr.Focus("q2")

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(sender.batches))
	}
	if len(sender.batches[0]) != 3 || len(sender.batches[1]) != 1 {
		t.Errorf("batch sizes = %d, %d, want 3, 1", len(sender.batches[0]), len(sender.batches[1]))
	}
}

func TestTracker_FailedSendDropsBatch(t *testing.T) {
	sender := &recordingSender{err: errors.New("connection refused")}
	tr, _, _ := newTestTracker(Config{}, sender)

	tr.Focus("q1")
	tr.Blur("q1")
	tr.Flush()

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() with empty buffer error = %v", err)
	}
	if got := tr.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if got := tr.Sent(); got != 0 {
		t.Errorf("Sent() = %d, want 0", got)
	}
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	sender := &recordingSender{}
	tr, _, _ := newTestTracker(Config{}, sender)

	tr.Focus("q1")
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	tr.Focus("q2")
	tr.MouseMove(1, 1)
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	if got := len(sender.events()); got != 1 {
		t.Errorf("sent %d events, want 1", got)
	}
}

func TestTracker_CompleteCarriesBehavior(t *testing.T) {
	sender := &recordingSender{}
	tr, clock, _ := newTestTracker(Config{ResponseID: "r1", Timezone: "Europe/Berlin"}, sender)

	tr.Track(domain.EventSurveyStarted, nil)
	clock.set(2000)
	tr.Track(domain.EventQuestionViewed, nil, WithComponent("q1"), WithPage("p1"))
	clock.set(2500)
	tr.QuestionAnswered("q1", "p1")
	tr.Track(domain.EventMouseMove, nil)
	clock.set(3000)
	tr.Complete([]string{"a", "b"}, map[string]any{"screen": "1920x1080"})

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	events := sender.events()
	wantTypes := []domain.EventType{
		domain.EventSurveyStarted,
		domain.EventQuestionViewed,
		domain.EventQuestionAnswered,
		domain.EventSurveyCompleted,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("events = %d, want %d", len(events), len(wantTypes))
	}
	for i, typ := range wantTypes {
		if events[i].Type != typ {
			t.Errorf("event[%d] type = %s, want %s", i, events[i].Type, typ)
		}
	}

	answered := events[2].Payload.(*domain.LifecyclePayload)
	if answered.ResponseTime != 500 || events[2].ComponentID != "q1" {
		t.Errorf("answered = %+v %+v", events[2], answered)
	}

	done, ok := events[3].Completion()
	if !ok {
		t.Fatal("completion payload missing")
	}
	if done.ResponseID != "r1" || done.StartedAt != 1000 || done.Timezone != "Europe/Berlin" {
		t.Errorf("completion = %+v", done)
	}
	if len(done.Behavioral.ResponseTimes) != 1 || done.Behavioral.ResponseTimes[0] != 500 {
		t.Errorf("response times = %v, want [500]", done.Behavioral.ResponseTimes)
	}
	if len(done.Behavioral.AnswerPatterns) != 2 || done.Behavioral.MouseMovements == nil {
		t.Errorf("behavioral = %+v", done.Behavioral)
	}
}

func TestTracker_SamplesAreBounded(t *testing.T) {
	tr, clock, timers := newTestTracker(Config{MaxMouseSamples: 2}, &recordingSender{})

	for i := 0; i < 3; i++ {
		clock.set(int64(1000 + i*100))
		tr.MouseMove(float64(i), 0)
		timers.fire()
	}

	got := tr.Behavior().MouseMovements
	if len(got) != 2 {
		t.Fatalf("samples = %d, want 2", len(got))
	}
	if got[0].X != 1 || got[1].X != 2 {
		t.Errorf("kept samples = %+v, want the latest two", got)
	}
	_ = tr.Stop(context.Background())
}
