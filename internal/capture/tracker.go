// Package capture records survey interactions in-process and ships them to
// the ingestion endpoint in batches. Delivery is at-most-once: a batch that
// fails to send is dropped and counted.
package capture

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

// Sender delivers one batch of events.
type Sender interface {
	Send(ctx context.Context, events []domain.RawEvent) error
}

// Config identifies the session and tunes buffering. Zero values take defaults.
type Config struct {
	SurveyID   string
	SessionID  string
	UserID     string
	ResponseID string
	Timezone   string

	MouseThrottle  time.Duration
	ScrollThrottle time.Duration
	FlushSize      int
	FlushInterval  time.Duration
	SendTimeout    time.Duration

	MaxMouseSamples     int
	MaxKeystrokeSamples int
	MaxScrollSamples    int
	MaxResponseTimes    int
}

func (c Config) withDefaults() Config {
	if c.MouseThrottle <= 0 {
		c.MouseThrottle = 100 * time.Millisecond
	}
	if c.ScrollThrottle <= 0 {
		c.ScrollThrottle = 200 * time.Millisecond
	}
	if c.FlushSize <= 0 {
		c.FlushSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.MaxMouseSamples <= 0 {
		c.MaxMouseSamples = 500
	}
	if c.MaxKeystrokeSamples <= 0 {
		c.MaxKeystrokeSamples = 200
	}
	if c.MaxScrollSamples <= 0 {
		c.MaxScrollSamples = 100
	}
	if c.MaxResponseTimes <= 0 {
		c.MaxResponseTimes = 200
	}
	return c
}

type stopper interface {
	Stop() bool
}

type point struct {
	x, y float64
	at   int64 // ms
}

// coalescer keeps the latest sample of a throttle window. The pending sample
// is emitted when the window timer fires.
type coalescer struct {
	window  time.Duration
	pending *point
	last    *point
	timer   stopper
}

// Tracker buffers the events of one survey session.
type Tracker struct {
	cfg    Config
	sender Sender
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration, func()) stopper

	mu        sync.Mutex
	buf       []domain.RawEvent
	stopped   bool
	mouse     coalescer
	scroll    coalescer
	keysDown  map[string]int64
	lastKeyUp int64
	startedAt int64
	questionT int64

	mouseSamples  []domain.MouseSample
	keySamples    []domain.KeystrokeSample
	scrollSamples []domain.ScrollSample
	responseTimes []float64

	done     chan struct{}
	inflight sync.WaitGroup
	dropped  atomic.Int64
	sent     atomic.Int64
}

// NewTracker starts a tracker whose periodic flush runs until Stop.
func NewTracker(cfg Config, sender Sender, logger *slog.Logger) *Tracker {
	t := newTracker(cfg, sender, logger, time.Now, func(d time.Duration, f func()) stopper {
		return time.AfterFunc(d, f)
	})
	go t.flushLoop()
	return t
}

func newTracker(cfg Config, sender Sender, logger *slog.Logger, now func() time.Time, after func(time.Duration, func()) stopper) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:      cfg,
		sender:   sender,
		logger:   logger.With("component", "capture", "session_id", cfg.SessionID),
		now:      now,
		after:    after,
		mouse:    coalescer{window: cfg.MouseThrottle},
		scroll:   coalescer{window: cfg.ScrollThrottle},
		keysDown: make(map[string]int64),
		done:     make(chan struct{}),
	}
}

func (t *Tracker) flushLoop() {
	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.Flush()
		}
	}
}

func (t *Tracker) nowMs() int64 { return t.now().UnixMilli() }

// Dropped returns the number of events lost to failed sends.
func (t *Tracker) Dropped() int64 { return t.dropped.Load() }

// Sent returns the number of events delivered.
func (t *Tracker) Sent() int64 { return t.sent.Load() }

// MouseMove records a pointer position, coalesced to one sample per throttle window.
func (t *Tracker) MouseMove(x, y float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.offer(&t.mouse, point{x: x, y: y, at: t.nowMs()}, t.emitMouse)
}

// Scroll records a scroll offset, coalesced to one sample per throttle window.
func (t *Tracker) Scroll(x, y float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.offer(&t.scroll, point{x: x, y: y, at: t.nowMs()}, t.emitScroll)
}

func (t *Tracker) offer(c *coalescer, p point, emit func()) {
	c.pending = &p
	if c.timer == nil {
		c.timer = t.after(c.window, emit)
	}
}

func (t *Tracker) emitMouse() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitMouseLocked()
}

func (t *Tracker) emitMouseLocked() {
	p, v, ok := t.take(&t.mouse)
	if !ok {
		return
	}
	t.mouseSamples = appendBounded(t.mouseSamples, domain.MouseSample{X: p.x, Y: p.y, Timestamp: p.at, Velocity: v}, t.cfg.MaxMouseSamples)
	t.pushLocked(domain.EventMouseMove, p.at, &domain.PointerPayload{X: p.x, Y: p.y, Velocity: v})
}

func (t *Tracker) emitScroll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitScrollLocked()
}

func (t *Tracker) emitScrollLocked() {
	p, v, ok := t.take(&t.scroll)
	if !ok {
		return
	}
	t.scrollSamples = appendBounded(t.scrollSamples, domain.ScrollSample{X: p.x, Y: p.y, Timestamp: p.at, Velocity: v}, t.cfg.MaxScrollSamples)
	t.pushLocked(domain.EventScroll, p.at, &domain.ScrollPayload{X: p.x, Y: p.y, Velocity: v})
}

// take pops the pending sample and its velocity against the last emitted one.
func (t *Tracker) take(c *coalescer) (point, float64, bool) {
	c.timer = nil
	if c.pending == nil || t.stopped {
		return point{}, 0, false
	}
	p := *c.pending
	c.pending = nil

	var v float64
	if c.last != nil {
		if dt := p.at - c.last.at; dt > 0 {
			v = math.Hypot(p.x-c.last.x, p.y-c.last.y) / float64(dt)
		}
	}
	c.last = &p
	return p, v, true
}

// KeyDown remembers when key went down. Repeats while held are ignored.
func (t *Tracker) KeyDown(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if _, held := t.keysDown[key]; !held {
		t.keysDown[key] = t.nowMs()
	}
}

// KeyUp emits a keystroke with its dwell and flight time. Only the key class
// is recorded.
func (t *Tracker) KeyUp(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	down, ok := t.keysDown[key]
	if !ok {
		return
	}
	delete(t.keysDown, key)

	now := t.nowMs()
	dwell := float64(now - down)
	var flight float64
	if t.lastKeyUp > 0 {
		flight = float64(down - t.lastKeyUp)
	}
	t.lastKeyUp = now

	class := KeyClass(key)
	t.keySamples = appendBounded(t.keySamples, domain.KeystrokeSample{Key: class, Timestamp: now, DwellTime: dwell, FlightTime: flight}, t.cfg.MaxKeystrokeSamples)
	t.pushLocked(domain.EventKeystroke, now, &domain.KeystrokePayload{KeyClass: class, DwellTime: dwell, FlightTime: flight})
}

// KeyClass maps a key name to what is safe to record.
func KeyClass(key string) string {
	if r, size := utf8.DecodeRuneInString(key); size == len(key) && r != utf8.RuneError && unicode.IsPrint(r) {
		return domain.KeyClassCharacter
	}
	return key
}

func (t *Tracker) Focus(target string) {
	t.record(domain.EventFocus, &domain.FocusPayload{Target: target})
}

func (t *Tracker) Blur(target string) {
	t.record(domain.EventBlur, &domain.FocusPayload{Target: target})
}

func (t *Tracker) VisibilityChange(hidden bool) {
	t.record(domain.EventVisibilityChange, &domain.VisibilityPayload{Hidden: hidden})
}

func (t *Tracker) record(typ domain.EventType, p domain.Payload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.pushLocked(typ, t.nowMs(), p)
}

// EventOption decorates a tracked lifecycle event.
type EventOption func(*domain.RawEvent)

func WithPage(pageID string) EventOption {
	return func(e *domain.RawEvent) { e.PageID = pageID }
}

func WithComponent(componentID string) EventOption {
	return func(e *domain.RawEvent) { e.ComponentID = componentID }
}

func WithData(data map[string]any) EventOption {
	return func(e *domain.RawEvent) { e.Data = data }
}

// Track records a lifecycle event. Interaction types have dedicated methods
// and unknown types are ignored.
func (t *Tracker) Track(typ domain.EventType, payload *domain.LifecyclePayload, opts ...EventOption) {
	if !typ.Valid() || typ.IsInteraction() || typ == domain.EventSurveyCompleted {
		t.logger.Debug("Ignoring untrackable event type", "event_type", typ)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	now := t.nowMs()
	switch typ {
	case domain.EventSurveyStarted:
		if t.startedAt == 0 {
			t.startedAt = now
		}
		t.questionT = now
	case domain.EventQuestionViewed:
		t.questionT = now
	}

	var p domain.Payload
	if payload != nil {
		p = payload
	}
	t.pushLocked(typ, now, p, opts...)
}

// QuestionAnswered records question_answered with the time since the question
// was shown, or since the previous answer.
func (t *Tracker) QuestionAnswered(componentID, pageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	now := t.nowMs()
	var rt float64
	if t.questionT > 0 {
		rt = float64(now - t.questionT)
		t.responseTimes = appendBounded(t.responseTimes, rt, t.cfg.MaxResponseTimes)
	}
	t.questionT = now
	t.pushLocked(domain.EventQuestionAnswered, now, &domain.LifecyclePayload{ResponseTime: rt}, WithComponent(componentID), WithPage(pageID))
}

// Behavior returns a snapshot of the bounded behavioral samples.
func (t *Tracker) Behavior() domain.BehavioralPayload {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.behaviorLocked(nil, nil)
}

func (t *Tracker) behaviorLocked(answers []string, fingerprint map[string]any) domain.BehavioralPayload {
	b := domain.BehavioralPayload{
		SurveyID:          t.cfg.SurveyID,
		ResponseID:        t.cfg.ResponseID,
		MouseMovements:    append([]domain.MouseSample(nil), t.mouseSamples...),
		Keystrokes:        append([]domain.KeystrokeSample(nil), t.keySamples...),
		ResponseTimes:     append([]float64(nil), t.responseTimes...),
		ScrollEvents:      append([]domain.ScrollSample(nil), t.scrollSamples...),
		DeviceFingerprint: fingerprint,
		AnswerPatterns:    answers,
	}
	return b.Normalized()
}

// Complete records survey_completed carrying the behavioral summary and
// flushes the buffer.
func (t *Tracker) Complete(answerPatterns []string, fingerprint map[string]any) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	payload := &domain.CompletionPayload{
		ResponseID: t.cfg.ResponseID,
		StartedAt:  t.startedAt,
		Timezone:   t.cfg.Timezone,
		Behavioral: t.behaviorLocked(answerPatterns, fingerprint),
	}
	t.pushLocked(domain.EventSurveyCompleted, t.nowMs(), payload)
	batch := t.swapLocked()
	t.mu.Unlock()

	t.sendAsync(batch)
}

func (t *Tracker) pushLocked(typ domain.EventType, at int64, p domain.Payload, opts ...EventOption) {
	e := domain.RawEvent{
		SurveyID:  t.cfg.SurveyID,
		SessionID: t.cfg.SessionID,
		UserID:    t.cfg.UserID,
		Type:      typ,
		Timestamp: at,
		Payload:   p,
	}
	for _, opt := range opts {
		opt(&e)
	}
	t.buf = append(t.buf, e)

	if len(t.buf) >= t.cfg.FlushSize {
		t.sendAsync(t.swapLocked())
	}
}

func (t *Tracker) swapLocked() []domain.RawEvent {
	batch := t.buf
	t.buf = nil
	return batch
}

// Flush hands the buffered events to the sender without waiting for delivery.
func (t *Tracker) Flush() {
	t.mu.Lock()
	batch := t.swapLocked()
	t.mu.Unlock()
	t.sendAsync(batch)
}

func (t *Tracker) sendAsync(batch []domain.RawEvent) {
	if len(batch) == 0 {
		return
	}
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.SendTimeout)
		defer cancel()
		t.send(ctx, batch)
	}()
}

func (t *Tracker) send(ctx context.Context, batch []domain.RawEvent) error {
	if err := t.sender.Send(ctx, batch); err != nil {
		t.dropped.Add(int64(len(batch)))
		t.logger.Debug("Dropping undeliverable batch", "error", err, "events", len(batch))
		return err
	}
	t.sent.Add(int64(len(batch)))
	return nil
}

// Stop emits pending coalesced samples, sends the remaining buffer
// synchronously and disables capture. Later calls return nil.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	for _, c := range []*coalescer{&t.mouse, &t.scroll} {
		if c.timer != nil {
			c.timer.Stop()
		}
	}
	t.emitMouseLocked()
	t.emitScrollLocked()
	t.stopped = true
	batch := t.swapLocked()
	t.mu.Unlock()

	close(t.done)
	t.inflight.Wait()
	if len(batch) == 0 {
		return nil
	}
	return t.send(ctx, batch)
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}
