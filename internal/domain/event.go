package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// EventType is the closed set of event kinds accepted at the ingestion boundary.
type EventType string

// Survey lifecycle events.
const (
	EventSurveyStarted    EventType = "survey_started"
	EventSurveyCompleted  EventType = "survey_completed"
	EventSurveyAbandoned  EventType = "survey_abandoned"
	EventPageViewed       EventType = "page_viewed"
	EventPageLeft         EventType = "page_left"
	EventQuestionViewed   EventType = "question_viewed"
	EventQuestionAnswered EventType = "question_answered"
	EventQuestionSkipped  EventType = "question_skipped"
	EventValidationError  EventType = "validation_error"
	EventInteraction      EventType = "interaction_event"
)

// Interaction primitives produced by the capturer.
const (
	EventMouseMove        EventType = "mouse_move"
	EventKeystroke        EventType = "keystroke"
	EventScroll           EventType = "scroll"
	EventFocus            EventType = "focus"
	EventBlur             EventType = "blur"
	EventVisibilityChange EventType = "visibility_change"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := payloadFactories[t]
	return ok
}

// IsInteraction reports whether t is a low-level interaction primitive.
// Interaction events must carry a payload.
func (t EventType) IsInteraction() bool {
	switch t {
	case EventMouseMove, EventKeystroke, EventScroll, EventFocus, EventBlur, EventVisibilityChange:
		return true
	}
	return false
}

// Payload is the tagged union of per-type event payloads. The concrete type is
// selected by the event's EventType.
type Payload interface {
	validate() error
}

// PointerPayload is carried by mouse_move events.
type PointerPayload struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Velocity float64 `json:"velocity"`
}

func (p *PointerPayload) validate() error {
	if !finite(p.X, p.Y, p.Velocity) || p.Velocity < 0 {
		return fmt.Errorf("%w: pointer coordinates must be finite", ErrInvalidEvent)
	}
	return nil
}

// ScrollPayload is carried by scroll events.
type ScrollPayload struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Velocity float64 `json:"velocity"`
}

func (p *ScrollPayload) validate() error {
	if !finite(p.X, p.Y, p.Velocity) || p.Velocity < 0 {
		return fmt.Errorf("%w: scroll offsets must be finite", ErrInvalidEvent)
	}
	return nil
}

// KeyClassCharacter is recorded for any printable key. The literal character
// is never captured.
const KeyClassCharacter = "character"

// KeystrokePayload is carried by keystroke events. Times are milliseconds.
type KeystrokePayload struct {
	KeyClass   string  `json:"keyClass"`
	DwellTime  float64 `json:"dwellTime"`
	FlightTime float64 `json:"flightTime"`
}

func (p *KeystrokePayload) validate() error {
	if p.KeyClass == "" {
		return fmt.Errorf("%w: keyClass required", ErrInvalidEvent)
	}
	if !finite(p.DwellTime, p.FlightTime) || p.DwellTime < 0 {
		return fmt.Errorf("%w: invalid keystroke timings", ErrInvalidEvent)
	}
	return nil
}

// FocusPayload is carried by focus and blur events.
type FocusPayload struct {
	Target string `json:"target,omitempty"`
}

func (p *FocusPayload) validate() error { return nil }

// VisibilityPayload is carried by visibility_change events.
type VisibilityPayload struct {
	Hidden bool `json:"hidden"`
}

func (p *VisibilityPayload) validate() error { return nil }

// LifecyclePayload is the optional behavioral context attached to survey
// lifecycle events.
type LifecyclePayload struct {
	TimeOnPage       float64 `json:"timeOnPage,omitempty"`
	ResponseTime     float64 `json:"responseTime,omitempty"`
	ClickCount       int     `json:"clickCount,omitempty"`
	ScrollDepth      float64 `json:"scrollDepth,omitempty"`
	DeviceType       string  `json:"deviceType,omitempty"`
	ScreenResolution string  `json:"screenResolution,omitempty"`
	UserAgent        string  `json:"userAgent,omitempty"`
	Timezone         string  `json:"timezone,omitempty"`
}

func (p *LifecyclePayload) validate() error {
	switch p.DeviceType {
	case "", "desktop", "tablet", "mobile":
	default:
		return fmt.Errorf("%w: unknown deviceType %q", ErrInvalidEvent, p.DeviceType)
	}
	if !finite(p.TimeOnPage, p.ResponseTime, p.ScrollDepth) {
		return fmt.Errorf("%w: behavioral timings must be finite", ErrInvalidEvent)
	}
	return nil
}

// CompletionPayload is carried by survey_completed events and feeds the
// submission analysis job.
type CompletionPayload struct {
	ResponseID string            `json:"responseId,omitempty"`
	StartedAt  int64             `json:"startedAt,omitempty"`
	Timezone   string            `json:"timezone,omitempty"`
	Behavioral BehavioralPayload `json:"behavioral"`

	// CreditAction marks a generation completion billed to the event's user.
	CreditAction string `json:"creditAction,omitempty"`
}

func (p *CompletionPayload) validate() error {
	if p.StartedAt < 0 {
		return fmt.Errorf("%w: startedAt must not be negative", ErrInvalidEvent)
	}
	return nil
}

var payloadFactories = map[EventType]func() Payload{
	EventSurveyStarted:    func() Payload { return &LifecyclePayload{} },
	EventSurveyCompleted:  func() Payload { return &CompletionPayload{} },
	EventSurveyAbandoned:  func() Payload { return &LifecyclePayload{} },
	EventPageViewed:       func() Payload { return &LifecyclePayload{} },
	EventPageLeft:         func() Payload { return &LifecyclePayload{} },
	EventQuestionViewed:   func() Payload { return &LifecyclePayload{} },
	EventQuestionAnswered: func() Payload { return &LifecyclePayload{} },
	EventQuestionSkipped:  func() Payload { return &LifecyclePayload{} },
	EventValidationError:  func() Payload { return &LifecyclePayload{} },
	EventInteraction:      func() Payload { return &LifecyclePayload{} },
	EventMouseMove:        func() Payload { return &PointerPayload{} },
	EventKeystroke:        func() Payload { return &KeystrokePayload{} },
	EventScroll:           func() Payload { return &ScrollPayload{} },
	EventFocus:            func() Payload { return &FocusPayload{} },
	EventBlur:             func() Payload { return &FocusPayload{} },
	EventVisibilityChange: func() Payload { return &VisibilityPayload{} },
}

// RawEvent is a single captured event. It is immutable once flushed by the
// capturer and is persisted append-only.
type RawEvent struct {
	ID          string         `json:"id,omitempty"`
	SurveyID    string         `json:"surveyId"`
	SessionID   string         `json:"sessionId"`
	UserID      string         `json:"userId,omitempty"`
	Type        EventType      `json:"eventType"`
	PageID      string         `json:"pageId,omitempty"`
	ComponentID string         `json:"componentId,omitempty"`
	Timestamp   int64          `json:"timestamp"` // client clock, ms since epoch
	Payload     Payload        `json:"payload,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	ReceivedAt  time.Time      `json:"receivedAt,omitempty"`
	PIIRedacted bool           `json:"piiRedacted,omitempty"`
}

type rawEventWire struct {
	ID          string          `json:"id,omitempty"`
	SurveyID    string          `json:"surveyId"`
	SessionID   string          `json:"sessionId"`
	UserID      string          `json:"userId,omitempty"`
	Type        EventType       `json:"eventType"`
	PageID      string          `json:"pageId,omitempty"`
	ComponentID string          `json:"componentId,omitempty"`
	Timestamp   *float64        `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Data        map[string]any  `json:"data,omitempty"`
	ReceivedAt  time.Time       `json:"receivedAt,omitempty"`
	PIIRedacted bool            `json:"piiRedacted,omitempty"`
}

// UnmarshalJSON decodes an event and its payload strictly: unknown fields are
// rejected and the payload is decoded into the variant selected by eventType.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var w rawEventWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if w.Timestamp == nil {
		return fmt.Errorf("%w: timestamp required", ErrInvalidEvent)
	}
	if !finite(*w.Timestamp) {
		return fmt.Errorf("%w: timestamp must be numeric", ErrInvalidEvent)
	}

	factory, ok := payloadFactories[w.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, w.Type)
	}

	var payload Payload
	if len(w.Payload) > 0 && !bytes.Equal(bytes.TrimSpace(w.Payload), []byte("null")) {
		payload = factory()
		pdec := json.NewDecoder(bytes.NewReader(w.Payload))
		pdec.DisallowUnknownFields()
		if err := pdec.Decode(payload); err != nil {
			return fmt.Errorf("%w: payload for %s: %v", ErrInvalidEvent, w.Type, err)
		}
	}

	*e = RawEvent{
		ID:          w.ID,
		SurveyID:    w.SurveyID,
		SessionID:   w.SessionID,
		UserID:      w.UserID,
		Type:        w.Type,
		PageID:      w.PageID,
		ComponentID: w.ComponentID,
		Timestamp:   int64(*w.Timestamp),
		Payload:     payload,
		Data:        w.Data,
		ReceivedAt:  w.ReceivedAt,
		PIIRedacted: w.PIIRedacted,
	}
	return nil
}

// Validate checks the fields the ingestion boundary requires.
func (e *RawEvent) Validate() error {
	if e.SurveyID == "" {
		return fmt.Errorf("%w: surveyId required", ErrInvalidEvent)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%w: sessionId required", ErrInvalidEvent)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidEvent)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if e.Payload == nil {
		if e.Type.IsInteraction() {
			return fmt.Errorf("%w: payload required for %s", ErrInvalidEvent, e.Type)
		}
		return nil
	}
	return e.Payload.validate()
}

// OccurredAt returns the client timestamp as a time.
func (e *RawEvent) OccurredAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Completion returns the completion payload of a survey_completed event.
func (e *RawEvent) Completion() (*CompletionPayload, bool) {
	p, ok := e.Payload.(*CompletionPayload)
	return p, ok
}

// DecodePayload decodes a stored payload document for the given event type.
func DecodePayload(t EventType, raw []byte) (Payload, error) {
	factory, ok := payloadFactories[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	p := factory()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
