package domain

// MouseSample is one coalesced pointer position. Velocity is px/ms.
type MouseSample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
	Velocity  float64 `json:"velocity,omitempty"`
}

// KeystrokeSample is one key press/release pair. Key holds the key class,
// never the literal character.
type KeystrokeSample struct {
	Key        string  `json:"key"`
	Timestamp  int64   `json:"timestamp"`
	DwellTime  float64 `json:"dwell_time"`
	FlightTime float64 `json:"flight_time"`
}

// ScrollSample is one coalesced scroll position.
type ScrollSample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
	Velocity  float64 `json:"velocity,omitempty"`
}

// BehavioralPayload is the session summary sent to the fraud scorer as the
// raw request body.
type BehavioralPayload struct {
	SurveyID          string            `json:"survey_id"`
	ResponseID        string            `json:"response_id"`
	MouseMovements    []MouseSample     `json:"mouse_movements"`
	Keystrokes        []KeystrokeSample `json:"keystrokes"`
	ResponseTimes     []float64         `json:"response_times"`
	ScrollEvents      []ScrollSample    `json:"scroll_events"`
	DeviceFingerprint map[string]any    `json:"device_fingerprint"`
	AnswerPatterns    []string          `json:"answer_patterns"`
}

// Normalized returns a copy with nil collections replaced by empty ones, so
// the encoded body never carries JSON nulls for list fields.
func (b BehavioralPayload) Normalized() BehavioralPayload {
	if b.MouseMovements == nil {
		b.MouseMovements = []MouseSample{}
	}
	if b.Keystrokes == nil {
		b.Keystrokes = []KeystrokeSample{}
	}
	if b.ResponseTimes == nil {
		b.ResponseTimes = []float64{}
	}
	if b.ScrollEvents == nil {
		b.ScrollEvents = []ScrollSample{}
	}
	if b.DeviceFingerprint == nil {
		b.DeviceFingerprint = map[string]any{}
	}
	if b.AnswerPatterns == nil {
		b.AnswerPatterns = []string{}
	}
	return b
}
