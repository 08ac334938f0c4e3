package pii

import (
	"log/slog"
	"strings"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor scrubs sensitive keys out of the free-form data of capture events.
type Redactor struct {
	fields map[string]struct{}
	logger *slog.Logger
}

// NewRedactor creates a Redactor for the given keys. Matching ignores case.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			set[f] = struct{}{}
		}
	}
	return &Redactor{
		fields: set,
		logger: logger.With("component", "pii_redactor"),
	}
}

// Redact replaces matching values in event.Data, including inside nested
// objects and arrays, and marks the event when anything was replaced.
func (r *Redactor) Redact(event *domain.RawEvent) bool {
	if len(r.fields) == 0 || len(event.Data) == 0 {
		return false
	}
	if !r.redactMap(event.Data) {
		return false
	}
	event.PIIRedacted = true
	r.logger.Debug("Redacted event data", "event_id", event.ID, "survey_id", event.SurveyID)
	return true
}

func (r *Redactor) redactMap(m map[string]any) bool {
	redacted := false
	for k, v := range m {
		if _, ok := r.fields[strings.ToLower(k)]; ok {
			m[k] = RedactedPlaceholder
			redacted = true
			continue
		}
		if r.redactValue(v) {
			redacted = true
		}
	}
	return redacted
}

func (r *Redactor) redactValue(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return r.redactMap(t)
	case []any:
		redacted := false
		for _, item := range t {
			if r.redactValue(item) {
				redacted = true
			}
		}
		return redacted
	}
	return false
}
