package pii

import (
	"io"
	"log/slog"
	"testing"

	"github.com/V4T54L/survey-sentinel/internal/domain"
)

func TestRedactor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	redactor := NewRedactor([]string{"email", "SSN", " phone "}, logger)

	tests := []struct {
		name           string
		data           map[string]any
		expectRedacted bool
		check          func(t *testing.T, data map[string]any)
	}{
		{
			name:           "Redact single field",
			data:           map[string]any{"email": "test@example.com", "answer": 4.0},
			expectRedacted: true,
			check: func(t *testing.T, data map[string]any) {
				if data["email"] != RedactedPlaceholder || data["answer"] != 4.0 {
					t.Errorf("data = %v", data)
				}
			},
		},
		{
			name:           "Keys match regardless of case",
			data:           map[string]any{"Email": "a@b.c", "ssn": "000-00-0000"},
			expectRedacted: true,
			check: func(t *testing.T, data map[string]any) {
				if data["Email"] != RedactedPlaceholder || data["ssn"] != RedactedPlaceholder {
					t.Errorf("data = %v", data)
				}
			},
		},
		{
			name: "Nested objects and arrays",
			data: map[string]any{
				"contact": map[string]any{"phone": "555-0100", "city": "Lyon"},
				"others":  []any{map[string]any{"email": "x@y.z"}},
			},
			expectRedacted: true,
			check: func(t *testing.T, data map[string]any) {
				contact := data["contact"].(map[string]any)
				if contact["phone"] != RedactedPlaceholder || contact["city"] != "Lyon" {
					t.Errorf("contact = %v", contact)
				}
				other := data["others"].([]any)[0].(map[string]any)
				if other["email"] != RedactedPlaceholder {
					t.Errorf("others = %v", other)
				}
			},
		},
		{
			name:           "No fields to redact",
			data:           map[string]any{"action": "next"},
			expectRedacted: false,
			check: func(t *testing.T, data map[string]any) {
				if data["action"] != "next" {
					t.Errorf("data = %v", data)
				}
			},
		},
		{
			name:           "Empty data",
			data:           nil,
			expectRedacted: false,
			check:          func(t *testing.T, data map[string]any) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &domain.RawEvent{ID: "e1", Data: tt.data}

			got := redactor.Redact(event)

			if got != tt.expectRedacted || event.PIIRedacted != tt.expectRedacted {
				t.Errorf("Redact() = %v, PIIRedacted = %v, want %v", got, event.PIIRedacted, tt.expectRedacted)
			}
			tt.check(t, event.Data)
		})
	}
}
