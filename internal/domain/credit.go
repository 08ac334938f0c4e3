package domain

// CreditCosts is the debit amount per billable action.
var CreditCosts = map[string]int64{
	"survey_simple":  20,
	"survey_medium":  35,
	"survey_complex": 50,
	"cipher_basic":   10,
	"cipher_full":    20,
}

// DefaultGenerationAction is charged when a generation job names no action.
const DefaultGenerationAction = "survey_simple"

// DebitInstruction is the message consumed by the credit ledger.
type DebitInstruction struct {
	UserID   string         `json:"user_id"`
	Action   string         `json:"action"`
	Amount   int64          `json:"amount"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
