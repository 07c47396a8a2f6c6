package application

import "time"

// FormulaRegistered is published after a formula version is committed to
// the registry.
type FormulaRegistered struct {
	FormulaID  string    `json:"formula_id"`
	Version    int       `json:"version"`
	Category   string    `json:"category"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	MessageID  string    `json:"message_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FormulaRetired is published when an operator withdraws a formula.
type FormulaRetired struct {
	FormulaID  string    `json:"formula_id"`
	SenderID   string    `json:"sender_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
