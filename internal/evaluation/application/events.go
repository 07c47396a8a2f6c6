package application

import "time"

// CalculationCompleted is published when a calculation reaches a terminal
// state.
type CalculationCompleted struct {
	CalculationID string    `json:"calculation_id"`
	FormulaID     string    `json:"formula_id"`
	Version       int       `json:"version"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}
