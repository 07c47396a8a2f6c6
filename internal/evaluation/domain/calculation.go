package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	timeseries "mabis-registry/internal/timeseries/domain"
)

// CalculationStatus is the lifecycle state of an async calculation.
type CalculationStatus string

const (
	CalculationPending    CalculationStatus = "PENDING"
	CalculationProcessing CalculationStatus = "PROCESSING"
	CalculationCompleted  CalculationStatus = "COMPLETED"
	CalculationFailed     CalculationStatus = "FAILED"
)

// Calculation is one evaluation job of a registered formula over a period.
type Calculation struct {
	CalculationID  string            `json:"calculationId"`
	FormulaID      string            `json:"formulaId"`
	FormulaVersion int               `json:"formulaVersion"`
	Period         timeseries.Period `json:"period"`
	Bindings       map[string]string `json:"bindings,omitempty"`
	Status         CalculationStatus `json:"status"`
	RequestedBy    string            `json:"requestedBy,omitempty"`
	RequestedAt    time.Time         `json:"requestedAt"`
	StartedAt      time.Time         `json:"startedAt,omitempty"`
	CompletedAt    time.Time         `json:"completedAt,omitempty"`
	ResultSeriesID string            `json:"resultSeriesId,omitempty"`
	ResultValue    string            `json:"resultValue,omitempty"`
	ErrorCode      string            `json:"errorCode,omitempty"`
	ErrorMessage   string            `json:"errorMessage,omitempty"`
}

// Terminal reports whether the job has finished.
func (c *Calculation) Terminal() bool {
	if c == nil {
		return false
	}
	switch c.Status {
	case CalculationCompleted, CalculationFailed:
		return true
	}
	return false
}

// Clone returns a deep copy.
func (c *Calculation) Clone() (*Calculation, error) {
	if c == nil {
		return nil, ErrNilCalculation
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var copy Calculation
	if err := json.Unmarshal(data, &copy); err != nil {
		return nil, err
	}
	return &copy, nil
}

// ErrNilCalculation is returned when a nil calculation is stored.
var ErrNilCalculation = errors.New("evaluation: nil calculation")

// ErrCalculationNotFound is returned when a calculation id is unknown.
var ErrCalculationNotFound = errors.New("evaluation: calculation not found")

// CalculationRepository stores calculation jobs.
type CalculationRepository interface {
	Save(ctx context.Context, calc *Calculation) error
	Get(ctx context.Context, calculationID string) (*Calculation, error)
	List(ctx context.Context, limit int) ([]*Calculation, error)
	Count(ctx context.Context) (int, error)
}
