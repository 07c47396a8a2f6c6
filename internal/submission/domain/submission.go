package submission

import (
	"context"
	"encoding/json"
	"time"

	formula "mabis-registry/internal/formula/domain"
)

// State is the processing state of a submission envelope.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateValidating       State = "VALIDATING"
	StateValidationFailed State = "VALIDATION_FAILED"
	StateRegistered       State = "REGISTERED"
	StateNotifying        State = "NOTIFYING"
	StateAccepted         State = "ACCEPTED"
	StateRejected         State = "REJECTED"
)

var allowedTransitions = map[State][]State{
	StateReceived:   {StateValidating},
	StateValidating: {StateValidationFailed, StateRegistered, StateRejected},
	StateRegistered: {StateNotifying, StateAccepted},
	StateNotifying:  {StateAccepted, StateRejected},
}

// Sender identifies the submitting market party.
type Sender struct {
	PartyID string `json:"partyId"`
	Role    string `json:"role"`
}

// ValidationResult holds the validation outcome for one formula.
type ValidationResult struct {
	FormulaID string                    `json:"formulaId"`
	Valid     bool                      `json:"valid"`
	Errors    []formula.ValidationError `json:"errors,omitempty"`
}

// Submission is one formula registration envelope. The messageId is the
// idempotency key: a replay with a known messageId returns the stored
// acknowledgement without touching the registry again.
type Submission struct {
	MessageID            string             `json:"messageId"`
	Sender               Sender             `json:"sender"`
	CreationTime         time.Time          `json:"creationTime"`
	Formulas             []*formula.Formula `json:"formulas"`
	State                State              `json:"state"`
	ReceivedAt           time.Time          `json:"receivedAt"`
	CompletedAt          time.Time          `json:"completedAt,omitempty"`
	Results              []ValidationResult `json:"validationResults,omitempty"`
	RegisteredVersions   map[string]int     `json:"registeredVersions,omitempty"`
	NotificationFailures []string           `json:"notificationFailures,omitempty"`
}

// Advance moves the submission to the next state.
func (s *Submission) Advance(next State) error {
	if s == nil {
		return ErrNilSubmission
	}
	for _, candidate := range allowedTransitions[s.State] {
		if candidate == next {
			s.State = next
			return nil
		}
	}
	return ErrInvalidTransition
}

// Terminal reports whether processing has finished.
func (s *Submission) Terminal() bool {
	if s == nil {
		return false
	}
	switch s.State {
	case StateAccepted, StateRejected, StateValidationFailed:
		return true
	}
	return false
}

// FormulaIDs returns the ids in submission order.
func (s *Submission) FormulaIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Formulas))
	for _, f := range s.Formulas {
		if f != nil {
			ids = append(ids, f.FormulaID)
		}
	}
	return ids
}

// Clone returns a deep copy.
func (s *Submission) Clone() (*Submission, error) {
	if s == nil {
		return nil, ErrNilSubmission
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var copy Submission
	if err := json.Unmarshal(data, &copy); err != nil {
		return nil, err
	}
	return &copy, nil
}

// Ack is the acknowledgement returned to the sender.
type Ack struct {
	MessageID      string             `json:"messageId"`
	AcceptanceTime time.Time          `json:"acceptanceTime"`
	Status         State              `json:"status"`
	FormulaIDs     []string           `json:"formulaIds"`
	Results        []ValidationResult `json:"validationResults,omitempty"`
}

// Ack builds the acknowledgement for the current state.
func (s *Submission) Ack() *Ack {
	if s == nil {
		return nil
	}
	status := s.State
	switch s.State {
	case StateAccepted:
		status = StateAccepted
	case StateValidationFailed, StateRejected:
		status = StateRejected
	}
	at := s.CompletedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &Ack{
		MessageID:      s.MessageID,
		AcceptanceTime: at,
		Status:         status,
		FormulaIDs:     s.FormulaIDs(),
		Results:        s.Results,
	}
}

// Repository is the submission journal.
type Repository interface {
	Save(ctx context.Context, sub *Submission) error
	Get(ctx context.Context, messageID string) (*Submission, error)
	List(ctx context.Context, limit int) ([]*Submission, error)
	Count(ctx context.Context) (int, error)
}
