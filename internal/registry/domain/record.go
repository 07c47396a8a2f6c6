package registry

import (
	"context"
	"time"

	formula "mabis-registry/internal/formula/domain"
)

// Status is the lifecycle state of a registered formula.
type Status string

const (
	// StatusActive marks a formula available for routing and calculation.
	StatusActive Status = "ACTIVE"
	// StatusRetired marks a formula withdrawn by an operator. The record
	// is kept for audit and excluded from active routing.
	StatusRetired Status = "RETIRED"
)

// Decision is the recipient's verdict on a routed formula.
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionAccepted Decision = "ACCEPTED"
	DecisionRejected Decision = "REJECTED"
)

// Record is one immutable version of a formula in the registry.
type Record struct {
	Formula      *formula.Formula `json:"formula"`
	Version      int              `json:"version"`
	Status       Status           `json:"status"`
	Decision     Decision         `json:"decision"`
	DecidedBy    string           `json:"decidedBy,omitempty"`
	SenderID     string           `json:"senderId"`
	SenderRole   string           `json:"senderRole"`
	MessageID    string           `json:"messageId,omitempty"`
	RegisteredAt time.Time        `json:"registeredAt"`
}

// Clone returns a deep copy.
func (r *Record) Clone() (*Record, error) {
	if r == nil {
		return nil, ErrNilRecord
	}
	copy := *r
	if r.Formula != nil {
		f, err := r.Formula.Clone()
		if err != nil {
			return nil, err
		}
		copy.Formula = f
	}
	return &copy, nil
}

// Routable reports whether the record participates in active routing.
func (r *Record) Routable() bool {
	return r != nil && r.Status == StatusActive && r.Decision != DecisionRejected
}

// Filter narrows a registry listing.
type Filter struct {
	Category       formula.Category
	SenderID       string
	IncludeRetired bool
	Limit          int
}

// Repository is the registry's storage contract. Register is a
// compare-and-swap: expectedVersion must equal the current latest version
// (0 when the formulaId is new) or the call fails with ErrConflict.
// Versions per formulaId form a strictly increasing, append-only sequence.
type Repository interface {
	Register(ctx context.Context, record *Record, expectedVersion int) (int, error)
	Get(ctx context.Context, formulaID string, version int) (*Record, error)
	List(ctx context.Context, filter Filter) ([]*Record, error)
	Retire(ctx context.Context, formulaID string) error
	Decide(ctx context.Context, formulaID string, decision Decision, decidedBy string) error
	Count(ctx context.Context) (int, error)
}
