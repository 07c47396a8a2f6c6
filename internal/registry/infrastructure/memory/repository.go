package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	registry "mabis-registry/internal/registry/domain"
)

// FormulaRepository is an in-memory registry store. Version assignment is
// linearizable: all mutation happens under one mutex, reads work on clones
// and never block writers for long.
type FormulaRepository struct {
	mu       sync.RWMutex
	versions map[string][]*registry.Record
	order    []string
}

// NewFormulaRepository constructs a repository.
func NewFormulaRepository() *FormulaRepository {
	return &FormulaRepository{versions: make(map[string][]*registry.Record)}
}

// Register appends a new version when expectedVersion matches the current
// latest. Exactly one of two concurrent calls with the same expectation
// wins; the other observes ErrConflict.
func (r *FormulaRepository) Register(ctx context.Context, record *registry.Record, expectedVersion int) (int, error) {
	_ = ctx
	if record == nil || record.Formula == nil {
		return 0, registry.ErrNilRecord
	}
	copy, err := record.Clone()
	if err != nil {
		return 0, err
	}
	id := copy.Formula.FormulaID

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.versions[id]
	current := 0
	if len(history) > 0 {
		head := history[len(history)-1]
		if head.Status == registry.StatusRetired {
			return 0, registry.ErrRetired
		}
		current = head.Version
	}
	if current != expectedVersion {
		return 0, registry.ErrConflict
	}

	copy.Version = current + 1
	copy.Formula.Version = copy.Version
	copy.Status = registry.StatusActive
	if copy.Decision == "" {
		copy.Decision = registry.DecisionPending
	}
	if copy.RegisteredAt.IsZero() {
		copy.RegisteredAt = time.Now().UTC()
	}
	if len(history) == 0 {
		r.order = append(r.order, id)
	}
	r.versions[id] = append(history, copy)
	return copy.Version, nil
}

// Get loads one version, or the latest when version is 0.
func (r *FormulaRepository) Get(ctx context.Context, formulaID string, version int) (*registry.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.versions[formulaID]
	if len(history) == 0 {
		return nil, registry.ErrNotFound
	}
	if version == 0 {
		return history[len(history)-1].Clone()
	}
	index := sort.Search(len(history), func(i int) bool { return history[i].Version >= version })
	if index >= len(history) || history[index].Version != version {
		return nil, registry.ErrNotFound
	}
	return history[index].Clone()
}

// List returns the latest version of each formula matching the filter.
func (r *FormulaRepository) List(ctx context.Context, filter registry.Filter) ([]*registry.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*registry.Record, 0, len(r.order))
	for _, id := range r.order {
		history := r.versions[id]
		if len(history) == 0 {
			continue
		}
		head := history[len(history)-1]
		if !filter.IncludeRetired && head.Status == registry.StatusRetired {
			continue
		}
		if filter.Category != "" && head.Formula.Category != filter.Category {
			continue
		}
		if filter.SenderID != "" && head.SenderID != filter.SenderID {
			continue
		}
		copy, err := head.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, copy)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Retire soft-deletes a formula: the history stays, routing stops.
func (r *FormulaRepository) Retire(ctx context.Context, formulaID string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.versions[formulaID]
	if len(history) == 0 {
		return registry.ErrNotFound
	}
	head := history[len(history)-1]
	if head.Status == registry.StatusRetired {
		return registry.ErrRetired
	}
	head.Status = registry.StatusRetired
	return nil
}

// Decide records a recipient accept/reject on the latest version.
func (r *FormulaRepository) Decide(ctx context.Context, formulaID string, decision registry.Decision, decidedBy string) error {
	_ = ctx
	if decision != registry.DecisionAccepted && decision != registry.DecisionRejected {
		return registry.ErrInvalidDecision
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.versions[formulaID]
	if len(history) == 0 {
		return registry.ErrNotFound
	}
	head := history[len(history)-1]
	if head.Status == registry.StatusRetired {
		return registry.ErrRetired
	}
	head.Decision = decision
	head.DecidedBy = decidedBy
	return nil
}

// Count returns the number of registered formulas (heads, incl. retired).
func (r *FormulaRepository) Count(ctx context.Context) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.versions), nil
}
