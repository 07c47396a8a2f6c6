package memory

import (
	"context"
	"sync"

	evaluation "mabis-registry/internal/evaluation/domain"
)

// CalculationRepository is an in-memory calculation store.
type CalculationRepository struct {
	mu    sync.RWMutex
	items map[string]*evaluation.Calculation
	order []string
}

// NewCalculationRepository constructs a repository.
func NewCalculationRepository() *CalculationRepository {
	return &CalculationRepository{items: make(map[string]*evaluation.Calculation)}
}

// Save stores or replaces the calculation.
func (r *CalculationRepository) Save(ctx context.Context, calc *evaluation.Calculation) error {
	_ = ctx
	if calc == nil {
		return evaluation.ErrNilCalculation
	}
	copy, err := calc.Clone()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[copy.CalculationID]; !exists {
		r.order = append(r.order, copy.CalculationID)
	}
	r.items[copy.CalculationID] = copy
	return nil
}

// Get loads one calculation.
func (r *CalculationRepository) Get(ctx context.Context, calculationID string) (*evaluation.Calculation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.items[calculationID]
	if !ok {
		return nil, evaluation.ErrCalculationNotFound
	}
	return stored.Clone()
}

// List returns calculations in arrival order.
func (r *CalculationRepository) List(ctx context.Context, limit int) ([]*evaluation.Calculation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]*evaluation.Calculation, 0, len(r.order))
	for _, id := range r.order {
		stored, ok := r.items[id]
		if !ok {
			continue
		}
		copy, err := stored.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, copy)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of calculations.
func (r *CalculationRepository) Count(ctx context.Context) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}
