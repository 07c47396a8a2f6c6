package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	formula "mabis-registry/internal/formula/domain"
	registry "mabis-registry/internal/registry/domain"
)

func record(id string) *registry.Record {
	return &registry.Record{
		Formula: &formula.Formula{
			FormulaID: id,
			Name:      "sum",
			Expression: &formula.FormulaExpression{
				Function:   formula.FuncGrpSum,
				Parameters: []formula.FormulaParameter{formula.NewSeriesRef("A")},
			},
			InputTimeSeries:  []string{"A"},
			OutputUnit:       "kWh",
			OutputResolution: "PT15M",
		},
		SenderID:   "MSB-100",
		SenderRole: "MSB",
	}
}

func TestRegisterAssignsSequentialVersions(t *testing.T) {
	repo := NewFormulaRepository()
	ctx := context.Background()

	v1, err := repo.Register(ctx, record("F"), 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if v1 != 1 {
		t.Fatalf("v1 = %d", v1)
	}
	v2, err := repo.Register(ctx, record("F"), 1)
	if err != nil {
		t.Fatalf("Register v2: %v", err)
	}
	if v2 != 2 {
		t.Fatalf("v2 = %d", v2)
	}

	head, err := repo.Get(ctx, "F", 0)
	if err != nil {
		t.Fatalf("Get head: %v", err)
	}
	if head.Version != 2 {
		t.Fatalf("head = %d", head.Version)
	}
	first, err := repo.Get(ctx, "F", 1)
	if err != nil {
		t.Fatalf("Get v1: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("version = %d", first.Version)
	}
}

func TestRegisterStaleVersionConflicts(t *testing.T) {
	repo := NewFormulaRepository()
	ctx := context.Background()
	if _, err := repo.Register(ctx, record("F"), 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := repo.Register(ctx, record("F"), 0); !errors.Is(err, registry.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestConcurrentRegisterOneWinner(t *testing.T) {
	repo := NewFormulaRepository()
	ctx := context.Background()
	if _, err := repo.Register(ctx, record("F"), 0); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = repo.Register(ctx, record("F"), 1)
		}(i)
	}
	wg.Wait()

	winners, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, registry.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 || conflicts != 1 {
		t.Fatalf("winners = %d, conflicts = %d", winners, conflicts)
	}
	head, err := repo.Get(ctx, "F", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if head.Version != 2 {
		t.Fatalf("head = %d, want 2", head.Version)
	}
}

func TestRetiredFormulaBlocksRegistration(t *testing.T) {
	repo := NewFormulaRepository()
	ctx := context.Background()
	if _, err := repo.Register(ctx, record("F"), 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := repo.Retire(ctx, "F"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if _, err := repo.Register(ctx, record("F"), 1); !errors.Is(err, registry.ErrRetired) {
		t.Fatalf("err = %v, want retired", err)
	}
	head, err := repo.Get(ctx, "F", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if head.Status != registry.StatusRetired {
		t.Fatalf("status = %s", head.Status)
	}
}

func TestListFiltersCategoryAndRetired(t *testing.T) {
	repo := NewFormulaRepository()
	ctx := context.Background()

	active := record("F-ACTIVE")
	active.Formula.Category = formula.CategoryBilanzierung
	if _, err := repo.Register(ctx, active, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	gone := record("F-GONE")
	gone.Formula.Category = formula.CategoryVerluste
	if _, err := repo.Register(ctx, gone, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := repo.Retire(ctx, "F-GONE"); err != nil {
		t.Fatalf("Retire: %v", err)
	}

	records, err := repo.List(ctx, registry.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].Formula.FormulaID != "F-ACTIVE" {
		t.Fatalf("records = %+v", records)
	}

	records, err = repo.List(ctx, registry.Filter{IncludeRetired: true})
	if err != nil {
		t.Fatalf("List retired: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	records, err = repo.List(ctx, registry.Filter{Category: formula.CategoryBilanzierung})
	if err != nil {
		t.Fatalf("List category: %v", err)
	}
	if len(records) != 1 || records[0].Formula.FormulaID != "F-ACTIVE" {
		t.Fatalf("records = %+v", records)
	}
}

func TestDecideRecordsVerdict(t *testing.T) {
	repo := NewFormulaRepository()
	ctx := context.Background()
	if _, err := repo.Register(ctx, record("F"), 0); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := repo.Decide(ctx, "F", registry.DecisionRejected, "NB-200"); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	head, err := repo.Get(ctx, "F", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if head.Decision != registry.DecisionRejected || head.DecidedBy != "NB-200" {
		t.Fatalf("decision = %s by %s", head.Decision, head.DecidedBy)
	}
	if err := repo.Decide(ctx, "F", "MAYBE", "NB-200"); !errors.Is(err, registry.ErrInvalidDecision) {
		t.Fatalf("err = %v, want invalid decision", err)
	}
}
