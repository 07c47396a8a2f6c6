package application

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	formula "mabis-registry/internal/formula/domain"
	"mabis-registry/internal/notify"
	registry "mabis-registry/internal/registry/domain"
	registrymem "mabis-registry/internal/registry/infrastructure/memory"
	submission "mabis-registry/internal/submission/domain"
	submissionmem "mabis-registry/internal/submission/infrastructure/memory"
)

type stubNotifier struct {
	mu      sync.Mutex
	parties []string
	notices []notify.Notice
	err     error
}

func (s *stubNotifier) Notify(_ context.Context, recipient notify.Recipient, notice notify.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.parties = append(s.parties, recipient.PartyID)
	s.notices = append(s.notices, notice)
	return nil
}

type flakyRegistry struct {
	registry.Repository
	mu        sync.Mutex
	conflicts int
}

func (f *flakyRegistry) Register(ctx context.Context, record *registry.Record, expectedVersion int) (int, error) {
	f.mu.Lock()
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return 0, registry.ErrConflict
	}
	f.mu.Unlock()
	return f.Repository.Register(ctx, record, expectedVersion)
}

func testConfig() Config {
	return Config{
		Routing: RoutingConfig{DefaultRoles: []string{"NB", "UNB"}},
		Recipients: []notify.Recipient{
			{PartyID: "NB-200", Role: "NB", Endpoint: "http://nb.example"},
			{PartyID: "UNB-300", Role: "UNB", Endpoint: "http://unb.example"},
			{PartyID: "MSB-900", Role: "MSB", Endpoint: "http://msb.example"},
		},
	}
}

func validFormula(id string) *formula.Formula {
	return &formula.Formula{
		FormulaID: id,
		Name:      "grid sum " + id,
		Expression: &formula.FormulaExpression{
			Function: formula.FuncGrpSum,
			Parameters: []formula.FormulaParameter{
				formula.NewSeriesRef("A"),
				formula.NewSeriesRef("B"),
			},
		},
		InputTimeSeries:  []string{"A", "B"},
		OutputUnit:       "kWh",
		OutputResolution: "PT15M",
		Category:         formula.CategoryBilanzierung,
	}
}

func newTestWorkflow(t *testing.T, registryRepo registry.Repository, opts ...WorkflowOption) (*Workflow, *submissionmem.SubmissionRepository) {
	t.Helper()
	router, err := NewRouter(testConfig())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	subs := submissionmem.NewSubmissionRepository()
	logger := log.New(io.Discard, "", 0)
	workflow, err := NewWorkflow(formula.NewValidator(), registryRepo, subs, router, logger, opts...)
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}
	return workflow, subs
}

func TestWorkflowAcceptsValidSubmission(t *testing.T) {
	registryRepo := registrymem.NewFormulaRepository()
	notifier := &stubNotifier{}
	workflow, _ := newTestWorkflow(t, registryRepo, WithNotifier(notifier))

	sub := &submission.Submission{
		MessageID: "MSG-001",
		Sender:    submission.Sender{PartyID: "MSB-100", Role: "MSB"},
		Formulas:  []*formula.Formula{validFormula("FORMULA-A")},
	}
	ack, err := workflow.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Status != submission.StateAccepted {
		t.Fatalf("ack status = %s", ack.Status)
	}
	record, err := registryRepo.Get(context.Background(), "FORMULA-A", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Version != 1 {
		t.Fatalf("version = %d, want 1", record.Version)
	}
	if record.SenderID != "MSB-100" || record.MessageID != "MSG-001" {
		t.Fatalf("provenance lost: %+v", record)
	}
	workflow.Wait()
	if len(notifier.parties) != 2 {
		t.Fatalf("notified %v, want NB-200 and UNB-300", notifier.parties)
	}
	for _, notice := range notifier.notices {
		if notice.FormulaID != "FORMULA-A" || notice.Version != 1 {
			t.Fatalf("unexpected notice %+v", notice)
		}
	}
}

func TestWorkflowAllOrNothingValidation(t *testing.T) {
	registryRepo := registrymem.NewFormulaRepository()
	workflow, _ := newTestWorkflow(t, registryRepo)

	bad := validFormula("FORMULA-BAD")
	bad.Expression = nil
	sub := &submission.Submission{
		MessageID: "MSG-002",
		Sender:    submission.Sender{PartyID: "MSB-100", Role: "MSB"},
		Formulas:  []*formula.Formula{validFormula("FORMULA-GOOD"), bad},
	}
	ack, err := workflow.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Status != submission.StateRejected {
		t.Fatalf("ack status = %s, want REJECTED", ack.Status)
	}
	if count, _ := registryRepo.Count(context.Background()); count != 0 {
		t.Fatalf("registry count = %d, want 0 (nothing registered)", count)
	}
	if len(ack.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(ack.Results))
	}
	if !ack.Results[0].Valid || ack.Results[1].Valid {
		t.Fatalf("per-formula verdicts wrong: %+v", ack.Results)
	}
}

func TestWorkflowIdempotentReplay(t *testing.T) {
	registryRepo := registrymem.NewFormulaRepository()
	workflow, _ := newTestWorkflow(t, registryRepo)

	first := &submission.Submission{
		MessageID: "MSG-003",
		Sender:    submission.Sender{PartyID: "MSB-100", Role: "MSB"},
		Formulas:  []*formula.Formula{validFormula("FORMULA-A")},
	}
	ack1, err := workflow.Submit(context.Background(), first)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	replay := &submission.Submission{
		MessageID: "MSG-003",
		Sender:    submission.Sender{PartyID: "MSB-100", Role: "MSB"},
		Formulas:  []*formula.Formula{validFormula("FORMULA-A")},
	}
	ack2, err := workflow.Submit(context.Background(), replay)
	if err != nil {
		t.Fatalf("replay Submit: %v", err)
	}
	if ack2.Status != ack1.Status || ack2.MessageID != ack1.MessageID {
		t.Fatalf("replay ack differs: %+v vs %+v", ack1, ack2)
	}
	record, err := registryRepo.Get(context.Background(), "FORMULA-A", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Version != 1 {
		t.Fatalf("replay registered a new version: %d", record.Version)
	}
}

func TestWorkflowRetriesConflicts(t *testing.T) {
	inner := registrymem.NewFormulaRepository()
	flaky := &flakyRegistry{Repository: inner, conflicts: 2}
	workflow, _ := newTestWorkflow(t, flaky, WithCASRetries(3))

	sub := &submission.Submission{
		MessageID: "MSG-004",
		Sender:    submission.Sender{PartyID: "MSB-100", Role: "MSB"},
		Formulas:  []*formula.Formula{validFormula("FORMULA-A")},
	}
	ack, err := workflow.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Status != submission.StateAccepted {
		t.Fatalf("ack status = %s", ack.Status)
	}
}

func TestWorkflowRejectsWhenConflictsPersist(t *testing.T) {
	inner := registrymem.NewFormulaRepository()
	flaky := &flakyRegistry{Repository: inner, conflicts: 100}
	workflow, _ := newTestWorkflow(t, flaky, WithCASRetries(2))

	sub := &submission.Submission{
		MessageID: "MSG-005",
		Sender:    submission.Sender{PartyID: "MSB-100", Role: "MSB"},
		Formulas:  []*formula.Formula{validFormula("FORMULA-A")},
	}
	ack, err := workflow.Submit(context.Background(), sub)
	if !errors.Is(err, registry.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if ack == nil || ack.Status != submission.StateRejected {
		t.Fatalf("ack = %+v, want REJECTED", ack)
	}
}

func TestWorkflowVersionsIncrement(t *testing.T) {
	registryRepo := registrymem.NewFormulaRepository()
	workflow, _ := newTestWorkflow(t, registryRepo)

	for i, messageID := range []string{"MSG-006", "MSG-007"} {
		sub := &submission.Submission{
			MessageID: messageID,
			Sender:    submission.Sender{PartyID: "MSB-100", Role: "MSB"},
			Formulas:  []*formula.Formula{validFormula("FORMULA-A")},
		}
		ack, err := workflow.Submit(context.Background(), sub)
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if ack.Status != submission.StateAccepted {
			t.Fatalf("Submit %d status = %s", i, ack.Status)
		}
	}
	record, err := registryRepo.Get(context.Background(), "FORMULA-A", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Version != 2 {
		t.Fatalf("version = %d, want 2", record.Version)
	}
	older, err := registryRepo.Get(context.Background(), "FORMULA-A", 1)
	if err != nil {
		t.Fatalf("Get v1: %v", err)
	}
	if older.Version != 1 {
		t.Fatalf("history lost: %+v", older)
	}
}

func TestWorkflowNotificationFailureKeepsRegistration(t *testing.T) {
	registryRepo := registrymem.NewFormulaRepository()
	notifier := &stubNotifier{err: errors.New("endpoint down")}
	workflow, subs := newTestWorkflow(t, registryRepo, WithNotifier(notifier))

	sub := &submission.Submission{
		MessageID: "MSG-008",
		Sender:    submission.Sender{PartyID: "MSB-100", Role: "MSB"},
		Formulas:  []*formula.Formula{validFormula("FORMULA-A")},
	}
	ack, err := workflow.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Status != submission.StateAccepted {
		t.Fatalf("ack status = %s", ack.Status)
	}
	if _, err := registryRepo.Get(context.Background(), "FORMULA-A", 0); err != nil {
		t.Fatalf("registration rolled back: %v", err)
	}
	workflow.Wait()
	stored, err := subs.Get(context.Background(), "MSG-008")
	if err != nil {
		t.Fatalf("Get submission: %v", err)
	}
	if len(stored.NotificationFailures) == 0 {
		t.Fatal("notification failures not recorded")
	}
}
