package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mabis-registry/internal/audit"
	formula "mabis-registry/internal/formula/domain"
	"mabis-registry/internal/notify"
	"mabis-registry/internal/observability/metrics"
	registry "mabis-registry/internal/registry/domain"
	submission "mabis-registry/internal/submission/domain"
)

const defaultCASRetries = 3

// Notifier delivers one registration notice.
type Notifier interface {
	Notify(ctx context.Context, recipient notify.Recipient, notice notify.Notice) error
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Workflow drives a submission from receipt to acknowledgement.
//
// Validation is all-or-nothing: one invalid formula rejects the whole
// envelope and nothing reaches the registry. Registration uses the
// registry's compare-and-swap with a bounded retry, re-reading the head
// version after every conflict. Notification fan-out runs in the
// background and never rolls back a committed registration; delivery
// failures are recorded on the stored submission instead.
type Workflow struct {
	validator   *formula.Validator
	registry    registry.Repository
	submissions submission.Repository
	router      *Router
	notifier    Notifier
	publisher   Publisher
	auditLog    audit.Logger
	logger      *log.Logger
	casRetries  int
	wg          sync.WaitGroup
}

// WorkflowOption configures the workflow.
type WorkflowOption func(*Workflow)

// WithNotifier wires recipient notification.
func WithNotifier(notifier Notifier) WorkflowOption {
	return func(w *Workflow) { w.notifier = notifier }
}

// WithPublisher wires domain event publishing.
func WithPublisher(publisher Publisher) WorkflowOption {
	return func(w *Workflow) { w.publisher = publisher }
}

// WithAuditLogger wires audit logging.
func WithAuditLogger(logger audit.Logger) WorkflowOption {
	return func(w *Workflow) { w.auditLog = logger }
}

// WithCASRetries overrides the conflict retry budget.
func WithCASRetries(retries int) WorkflowOption {
	return func(w *Workflow) {
		if retries > 0 {
			w.casRetries = retries
		}
	}
}

// NewWorkflow constructs a workflow.
func NewWorkflow(
	validator *formula.Validator,
	registryRepo registry.Repository,
	submissionRepo submission.Repository,
	router *Router,
	logger *log.Logger,
	opts ...WorkflowOption,
) (*Workflow, error) {
	if validator == nil {
		return nil, errors.New("workflow: nil validator")
	}
	if registryRepo == nil {
		return nil, errors.New("workflow: nil registry")
	}
	if submissionRepo == nil {
		return nil, errors.New("workflow: nil submission repository")
	}
	if router == nil {
		return nil, errors.New("workflow: nil router")
	}
	if logger == nil {
		return nil, errors.New("workflow: nil logger")
	}
	w := &Workflow{
		validator:   validator,
		registry:    registryRepo,
		submissions: submissionRepo,
		router:      router,
		logger:      logger,
		casRetries:  defaultCASRetries,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Submit processes one submission envelope and returns the acknowledgement.
// A replayed messageId returns the stored acknowledgement unchanged.
func (w *Workflow) Submit(ctx context.Context, sub *submission.Submission) (*submission.Ack, error) {
	started := time.Now()
	if sub == nil {
		return nil, submission.ErrNilSubmission
	}
	if sub.MessageID == "" {
		return nil, submission.ErrEmptyMessageID
	}
	if len(sub.Formulas) == 0 {
		return nil, submission.ErrNoFormulas
	}

	if existing, err := w.submissions.Get(ctx, sub.MessageID); err == nil {
		w.logger.Printf("submission %s replayed, returning stored acknowledgement", sub.MessageID)
		return existing.Ack(), nil
	} else if !errors.Is(err, submission.ErrNotFound) {
		return nil, err
	}

	sub.State = submission.StateReceived
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = time.Now().UTC()
	}
	if err := sub.Advance(submission.StateValidating); err != nil {
		return nil, err
	}

	valid := w.validate(sub)
	if !valid {
		if err := sub.Advance(submission.StateValidationFailed); err != nil {
			return nil, err
		}
		sub.CompletedAt = time.Now().UTC()
		if err := w.submissions.Save(ctx, sub); err != nil {
			return nil, err
		}
		w.logger.Printf("submission %s rejected: validation failed", sub.MessageID)
		metrics.ObserveSubmission("validation_failed", time.Since(started))
		return sub.Ack(), nil
	}

	versions, regErr := w.registerAll(ctx, sub)
	sub.RegisteredVersions = versions
	if regErr != nil {
		if err := sub.Advance(submission.StateRejected); err != nil {
			return nil, err
		}
		sub.CompletedAt = time.Now().UTC()
		if err := w.submissions.Save(ctx, sub); err != nil {
			return nil, err
		}
		w.logger.Printf("submission %s rejected: %v", sub.MessageID, regErr)
		metrics.ObserveSubmission("rejected", time.Since(started))
		return sub.Ack(), regErr
	}
	if err := sub.Advance(submission.StateRegistered); err != nil {
		return nil, err
	}

	w.publishRegistered(ctx, sub)

	if err := sub.Advance(submission.StateNotifying); err != nil {
		return nil, err
	}
	if err := sub.Advance(submission.StateAccepted); err != nil {
		return nil, err
	}
	sub.CompletedAt = time.Now().UTC()
	if err := w.submissions.Save(ctx, sub); err != nil {
		return nil, err
	}
	w.recordAudit(ctx, sub)
	w.dispatchNotifications(sub)
	w.logger.Printf("submission %s accepted, %d formulas registered", sub.MessageID, len(versions))
	metrics.ObserveSubmission("accepted", time.Since(started))
	return sub.Ack(), nil
}

// Wait blocks until background notification deliveries have finished.
func (w *Workflow) Wait() {
	w.wg.Wait()
}

// Submission loads one submission by messageId.
func (w *Workflow) Submission(ctx context.Context, messageID string) (*submission.Submission, error) {
	return w.submissions.Get(ctx, messageID)
}

// Retire withdraws a formula and publishes the retirement.
func (w *Workflow) Retire(ctx context.Context, formulaID, actor string) error {
	if err := w.registry.Retire(ctx, formulaID); err != nil {
		return err
	}
	if w.publisher != nil {
		event := FormulaRetired{FormulaID: formulaID, SenderID: actor, OccurredAt: time.Now().UTC()}
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.logger.Printf("publish retirement of %s: %v", formulaID, err)
		}
	}
	if w.auditLog != nil {
		_ = w.auditLog.Log(ctx, audit.Entry{
			Actor:        actor,
			Action:       "formula.retire",
			ResourceType: "formula",
			ResourceID:   formulaID,
			FormulaID:    formulaID,
		})
	}
	return nil
}

// Decide records a recipient verdict on a formula.
func (w *Workflow) Decide(ctx context.Context, formulaID string, decision registry.Decision, decidedBy string) error {
	if err := w.registry.Decide(ctx, formulaID, decision, decidedBy); err != nil {
		return err
	}
	if w.auditLog != nil {
		metadata, _ := json.Marshal(map[string]string{"decision": string(decision)})
		_ = w.auditLog.Log(ctx, audit.Entry{
			Actor:        decidedBy,
			Action:       "formula.decide",
			ResourceType: "formula",
			ResourceID:   formulaID,
			FormulaID:    formulaID,
			Metadata:     metadata,
		})
	}
	return nil
}

func (w *Workflow) validate(sub *submission.Submission) bool {
	valid := true
	sub.Results = sub.Results[:0]
	for _, f := range sub.Formulas {
		result := submission.ValidationResult{Valid: true}
		if f != nil {
			result.FormulaID = f.FormulaID
		}
		if issues := w.validator.Validate(f); len(issues) > 0 {
			result.Valid = false
			result.Errors = issues
			valid = false
			for _, issue := range issues {
				metrics.IncValidationFailure(issue.Code)
			}
		}
		sub.Results = append(sub.Results, result)
	}
	return valid
}

func (w *Workflow) registerAll(ctx context.Context, sub *submission.Submission) (map[string]int, error) {
	versions := make(map[string]int, len(sub.Formulas))
	for _, f := range sub.Formulas {
		version, err := w.registerOne(ctx, sub, f)
		if err != nil {
			metrics.IncRegistration(metrics.ResultError)
			return versions, fmt.Errorf("register %s: %w", f.FormulaID, err)
		}
		metrics.IncRegistration(metrics.ResultSuccess)
		versions[f.FormulaID] = version
	}
	return versions, nil
}

func (w *Workflow) registerOne(ctx context.Context, sub *submission.Submission, f *formula.Formula) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= w.casRetries; attempt++ {
		expected := 0
		head, err := w.registry.Get(ctx, f.FormulaID, 0)
		switch {
		case err == nil:
			if head.Status == registry.StatusRetired {
				return 0, registry.ErrRetired
			}
			expected = head.Version
		case errors.Is(err, registry.ErrNotFound):
			expected = 0
		default:
			return 0, err
		}

		record := &registry.Record{
			Formula:    f,
			SenderID:   sub.Sender.PartyID,
			SenderRole: sub.Sender.Role,
			MessageID:  sub.MessageID,
		}
		version, err := w.registry.Register(ctx, record, expected)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, registry.ErrConflict) {
			return 0, err
		}
		metrics.IncConflict()
		lastErr = err
	}
	return 0, lastErr
}

func (w *Workflow) publishRegistered(ctx context.Context, sub *submission.Submission) {
	if w.publisher == nil {
		return
	}
	for _, f := range sub.Formulas {
		event := FormulaRegistered{
			FormulaID:  f.FormulaID,
			Version:    sub.RegisteredVersions[f.FormulaID],
			Category:   string(f.Category),
			SenderID:   sub.Sender.PartyID,
			SenderRole: sub.Sender.Role,
			MessageID:  sub.MessageID,
			OccurredAt: time.Now().UTC(),
		}
		if err := w.publisher.Publish(ctx, event); err != nil {
			w.logger.Printf("publish registration of %s: %v", f.FormulaID, err)
		}
	}
}

// dispatchNotifications starts the background fan-out for an accepted
// submission. The sender's acknowledgement never waits on delivery.
func (w *Workflow) dispatchNotifications(sub *submission.Submission) {
	if w.notifier == nil {
		return
	}
	snapshot, err := sub.Clone()
	if err != nil {
		w.logger.Printf("snapshot submission %s for notification: %v", sub.MessageID, err)
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx := context.Background()
		failures := w.notifyRecipients(ctx, snapshot)
		if len(failures) == 0 {
			return
		}
		stored, err := w.submissions.Get(ctx, snapshot.MessageID)
		if err != nil {
			w.logger.Printf("record notification failures for %s: %v", snapshot.MessageID, err)
			return
		}
		stored.NotificationFailures = append(stored.NotificationFailures, failures...)
		if err := w.submissions.Save(ctx, stored); err != nil {
			w.logger.Printf("record notification failures for %s: %v", snapshot.MessageID, err)
		}
	}()
}

func (w *Workflow) notifyRecipients(ctx context.Context, sub *submission.Submission) []string {
	var failures []string
	for _, f := range sub.Formulas {
		notice := notify.Notice{
			MessageID:    sub.MessageID,
			FormulaID:    f.FormulaID,
			Version:      sub.RegisteredVersions[f.FormulaID],
			Category:     string(f.Category),
			SenderID:     sub.Sender.PartyID,
			SenderRole:   sub.Sender.Role,
			RegisteredAt: time.Now().UTC(),
		}
		for _, recipient := range w.router.Recipients(f, sub.Sender.PartyID) {
			if err := w.notifier.Notify(ctx, recipient, notice); err != nil {
				metrics.IncNotification(metrics.ResultError)
				w.logger.Printf("notify %s about %s: %v", recipient.PartyID, f.FormulaID, err)
				failures = append(failures, fmt.Sprintf("%s/%s: %v", f.FormulaID, recipient.PartyID, err))
				continue
			}
			metrics.IncNotification(metrics.ResultSuccess)
		}
	}
	return failures
}

func (w *Workflow) recordAudit(ctx context.Context, sub *submission.Submission) {
	if w.auditLog == nil {
		return
	}
	metadata, _ := json.Marshal(sub.RegisteredVersions)
	_ = w.auditLog.Log(ctx, audit.Entry{
		PartyID:      sub.Sender.PartyID,
		Actor:        sub.Sender.PartyID,
		Role:         sub.Sender.Role,
		Action:       "formula.submit",
		ResourceType: "submission",
		ResourceID:   sub.MessageID,
		Metadata:     metadata,
	})
}
