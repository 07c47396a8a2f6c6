package eventing

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testRegistered struct {
	FormulaID  string    `json:"formula_id"`
	Version    int       `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
}

type recordingOutbox struct {
	records []OutboxRecord
	sent    []string
	failed  []string
}

func (s *recordingOutbox) Insert(_ context.Context, env Envelope) (string, error) {
	id := env.EventID
	s.records = append(s.records, OutboxRecord{ID: id, Envelope: env})
	return id, nil
}

func (s *recordingOutbox) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	pending := make([]OutboxRecord, 0, len(s.records))
	for _, record := range s.records {
		if contains(s.sent, record.ID) || contains(s.failed, record.ID) {
			continue
		}
		pending = append(pending, record)
		if len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (s *recordingOutbox) MarkSent(_ context.Context, id string) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *recordingOutbox) MarkFailed(_ context.Context, id string) error {
	s.failed = append(s.failed, id)
	return nil
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

type memoryProcessed struct {
	seen map[string]struct{}
}

func (s *memoryProcessed) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	_, ok := s.seen[eventID+"|"+consumerName]
	return ok, nil
}

func (s *memoryProcessed) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	s.seen[eventID+"|"+consumerName] = struct{}{}
	return nil
}

func TestPublisherDeliversThroughOutbox(t *testing.T) {
	bus := NewInMemoryBus()
	registry := NewRegistry()
	registry.Register(testRegistered{})
	outbox := &recordingOutbox{}
	dispatcher := NewDispatcher(bus, outbox, registry, nil)
	publisher := NewPublisher(outbox, dispatcher, "formula-registry", bus)

	var received []testRegistered
	bus.Subscribe(EventTypeOf[testRegistered](), func(ctx context.Context, event any) error {
		evt, ok := event.(testRegistered)
		if !ok {
			return ErrInvalidEventType
		}
		received = append(received, evt)
		return nil
	})

	event := testRegistered{FormulaID: "F-1", Version: 1, OccurredAt: time.Now().UTC()}
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(received) != 1 || received[0].FormulaID != "F-1" {
		t.Fatalf("received = %+v", received)
	}
	if len(outbox.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(outbox.sent))
	}
}

func TestDispatchRoutesUnknownEventToFailed(t *testing.T) {
	bus := NewInMemoryBus()
	registry := NewRegistry()
	outbox := &recordingOutbox{}
	dispatcher := NewDispatcher(bus, outbox, registry, nil)
	publisher := NewPublisher(outbox, dispatcher, "formula-registry", bus)

	if err := publisher.Publish(context.Background(), testRegistered{FormulaID: "F-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(outbox.failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(outbox.failed))
	}
}

type recordingDLQ struct {
	failures []DeliveryFailure
}

func (s *recordingDLQ) RecordFailure(_ context.Context, failure DeliveryFailure) error {
	s.failures = append(s.failures, failure)
	return nil
}

func TestDispatchDeadLettersUnknownEventWithProvenance(t *testing.T) {
	bus := NewInMemoryBus()
	registry := NewRegistry()
	outbox := &recordingOutbox{}
	dlq := &recordingDLQ{}
	dispatcher := NewDispatcher(bus, outbox, registry, dlq)

	env := Envelope{
		EventID:   "evt-9",
		EventType: "eventing.unmapped",
		SenderID:  "formula-registry",
		FormulaID: "F-42",
	}
	if _, err := outbox.Insert(context.Background(), env); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := dispatcher.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(outbox.failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(outbox.failed))
	}
	if len(dlq.failures) != 1 {
		t.Fatalf("dlq failures = %d, want 1", len(dlq.failures))
	}
	failure := dlq.failures[0]
	if failure.Stage != FailureStageDecode {
		t.Fatalf("stage = %q, want %q", failure.Stage, FailureStageDecode)
	}
	if failure.Envelope.FormulaID != "F-42" || failure.Envelope.EventID != "evt-9" {
		t.Fatalf("envelope = %+v", failure.Envelope)
	}
	if failure.Reason == "" {
		t.Fatal("reason is empty")
	}
}

func TestRegistryRejectsUnknownEventType(t *testing.T) {
	registry := NewRegistry()
	registry.Register(testRegistered{})

	if _, err := registry.DecodePayload(Envelope{EventType: "nope"}); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("err = %v, want ErrUnknownEventType", err)
	}
	types := registry.Types()
	if len(types) != 1 || types[0] != EventTypeOf[testRegistered]() {
		t.Fatalf("types = %v", types)
	}
}

func TestWrapHandlerSkipsProcessedEvents(t *testing.T) {
	store := &memoryProcessed{}
	calls := 0
	handler := WrapHandler("consumer", func(ctx context.Context, event any) error {
		calls++
		return nil
	}, store)

	env := Envelope{EventID: "evt-1", EventType: "test"}
	ctx := WithEnvelope(context.Background(), env)
	for i := 0; i < 2; i++ {
		if err := handler(ctx, testRegistered{}); err != nil {
			t.Fatalf("handler: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestPublishReturnsSubscriberError(t *testing.T) {
	bus := NewInMemoryBus()
	wantErr := errors.New("boom")
	bus.Subscribe(EventTypeOf[testRegistered](), func(ctx context.Context, event any) error {
		return wantErr
	})
	if err := bus.Publish(context.Background(), testRegistered{}); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want boom", err)
	}
}
