package eventing

import (
	"context"
)

// Stages at which an event delivery can dead-letter.
const (
	FailureStageDecode  = "decode"
	FailureStagePublish = "publish"
)

// DeliveryFailure is one undeliverable event handed to the DLQ. The
// envelope keeps the formula and sender provenance for inspection.
type DeliveryFailure struct {
	Envelope Envelope
	Stage    string
	Reason   string
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore keeps undeliverable formula events.
type DLQStore interface {
	RecordFailure(ctx context.Context, failure DeliveryFailure) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// Dispatcher drains the outbox onto the in-process bus. An envelope
// that cannot be decoded against the event catalog, or whose delivery a
// subscriber rejects, is marked failed and dead-lettered with the stage
// that broke it.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
}

// NewDispatcher constructs a dispatcher. dlq may be nil; failures are
// then only marked on the outbox.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore) *Dispatcher {
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq}
}

// Dispatch pulls pending outbox messages and delivers them.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return err
	}

	for _, record := range records {
		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		if err != nil {
			d.deadLetter(ctx, record, FailureStageDecode, err)
			continue
		}

		if err := d.bus.Publish(WithEnvelope(ctx, env), payload); err != nil {
			d.deadLetter(ctx, record, FailureStagePublish, err)
			continue
		}

		_ = d.outbox.MarkSent(ctx, record.ID)
	}
	return nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, record OutboxRecord, stage string, err error) {
	_ = d.outbox.MarkFailed(ctx, record.ID)
	if d.dlq == nil {
		return
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	_ = d.dlq.RecordFailure(ctx, DeliveryFailure{
		Envelope: record.Envelope,
		Stage:    stage,
		Reason:   reason,
	})
}
