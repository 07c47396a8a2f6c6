package memory

import (
	"context"
	"sync"

	"mabis-registry/internal/eventing"
)

// OutboxStore is an in-memory outbox for single-process deployments.
type OutboxStore struct {
	mu      sync.Mutex
	records []entry
}

type entry struct {
	record eventing.OutboxRecord
	status string
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{}
}

// Insert writes an envelope to the outbox.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	_ = ctx
	id := eventing.NewEventID()
	s.mu.Lock()
	s.records = append(s.records, entry{
		record: eventing.OutboxRecord{ID: id, Envelope: env},
		status: "pending",
	})
	s.mu.Unlock()
	return id, nil
}

// ListPending returns pending outbox records in insertion order.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []eventing.OutboxRecord
	for _, e := range s.records {
		if e.status != "pending" {
			continue
		}
		out = append(out, e.record)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks an outbox record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.mark(ctx, id, "sent")
}

// MarkFailed marks an outbox record as failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.mark(ctx, id, "failed")
}

func (s *OutboxStore) mark(ctx context.Context, id, status string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].record.ID == id {
			s.records[i].status = status
			return nil
		}
	}
	return nil
}
