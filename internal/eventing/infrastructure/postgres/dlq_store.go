package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mabis-registry/internal/eventing"
)

const defaultDLQTable = "registry_event_dlq"

// DLQStore is a Postgres implementation for dead letter events.
type DLQStore struct {
	db    *sql.DB
	table string
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) *DLQStore {
	store := &DLQStore{db: db, table: defaultDLQTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// DLQOption configures the DLQ store.
type DLQOption func(*DLQStore)

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(store *DLQStore) {
		if table != "" {
			store.table = table
		}
	}
}

// RecordFailure inserts or updates a DLQ record. Repeated failures of
// the same event bump the attempt counter and keep the latest stage.
func (s *DLQStore) RecordFailure(ctx context.Context, failure eventing.DeliveryFailure) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	env := failure.Envelope
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return marshalErr
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	event_id,
	event_type,
	formula_id,
	sender_id,
	stage,
	payload,
	error,
	first_seen_at,
	last_seen_at,
	attempts
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $8, 1
)
ON CONFLICT (event_id)
DO UPDATE SET
	event_type = EXCLUDED.event_type,
	formula_id = EXCLUDED.formula_id,
	sender_id = EXCLUDED.sender_id,
	stage = EXCLUDED.stage,
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %s.attempts + 1`, s.table, s.table)

	now := time.Now().UTC()
	_, execErr := s.db.ExecContext(ctx, query,
		env.EventID, env.EventType, env.FormulaID, env.SenderID,
		failure.Stage, payload, failure.Reason, now)
	return execErr
}
