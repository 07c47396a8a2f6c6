package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	registry "mabis-registry/internal/registry/domain"
)

const (
	defaultVersionsTable = "formula_versions"
	defaultHeadsTable    = "formula_heads"

	pgUniqueViolation = "23505"
)

// FormulaRepository is a Postgres registry store. Each version is one
// append-only row; a head row tracks the latest version per formulaId.
// The primary key on (formula_id, version) arbitrates concurrent
// registrations, so version assignment is linearizable.
type FormulaRepository struct {
	db            *sql.DB
	versionsTable string
	headsTable    string
}

// Option configures the repository.
type Option func(*FormulaRepository)

// WithTables overrides the default table names.
func WithTables(versions, heads string) Option {
	return func(repo *FormulaRepository) {
		if versions != "" {
			repo.versionsTable = versions
		}
		if heads != "" {
			repo.headsTable = heads
		}
	}
}

// NewFormulaRepository constructs a repository.
func NewFormulaRepository(db *sql.DB, opts ...Option) *FormulaRepository {
	repo := &FormulaRepository{db: db, versionsTable: defaultVersionsTable, headsTable: defaultHeadsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Register appends a version when expectedVersion matches the head.
func (r *FormulaRepository) Register(ctx context.Context, record *registry.Record, expectedVersion int) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("formula repo: nil db")
	}
	if record == nil || record.Formula == nil {
		return 0, registry.ErrNilRecord
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	id := record.Formula.FormulaID
	current := 0
	var status string
	headQuery := fmt.Sprintf(`SELECT version, status FROM %s WHERE formula_id = $1 FOR UPDATE`, r.headsTable)
	err = tx.QueryRowContext(ctx, headQuery, id).Scan(&current, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, err
	case status == string(registry.StatusRetired):
		return 0, registry.ErrRetired
	}
	if current != expectedVersion {
		return 0, registry.ErrConflict
	}

	version := current + 1
	stored := *record
	stored.Version = version
	stored.Status = registry.StatusActive
	if stored.Decision == "" {
		stored.Decision = registry.DecisionPending
	}
	if stored.RegisteredAt.IsZero() {
		stored.RegisteredAt = time.Now().UTC()
	}
	stored.Formula.Version = version

	payload, err := json.Marshal(&stored)
	if err != nil {
		return 0, err
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (
	formula_id,
	version,
	sender_id,
	sender_role,
	category,
	payload,
	registered_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)`, r.versionsTable)
	if _, err := tx.ExecContext(ctx, insertQuery,
		id, version, stored.SenderID, stored.SenderRole, string(stored.Formula.Category), payload, stored.RegisteredAt,
	); err != nil {
		if isUniqueViolation(err) {
			return 0, registry.ErrConflict
		}
		return 0, err
	}

	headUpsert := fmt.Sprintf(`
INSERT INTO %s (
	formula_id,
	version,
	status,
	decision,
	decided_by
) VALUES (
	$1, $2, $3, $4, ''
)
ON CONFLICT (formula_id)
DO UPDATE SET
	version = EXCLUDED.version,
	status = EXCLUDED.status,
	decision = EXCLUDED.decision,
	decided_by = EXCLUDED.decided_by,
	updated_at = NOW()`, r.headsTable)
	if _, err := tx.ExecContext(ctx, headUpsert, id, version, string(registry.StatusActive), string(registry.DecisionPending)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// Get loads one version, or the latest when version is 0.
func (r *FormulaRepository) Get(ctx context.Context, formulaID string, version int) (*registry.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("formula repo: nil db")
	}
	var query string
	var row *sql.Row
	if version == 0 {
		query = fmt.Sprintf(`
SELECT v.payload, h.status, h.decision, h.decided_by
FROM %s h
JOIN %s v ON v.formula_id = h.formula_id AND v.version = h.version
WHERE h.formula_id = $1`, r.headsTable, r.versionsTable)
		row = r.db.QueryRowContext(ctx, query, formulaID)
	} else {
		query = fmt.Sprintf(`
SELECT v.payload, h.status, h.decision, h.decided_by
FROM %s v
JOIN %s h ON h.formula_id = v.formula_id
WHERE v.formula_id = $1 AND v.version = $2`, r.versionsTable, r.headsTable)
		row = r.db.QueryRowContext(ctx, query, formulaID, version)
	}

	var payload []byte
	var status, decision, decidedBy string
	if err := row.Scan(&payload, &status, &decision, &decidedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrNotFound
		}
		return nil, err
	}
	var record registry.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	record.Status = registry.Status(status)
	record.Decision = registry.Decision(decision)
	record.DecidedBy = decidedBy
	return &record, nil
}

// List returns the latest version of each formula matching the filter.
func (r *FormulaRepository) List(ctx context.Context, filter registry.Filter) ([]*registry.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("formula repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT v.payload, h.status, h.decision, h.decided_by
FROM %s h
JOIN %s v ON v.formula_id = h.formula_id AND v.version = h.version
WHERE ($1 OR h.status <> $2)
  AND ($3 = '' OR v.category = $3)
  AND ($4 = '' OR v.sender_id = $4)
ORDER BY v.registered_at
LIMIT $5`, r.headsTable, r.versionsTable)

	rows, err := r.db.QueryContext(ctx, query,
		filter.IncludeRetired, string(registry.StatusRetired), string(filter.Category), filter.SenderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*registry.Record
	for rows.Next() {
		var payload []byte
		var status, decision, decidedBy string
		if err := rows.Scan(&payload, &status, &decision, &decidedBy); err != nil {
			return nil, err
		}
		var record registry.Record
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, err
		}
		record.Status = registry.Status(status)
		record.Decision = registry.Decision(decision)
		record.DecidedBy = decidedBy
		out = append(out, &record)
	}
	return out, rows.Err()
}

// Retire soft-deletes a formula.
func (r *FormulaRepository) Retire(ctx context.Context, formulaID string) error {
	if r == nil || r.db == nil {
		return errors.New("formula repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, updated_at = NOW()
WHERE formula_id = $1 AND status <> $2`, r.headsTable)
	result, err := r.db.ExecContext(ctx, query, formulaID, string(registry.StatusRetired))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, formulaID, 0); errors.Is(err, registry.ErrNotFound) {
			return registry.ErrNotFound
		}
		return registry.ErrRetired
	}
	return nil
}

// Decide records a recipient accept/reject on the head.
func (r *FormulaRepository) Decide(ctx context.Context, formulaID string, decision registry.Decision, decidedBy string) error {
	if r == nil || r.db == nil {
		return errors.New("formula repo: nil db")
	}
	if decision != registry.DecisionAccepted && decision != registry.DecisionRejected {
		return registry.ErrInvalidDecision
	}
	query := fmt.Sprintf(`
UPDATE %s
SET decision = $2, decided_by = $3, updated_at = NOW()
WHERE formula_id = $1 AND status <> $4`, r.headsTable)
	result, err := r.db.ExecContext(ctx, query, formulaID, string(decision), decidedBy, string(registry.StatusRetired))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, formulaID, 0); errors.Is(err, registry.ErrNotFound) {
			return registry.ErrNotFound
		}
		return registry.ErrRetired
	}
	return nil
}

// Count returns the number of registered formulas.
func (r *FormulaRepository) Count(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("formula repo: nil db")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.headsTable)
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
