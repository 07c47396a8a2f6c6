package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	evaluation "mabis-registry/internal/evaluation/domain"
)

const defaultCalculationsTable = "formula_calculations"

// CalculationRepository is a Postgres calculation store with a JSONB
// payload column.
type CalculationRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*CalculationRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(repo *CalculationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewCalculationRepository constructs a repository.
func NewCalculationRepository(db *sql.DB, opts ...Option) *CalculationRepository {
	repo := &CalculationRepository{db: db, table: defaultCalculationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Save stores or replaces the calculation.
func (r *CalculationRepository) Save(ctx context.Context, calc *evaluation.Calculation) error {
	if r == nil || r.db == nil {
		return errors.New("calculation repo: nil db")
	}
	if calc == nil {
		return evaluation.ErrNilCalculation
	}
	payload, err := json.Marshal(calc)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	calculation_id,
	formula_id,
	status,
	payload,
	requested_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (calculation_id)
DO UPDATE SET
	status = EXCLUDED.status,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`, r.table)
	_, err = r.db.ExecContext(ctx, query,
		calc.CalculationID, calc.FormulaID, string(calc.Status), payload, calc.RequestedAt, time.Now().UTC())
	return err
}

// Get loads one calculation.
func (r *CalculationRepository) Get(ctx context.Context, calculationID string) (*evaluation.Calculation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calculation repo: nil db")
	}
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE calculation_id = $1`, r.table)
	var payload []byte
	if err := r.db.QueryRowContext(ctx, query, calculationID).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, evaluation.ErrCalculationNotFound
		}
		return nil, err
	}
	var calc evaluation.Calculation
	if err := json.Unmarshal(payload, &calc); err != nil {
		return nil, err
	}
	return &calc, nil
}

// List returns calculations in arrival order.
func (r *CalculationRepository) List(ctx context.Context, limit int) ([]*evaluation.Calculation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calculation repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT payload
FROM %s
ORDER BY requested_at
LIMIT $1`, r.table)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*evaluation.Calculation
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var calc evaluation.Calculation
		if err := json.Unmarshal(payload, &calc); err != nil {
			return nil, err
		}
		out = append(out, &calc)
	}
	return out, rows.Err()
}

// Count returns the number of calculations.
func (r *CalculationRepository) Count(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("calculation repo: nil db")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
