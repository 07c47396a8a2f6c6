package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	timeseries "mabis-registry/internal/timeseries/domain"
)

const defaultTimeSeriesTable = "time_series"

// TimeSeriesRepository is a Postgres implementation for time series. The
// interval payload is stored as JSONB; quantities stay decimal strings.
type TimeSeriesRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*TimeSeriesRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(repo *TimeSeriesRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewTimeSeriesRepository constructs a repository.
func NewTimeSeriesRepository(db *sql.DB, opts ...Option) *TimeSeriesRepository {
	repo := &TimeSeriesRepository{db: db, table: defaultTimeSeriesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Save upserts a series.
func (r *TimeSeriesRepository) Save(ctx context.Context, series *timeseries.TimeSeries) error {
	if r == nil || r.db == nil {
		return errors.New("timeseries repo: nil db")
	}
	if series == nil {
		return timeseries.ErrNilSeries
	}
	payload, err := json.Marshal(series)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	market_location_id,
	unit,
	resolution,
	period_start,
	period_end,
	payload
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (id)
DO UPDATE SET
	market_location_id = EXCLUDED.market_location_id,
	unit = EXCLUDED.unit,
	resolution = EXCLUDED.resolution,
	period_start = EXCLUDED.period_start,
	period_end = EXCLUDED.period_end,
	payload = EXCLUDED.payload,
	updated_at = NOW()`, r.table)

	_, err = r.db.ExecContext(
		ctx,
		query,
		series.TimeSeriesID,
		series.MarketLocationID,
		series.Unit,
		series.Resolution,
		series.Period.Start,
		series.Period.End,
		payload,
	)
	return err
}

// Get loads a series by id.
func (r *TimeSeriesRepository) Get(ctx context.Context, id string) (*timeseries.TimeSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("timeseries repo: nil db")
	}
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1 LIMIT 1`, r.table)
	var payload []byte
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, timeseries.ErrNotFound
		}
		return nil, err
	}
	var series timeseries.TimeSeries
	if err := json.Unmarshal(payload, &series); err != nil {
		return nil, err
	}
	return &series, nil
}

// List returns series matching the filter, newest first.
func (r *TimeSeriesRepository) List(ctx context.Context, filter timeseries.Filter) ([]*timeseries.TimeSeries, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("timeseries repo: nil db")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT payload
FROM %s
WHERE ($1 = '' OR market_location_id = $1)
ORDER BY created_at DESC
LIMIT $2`, r.table)

	rows, err := r.db.QueryContext(ctx, query, filter.MarketLocationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*timeseries.TimeSeries
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var series timeseries.TimeSeries
		if err := json.Unmarshal(payload, &series); err != nil {
			return nil, err
		}
		out = append(out, &series)
	}
	return out, rows.Err()
}

// Count returns the number of stored series.
func (r *TimeSeriesRepository) Count(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("timeseries repo: nil db")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
