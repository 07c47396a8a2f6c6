package memory

import (
	"context"
	"sync"

	timeseries "mabis-registry/internal/timeseries/domain"
)

// TimeSeriesRepository is an in-memory repository for time series.
type TimeSeriesRepository struct {
	mu    sync.RWMutex
	data  map[string]*timeseries.TimeSeries
	order []string
}

// NewTimeSeriesRepository constructs a repository.
func NewTimeSeriesRepository() *TimeSeriesRepository {
	return &TimeSeriesRepository{data: make(map[string]*timeseries.TimeSeries)}
}

// Save stores a series, overwriting any prior submission with the same id.
func (r *TimeSeriesRepository) Save(ctx context.Context, series *timeseries.TimeSeries) error {
	_ = ctx
	if series == nil {
		return timeseries.ErrNilSeries
	}
	if series.TimeSeriesID == "" {
		return timeseries.ErrEmptySeriesID
	}
	copy := series.Clone()
	r.mu.Lock()
	if _, exists := r.data[copy.TimeSeriesID]; !exists {
		r.order = append(r.order, copy.TimeSeriesID)
	}
	r.data[copy.TimeSeriesID] = copy
	r.mu.Unlock()
	return nil
}

// Get loads a series by id.
func (r *TimeSeriesRepository) Get(ctx context.Context, id string) (*timeseries.TimeSeries, error) {
	_ = ctx
	r.mu.RLock()
	series := r.data[id]
	r.mu.RUnlock()
	if series == nil {
		return nil, timeseries.ErrNotFound
	}
	return series.Clone(), nil
}

// List returns series matching the filter in insertion order.
func (r *TimeSeriesRepository) List(ctx context.Context, filter timeseries.Filter) ([]*timeseries.TimeSeries, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*timeseries.TimeSeries, 0, len(r.order))
	for _, id := range r.order {
		series := r.data[id]
		if series == nil {
			continue
		}
		if filter.MarketLocationID != "" && series.MarketLocationID != filter.MarketLocationID {
			continue
		}
		out = append(out, series.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of stored series.
func (r *TimeSeriesRepository) Count(ctx context.Context) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data), nil
}
