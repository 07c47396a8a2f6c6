package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	evaluation "mabis-registry/internal/evaluation/domain"
	"mabis-registry/internal/observability/metrics"
	registry "mabis-registry/internal/registry/domain"
	timeseries "mabis-registry/internal/timeseries/domain"
)

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Request asks for one formula evaluation over a period. Bindings maps
// formula input names to stored time series ids; an input without a
// binding resolves to the series with the same id as the input name.
type Request struct {
	FormulaID   string            `json:"formulaId"`
	Version     int               `json:"version,omitempty"`
	Period      timeseries.Period `json:"period"`
	Bindings    map[string]string `json:"bindings,omitempty"`
	RequestedBy string            `json:"-"`
}

// ErrFormulaRetired is returned when a calculation targets a retired formula.
var ErrFormulaRetired = errors.New("calculation: formula retired")

// ErrCalculationDone is returned when cancelling a finished calculation.
var ErrCalculationDone = errors.New("calculation: already finished")

// Service runs formula calculations asynchronously. Each job gets its own
// cancellable context; DELETE on a running calculation cancels it and the
// job finishes FAILED with error code CANCELLED.
type Service struct {
	registry  registry.Repository
	series    timeseries.Repository
	calcs     evaluation.CalculationRepository
	evaluator *evaluation.Evaluator
	publisher Publisher
	logger    *log.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithPublisher wires domain event publishing.
func WithPublisher(publisher Publisher) ServiceOption {
	return func(s *Service) { s.publisher = publisher }
}

// NewService constructs a calculation service.
func NewService(
	registryRepo registry.Repository,
	seriesRepo timeseries.Repository,
	calcRepo evaluation.CalculationRepository,
	evaluator *evaluation.Evaluator,
	logger *log.Logger,
	opts ...ServiceOption,
) (*Service, error) {
	if registryRepo == nil {
		return nil, errors.New("calculation service: nil registry")
	}
	if seriesRepo == nil {
		return nil, errors.New("calculation service: nil series repository")
	}
	if calcRepo == nil {
		return nil, errors.New("calculation service: nil calculation repository")
	}
	if evaluator == nil {
		return nil, errors.New("calculation service: nil evaluator")
	}
	if logger == nil {
		return nil, errors.New("calculation service: nil logger")
	}
	service := &Service{
		registry:  registryRepo,
		series:    seriesRepo,
		calcs:     calcRepo,
		evaluator: evaluator,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Start accepts a calculation request and schedules it. The returned
// calculation is in PENDING state; progress is observable via Get.
func (s *Service) Start(ctx context.Context, req Request) (*evaluation.Calculation, error) {
	record, err := s.registry.Get(ctx, req.FormulaID, req.Version)
	if err != nil {
		return nil, err
	}
	if record.Status == registry.StatusRetired {
		return nil, ErrFormulaRetired
	}

	calc := &evaluation.Calculation{
		CalculationID:  "calc-" + uuid.NewString(),
		FormulaID:      record.Formula.FormulaID,
		FormulaVersion: record.Version,
		Period:         req.Period,
		Bindings:       req.Bindings,
		Status:         evaluation.CalculationPending,
		RequestedBy:    req.RequestedBy,
		RequestedAt:    time.Now().UTC(),
	}
	if err := s.calcs.Save(ctx, calc); err != nil {
		return nil, err
	}

	accepted, err := calc.Clone()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[calc.CalculationID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, calc, record)

	return accepted, nil
}

// Get loads one calculation.
func (s *Service) Get(ctx context.Context, calculationID string) (*evaluation.Calculation, error) {
	return s.calcs.Get(ctx, calculationID)
}

// List returns calculations in arrival order.
func (s *Service) List(ctx context.Context, limit int) ([]*evaluation.Calculation, error) {
	return s.calcs.List(ctx, limit)
}

// Cancel aborts a running calculation.
func (s *Service) Cancel(ctx context.Context, calculationID string) error {
	calc, err := s.calcs.Get(ctx, calculationID)
	if err != nil {
		return err
	}
	if calc.Terminal() {
		return ErrCalculationDone
	}
	s.mu.Lock()
	cancel, ok := s.cancels[calculationID]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	calc.Status = evaluation.CalculationFailed
	calc.ErrorCode = string(evaluation.CodeCancelled)
	calc.ErrorMessage = "cancelled before processing started"
	calc.CompletedAt = time.Now().UTC()
	return s.calcs.Save(ctx, calc)
}

// Wait blocks until all in-flight calculations finish. Used on shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, calc *evaluation.Calculation, record *registry.Record) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, calc.CalculationID)
		s.mu.Unlock()
	}()
	started := time.Now()

	calc.Status = evaluation.CalculationProcessing
	calc.StartedAt = time.Now().UTC()
	if err := s.calcs.Save(ctx, calc); err != nil {
		s.logger.Printf("calculation %s: save: %v", calc.CalculationID, err)
	}

	bindings, bindErr := s.resolveBindings(ctx, calc, record)
	if bindErr != nil {
		s.finishFailed(ctx, calc, bindErr, started)
		return
	}

	value, evalErr := s.evaluator.Evaluate(ctx, record.Formula.Expression, bindings, calc.Period)
	if evalErr != nil {
		s.finishFailed(ctx, calc, evalErr, started)
		return
	}

	if value.IsScalar() {
		calc.ResultValue = value.Scalar().String()
	} else {
		out := &timeseries.TimeSeries{
			TimeSeriesID: calc.CalculationID + "-result",
			Unit:         record.Formula.OutputUnit,
			Resolution:   value.Resolution(),
			Period:       value.Period(),
			Intervals:    value.Intervals(),
			Metadata: map[string]any{
				"formulaId":      calc.FormulaID,
				"formulaVersion": calc.FormulaVersion,
				"calculationId":  calc.CalculationID,
				"calculatedAt":   time.Now().UTC().Format(time.RFC3339),
			},
		}
		if record.Formula.OutputOBISCode != "" {
			out.Metadata["obisCode"] = record.Formula.OutputOBISCode
		}
		if err := s.series.Save(ctx, out); err != nil {
			s.finishFailed(ctx, calc, &evaluation.EvalError{Code: evaluation.CodeUnboundReference, Message: err.Error()}, started)
			return
		}
		calc.ResultSeriesID = out.TimeSeriesID
	}

	calc.Status = evaluation.CalculationCompleted
	calc.CompletedAt = time.Now().UTC()
	if err := s.calcs.Save(context.Background(), calc); err != nil {
		s.logger.Printf("calculation %s: save result: %v", calc.CalculationID, err)
	}
	s.publishCompleted(calc)
	metrics.ObserveCalculation(metrics.ResultSuccess, time.Since(started))
	s.logger.Printf("calculation %s completed for formula %s v%d", calc.CalculationID, calc.FormulaID, calc.FormulaVersion)
}

func (s *Service) resolveBindings(ctx context.Context, calc *evaluation.Calculation, record *registry.Record) (evaluation.Bindings, *evaluation.EvalError) {
	series := make(map[string]*timeseries.TimeSeries, len(record.Formula.InputTimeSeries))
	for _, name := range record.Formula.InputTimeSeries {
		seriesID := name
		if bound, ok := calc.Bindings[name]; ok && bound != "" {
			seriesID = bound
		}
		ts, err := s.series.Get(ctx, seriesID)
		if err != nil {
			return evaluation.Bindings{}, &evaluation.EvalError{
				Code:    evaluation.CodeUnboundReference,
				Message: "input " + name + ": " + err.Error(),
			}
		}
		series[name] = ts
	}
	return evaluation.Bindings{Series: series}, nil
}

func (s *Service) finishFailed(ctx context.Context, calc *evaluation.Calculation, evalErr *evaluation.EvalError, started time.Time) {
	_ = ctx
	calc.Status = evaluation.CalculationFailed
	calc.ErrorCode = string(evalErr.Code)
	calc.ErrorMessage = evalErr.Message
	calc.CompletedAt = time.Now().UTC()
	if err := s.calcs.Save(context.Background(), calc); err != nil {
		s.logger.Printf("calculation %s: save failure: %v", calc.CalculationID, err)
	}
	s.publishCompleted(calc)
	metrics.ObserveCalculation(metrics.ResultError, time.Since(started))
	s.logger.Printf("calculation %s %s: %s", calc.CalculationID, calc.Status, evalErr.Message)
}

func (s *Service) publishCompleted(calc *evaluation.Calculation) {
	if s.publisher == nil {
		return
	}
	event := CalculationCompleted{
		CalculationID: calc.CalculationID,
		FormulaID:     calc.FormulaID,
		Version:       calc.FormulaVersion,
		Status:        string(calc.Status),
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.publisher.Publish(context.Background(), event); err != nil {
		s.logger.Printf("publish completion of %s: %v", calc.CalculationID, err)
	}
}
