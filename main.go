package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	apihttp "mabis-registry/internal/api/http"
	"mabis-registry/internal/audit"
	"mabis-registry/internal/auth"
	evalapp "mabis-registry/internal/evaluation/application"
	evaluation "mabis-registry/internal/evaluation/domain"
	evalmem "mabis-registry/internal/evaluation/infrastructure/memory"
	evalrepo "mabis-registry/internal/evaluation/infrastructure/postgres"
	evalhttp "mabis-registry/internal/evaluation/interfaces/http"
	"mabis-registry/internal/eventing"
	eventingmem "mabis-registry/internal/eventing/infrastructure/memory"
	eventingrepo "mabis-registry/internal/eventing/infrastructure/postgres"
	formula "mabis-registry/internal/formula/domain"
	"mabis-registry/internal/notify"
	"mabis-registry/internal/observability/metrics"
	registry "mabis-registry/internal/registry/domain"
	registrymem "mabis-registry/internal/registry/infrastructure/memory"
	registryrepo "mabis-registry/internal/registry/infrastructure/postgres"
	registryhttp "mabis-registry/internal/registry/interfaces/http"
	subapp "mabis-registry/internal/submission/application"
	submission "mabis-registry/internal/submission/domain"
	submissionmem "mabis-registry/internal/submission/infrastructure/memory"
	submissionrepo "mabis-registry/internal/submission/infrastructure/postgres"
	timeseries "mabis-registry/internal/timeseries/domain"
	seriesmem "mabis-registry/internal/timeseries/infrastructure/memory"
	seriesrepo "mabis-registry/internal/timeseries/infrastructure/postgres"
	serieshttp "mabis-registry/internal/timeseries/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	appCfg, err := subapp.LoadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	var (
		db             *sql.DB
		registryRepo   registry.Repository
		submissionRepo submission.Repository
		seriesRepo     timeseries.Repository
		calcRepo       evaluation.CalculationRepository
		outboxStore    eventing.OutboxStore
		outboxWriter   eventing.OutboxWriter
		processedStore eventing.ProcessedStore
		dlqStore       eventing.DLQStore
		auditLogger    audit.Logger
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		registryRepo = registryrepo.NewFormulaRepository(db)
		submissionRepo = submissionrepo.NewSubmissionRepository(db)
		seriesRepo = seriesrepo.NewTimeSeriesRepository(db)
		calcRepo = evalrepo.NewCalculationRepository(db)
		pgOutbox := eventingrepo.NewOutboxStore(db)
		outboxStore = pgOutbox
		outboxWriter = pgOutbox
		processedStore = eventingrepo.NewProcessedStore(db)
		dlqStore = eventingrepo.NewDLQStore(db)
		auditLogger = audit.NewRepository(db)
	} else {
		logger.Printf("no DATABASE_URL configured, using in-memory stores")
		registryRepo = registrymem.NewFormulaRepository()
		submissionRepo = submissionmem.NewSubmissionRepository()
		seriesRepo = seriesmem.NewTimeSeriesRepository()
		calcRepo = evalmem.NewCalculationRepository()
		memOutbox := eventingmem.NewOutboxStore()
		outboxStore = memOutbox
		outboxWriter = memOutbox
		processedStore = eventingmem.NewProcessedStore()
	}
	metrics.Init(db, logger)

	bus := eventing.NewInMemoryBus()
	eventRegistry := eventing.NewRegistry()
	eventRegistry.Register(subapp.FormulaRegistered{}, subapp.FormulaRetired{}, evalapp.CalculationCompleted{})
	dispatcher := eventing.NewDispatcher(bus, outboxStore, eventRegistry, dlqStore)
	publisher := eventing.NewPublisher(outboxWriter, dispatcher, cfg.ServiceID, bus)

	eventing.Subscribe(bus, eventing.EventTypeOf[subapp.FormulaRegistered](), "registry.log", func(ctx context.Context, event any) error {
		evt, ok := event.(subapp.FormulaRegistered)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		logger.Printf("formula registered: id=%s version=%d sender=%s", evt.FormulaID, evt.Version, evt.SenderID)
		return nil
	}, processedStore)
	eventing.Subscribe(bus, eventing.EventTypeOf[evalapp.CalculationCompleted](), "calculations.log", func(ctx context.Context, event any) error {
		evt, ok := event.(evalapp.CalculationCompleted)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		logger.Printf("calculation %s finished: formula=%s v%d status=%s", evt.CalculationID, evt.FormulaID, evt.Version, evt.Status)
		return nil
	}, processedStore)

	notifier, err := notify.NewNotifier(notify.NewWebhookChannel(), logger,
		notify.WithMaxAttempts(appCfg.Notify.MaxAttempts),
		notify.WithInitialInterval(appCfg.Notify.InitialInterval),
		notify.WithMaxInterval(appCfg.Notify.MaxInterval),
	)
	if err != nil {
		logger.Fatalf("notifier error: %v", err)
	}

	router, err := subapp.NewRouter(appCfg)
	if err != nil {
		logger.Fatalf("router error: %v", err)
	}
	workflowOpts := []subapp.WorkflowOption{
		subapp.WithNotifier(notifier),
		subapp.WithPublisher(publisher),
	}
	if auditLogger != nil {
		workflowOpts = append(workflowOpts, subapp.WithAuditLogger(auditLogger))
	}
	workflow, err := subapp.NewWorkflow(formula.NewValidator(), registryRepo, submissionRepo, router, logger, workflowOpts...)
	if err != nil {
		logger.Fatalf("workflow error: %v", err)
	}
	defer workflow.Wait()

	tables, err := appCfg.Tables()
	if err != nil {
		logger.Fatalf("conversion tables error: %v", err)
	}
	evaluator := evaluation.NewEvaluator(evaluation.WithTables(tables))
	calcService, err := evalapp.NewService(registryRepo, seriesRepo, calcRepo, evaluator, logger, evalapp.WithPublisher(publisher))
	if err != nil {
		logger.Fatalf("calculation service error: %v", err)
	}
	defer calcService.Wait()

	registryHandler, err := registryhttp.NewHandler(workflow, registryRepo)
	if err != nil {
		logger.Fatalf("registry handler error: %v", err)
	}
	seriesHandler, err := serieshttp.NewHandler(seriesRepo)
	if err != nil {
		logger.Fatalf("timeseries handler error: %v", err)
	}
	calcHandler, err := evalhttp.NewHandler(calcService, seriesRepo)
	if err != nil {
		logger.Fatalf("calculation handler error: %v", err)
	}

	healthHandler := apihttp.NewHealthHandler(cfg.BuildVersion, map[string]func(*http.Request) (int, error){
		"formulas":     func(r *http.Request) (int, error) { return registryRepo.Count(r.Context()) },
		"submissions":  func(r *http.Request) (int, error) { return submissionRepo.Count(r.Context()) },
		"timeseries":   func(r *http.Request) (int, error) { return seriesRepo.Count(r.Context()) },
		"calculations": func(r *http.Request) (int, error) { return calcRepo.Count(r.Context()) },
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/health"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/v1/formulas", registryHandler)
	mux.Handle("/v1/formulas/", registryHandler)
	mux.Handle("/v1/submissions/", registryHandler)
	mux.Handle("/v1/time-series", seriesHandler)
	mux.Handle("/v1/time-series/", seriesHandler)
	mux.Handle("/v1/calculations", calcHandler)
	mux.Handle("/v1/calculations/", calcHandler)
	mux.Handle("/v1/exports/formulas.csv", apihttp.NewExportFormulasCSVHandler(registryRepo))
	mux.Handle("/v1/exports/formulas.xlsx", apihttp.NewExportFormulasXLSXHandler(registryRepo))
	mux.Handle("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL  string
	HTTPAddr     string
	ServiceID    string
	BuildVersion string
	JWTSecret    string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:  getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:     getenvDefault("HTTP_ADDR", ":8080"),
		ServiceID:    getenvDefault("SERVICE_ID", "formula-registry"),
		BuildVersion: getenvDefault("BUILD_VERSION", "dev"),
		JWTSecret:    getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
