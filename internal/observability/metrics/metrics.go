package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "registry_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	submissionRequests *prometheus.CounterVec
	submissionLatency  *prometheus.HistogramVec

	validationFailures *prometheus.CounterVec

	registrationsTotal *prometheus.CounterVec
	registryConflicts  prometheus.Counter

	notificationsTotal *prometheus.CounterVec

	calculationsTotal  *prometheus.CounterVec
	calculationLatency *prometheus.HistogramVec

	exportsTotal  *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		submissionRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "submission_requests_total",
				Help: "Total formula submissions by outcome",
			},
			[]string{"status"},
		)
		submissionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "submission_latency_seconds",
				Help:    "Submission processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		)

		validationFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "validation_failures_total",
				Help: "Total validation failures by code",
			},
			[]string{"code"},
		)

		registrationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "formula_registrations_total",
				Help: "Total formula version registrations by result",
			},
			[]string{"result"},
		)
		registryConflicts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "version_conflicts_total",
				Help: "Total compare-and-swap conflicts on registration",
			},
		)

		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total recipient notifications by result",
			},
			[]string{"result"},
		)

		calculationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "calculations_total",
				Help: "Total formula calculations by result",
			},
			[]string{"result"},
		)
		calculationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "calculation_latency_seconds",
				Help:    "Calculation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		exportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exports_total",
				Help: "Total export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			submissionRequests,
			submissionLatency,
			validationFailures,
			registrationsTotal,
			registryConflicts,
			notificationsTotal,
			calculationsTotal,
			calculationLatency,
			exportsTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveSubmission records submission latency and outcome.
func ObserveSubmission(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	if submissionRequests != nil {
		submissionRequests.WithLabelValues(status).Inc()
	}
	if submissionLatency != nil {
		submissionLatency.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// IncValidationFailure increments the failure counter for one code.
func IncValidationFailure(code string) {
	if code == "" {
		code = "unknown"
	}
	if validationFailures != nil {
		validationFailures.WithLabelValues(code).Inc()
	}
}

// IncRegistration increments the registration counter.
func IncRegistration(result string) {
	if result == "" {
		result = resultSuccess
	}
	if registrationsTotal != nil {
		registrationsTotal.WithLabelValues(result).Inc()
	}
}

// IncConflict increments the CAS conflict counter.
func IncConflict() {
	if registryConflicts != nil {
		registryConflicts.Inc()
	}
}

// IncNotification increments the notification counter.
func IncNotification(result string) {
	if result == "" {
		result = resultSuccess
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveCalculation records calculation latency and result.
func ObserveCalculation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if calculationsTotal != nil {
		calculationsTotal.WithLabelValues(result).Inc()
	}
	if calculationLatency != nil {
		calculationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportsTotal != nil {
		exportsTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
