package apihttp

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"mabis-registry/internal/observability/metrics"
	registry "mabis-registry/internal/registry/domain"
)

const timeLayout = time.RFC3339

// ExportFormulasCSVHandler serves the registry as CSV, one row per
// formula head.
type ExportFormulasCSVHandler struct {
	repo registry.Repository
}

// NewExportFormulasCSVHandler constructs a ExportFormulasCSVHandler.
func NewExportFormulasCSVHandler(repo registry.Repository) *ExportFormulasCSVHandler {
	return &ExportFormulasCSVHandler{repo: repo}
}

// ServeHTTP handles GET /v1/exports/formulas.csv.
func (h *ExportFormulasCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	started := time.Now()

	records, err := h.repo.List(r.Context(), exportFilter(r))
	if err != nil {
		metrics.ObserveExport("csv", metrics.ResultError, time.Since(started))
		http.Error(w, "query formulas error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"formula_id",
		"version",
		"name",
		"category",
		"status",
		"decision",
		"sender_id",
		"sender_role",
		"output_unit",
		"output_resolution",
		"registered_at",
	})
	for _, record := range records {
		if record.Formula == nil {
			continue
		}
		_ = writer.Write([]string{
			record.Formula.FormulaID,
			strconv.Itoa(record.Version),
			record.Formula.Name,
			string(record.Formula.Category),
			string(record.Status),
			string(record.Decision),
			record.SenderID,
			record.SenderRole,
			record.Formula.OutputUnit,
			record.Formula.OutputResolution,
			formatTime(record.RegisteredAt),
		})
	}
	writer.Flush()
	metrics.ObserveExport("csv", metrics.ResultSuccess, time.Since(started))
}

// ExportFormulasXLSXHandler serves the registry as a workbook with a
// summary sheet and a per-version sheet.
type ExportFormulasXLSXHandler struct {
	repo registry.Repository
}

// NewExportFormulasXLSXHandler constructs a ExportFormulasXLSXHandler.
func NewExportFormulasXLSXHandler(repo registry.Repository) *ExportFormulasXLSXHandler {
	return &ExportFormulasXLSXHandler{repo: repo}
}

// ServeHTTP handles GET /v1/exports/formulas.xlsx.
func (h *ExportFormulasXLSXHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	started := time.Now()

	records, err := h.repo.List(r.Context(), exportFilter(r))
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		http.Error(w, "query formulas error", http.StatusInternalServerError)
		return
	}

	payload, err := buildFormulasXLSX(records)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		http.Error(w, "render workbook error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=\"formulas.xlsx\"")
	_, _ = w.Write(payload)
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(started))
}

func buildFormulasXLSX(records []*registry.Record) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	formulasSheet := "formulas"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(formulasSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Formula Registry Export")
	_ = f.SetCellValue(summarySheet, "A3", "Exported")
	_ = f.SetCellValue(summarySheet, "B3", time.Now().UTC().Format(timeLayout))
	_ = f.SetCellValue(summarySheet, "A4", "Records")
	_ = f.SetCellValue(summarySheet, "B4", len(records))

	headers := []string{"Formula", "Version", "Name", "Category", "Status", "Decision", "Sender", "Role", "Unit", "Resolution", "Registered"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(formulasSheet, cell, header)
	}
	for i, record := range records {
		if record.Formula == nil {
			continue
		}
		row := i + 2
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("A%d", row), record.Formula.FormulaID)
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("B%d", row), record.Version)
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("C%d", row), record.Formula.Name)
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("D%d", row), string(record.Formula.Category))
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("E%d", row), string(record.Status))
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("F%d", row), string(record.Decision))
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("G%d", row), record.SenderID)
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("H%d", row), record.SenderRole)
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("I%d", row), record.Formula.OutputUnit)
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("J%d", row), record.Formula.OutputResolution)
		_ = f.SetCellValue(formulasSheet, fmt.Sprintf("K%d", row), formatTime(record.RegisteredAt))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HealthHandler reports store readiness with record counts.
type HealthHandler struct {
	counters     map[string]func(*http.Request) (int, error)
	startedAt    time.Time
	buildVersion string
}

// NewHealthHandler constructs a HealthHandler. counters maps a component
// name to a count function; a failing count marks the component degraded.
func NewHealthHandler(buildVersion string, counters map[string]func(*http.Request) (int, error)) *HealthHandler {
	return &HealthHandler{
		counters:     counters,
		startedAt:    time.Now().UTC(),
		buildVersion: buildVersion,
	}
}

// ServeHTTP handles GET /health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	type component struct {
		Status string `json:"status"`
		Count  int    `json:"count,omitempty"`
		Error  string `json:"error,omitempty"`
	}
	status := "ok"
	components := make(map[string]component, len(h.counters))
	for name, count := range h.counters {
		n, err := count(r)
		if err != nil {
			status = "degraded"
			components[name] = component{Status: "error", Error: err.Error()}
			continue
		}
		components[name] = component{Status: "ok", Count: n}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"version":    h.buildVersion,
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"components": components,
	})
}

func exportFilter(r *http.Request) registry.Filter {
	filter := registry.Filter{IncludeRetired: true}
	if r.URL.Query().Get("includeRetired") == "false" {
		filter.IncludeRetired = false
	}
	return filter
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
