package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mabis-registry/internal/auth"
	app "mabis-registry/internal/evaluation/application"
	evaluation "mabis-registry/internal/evaluation/domain"
	registry "mabis-registry/internal/registry/domain"
	timeseries "mabis-registry/internal/timeseries/domain"
)

// Handler serves the asynchronous calculation endpoints.
type Handler struct {
	service *app.Service
	series  timeseries.Repository
}

func NewHandler(service *app.Service, series timeseries.Repository) (*Handler, error) {
	if service == nil {
		return nil, errors.New("evaluation handler: nil service")
	}
	if series == nil {
		return nil, errors.New("evaluation handler: nil series repository")
	}
	return &Handler{service: service, series: series}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/v1/calculations" {
		switch r.Method {
		case http.MethodPost:
			h.handleStart(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if !strings.HasPrefix(path, "/v1/calculations/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rest := strings.TrimPrefix(path, "/v1/calculations/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	calculationID := parts[0]

	if len(parts) == 2 && parts[1] == "report.pdf" && r.Method == http.MethodGet {
		h.handleReport(w, r, calculationID)
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, calculationID)
		case http.MethodDelete:
			h.handleCancel(w, r, calculationID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req app.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondProblem(w, http.StatusBadRequest, "Malformed request", "request body is not valid json")
		return
	}
	if req.FormulaID == "" {
		respondProblem(w, http.StatusBadRequest, "Missing formulaId", "formulaId is required")
		return
	}
	req.RequestedBy = auth.PartyIDFromContext(r.Context())

	calc, err := h.service.Start(r.Context(), req)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		respondProblem(w, http.StatusNotFound, "Formula not found", "unknown formula or version")
		return
	case errors.Is(err, app.ErrFormulaRetired):
		respondProblem(w, http.StatusConflict, "Formula retired", "a retired formula cannot be evaluated")
		return
	case err != nil:
		respondProblem(w, http.StatusInternalServerError, "Internal error", "scheduling failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(calc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	calcs, err := h.service.List(r.Context(), limit)
	if err != nil {
		respondProblem(w, http.StatusInternalServerError, "Internal error", "list failed")
		return
	}
	if calcs == nil {
		calcs = []*evaluation.Calculation{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(calcs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, calculationID string) {
	calc, err := h.service.Get(r.Context(), calculationID)
	if errors.Is(err, evaluation.ErrCalculationNotFound) {
		respondProblem(w, http.StatusNotFound, "Calculation not found", "unknown calculationId")
		return
	}
	if err != nil {
		respondProblem(w, http.StatusInternalServerError, "Internal error", "lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(calc)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, calculationID string) {
	err := h.service.Cancel(r.Context(), calculationID)
	switch {
	case errors.Is(err, evaluation.ErrCalculationNotFound):
		respondProblem(w, http.StatusNotFound, "Calculation not found", "unknown calculationId")
		return
	case errors.Is(err, app.ErrCalculationDone):
		respondProblem(w, http.StatusConflict, "Calculation finished", "calculation already reached a terminal state")
		return
	case err != nil:
		respondProblem(w, http.StatusInternalServerError, "Internal error", "cancel failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, calculationID string) {
	calc, err := h.service.Get(r.Context(), calculationID)
	if errors.Is(err, evaluation.ErrCalculationNotFound) {
		respondProblem(w, http.StatusNotFound, "Calculation not found", "unknown calculationId")
		return
	}
	if err != nil {
		respondProblem(w, http.StatusInternalServerError, "Internal error", "lookup failed")
		return
	}
	if calc.Status != evaluation.CalculationCompleted {
		respondProblem(w, http.StatusConflict, "Calculation not completed", "report requires a completed calculation")
		return
	}
	var result *timeseries.TimeSeries
	if calc.ResultSeriesID != "" {
		result, err = h.series.Get(r.Context(), calc.ResultSeriesID)
		if err != nil {
			respondProblem(w, http.StatusInternalServerError, "Internal error", "result series unavailable")
			return
		}
	}
	pdf, err := BuildCalculationPDF(calc, result)
	if err != nil {
		respondProblem(w, http.StatusInternalServerError, "Internal error", "report rendering failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+calculationID+".pdf\"")
	_, _ = w.Write(pdf)
}

// respondProblem writes an RFC 7807 problem-details body.
func respondProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  title,
		"status": status,
		"detail": detail,
	})
}
