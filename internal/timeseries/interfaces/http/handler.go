package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	timeseries "mabis-registry/internal/timeseries/domain"
)

// Handler serves time series ingest and lookup.
type Handler struct {
	repo timeseries.Repository
}

func NewHandler(repo timeseries.Repository) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("timeseries handler: nil repository")
	}
	return &Handler{repo: repo}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/v1/time-series" {
		switch r.Method {
		case http.MethodPost:
			h.handleIngest(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if strings.HasPrefix(path, "/v1/time-series/") {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, strings.TrimPrefix(path, "/v1/time-series/"))
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

type ingestRequest struct {
	MessageID  string                   `json:"messageId"`
	TimeSeries []*timeseries.TimeSeries `json:"timeSeries"`
}

type ingestAck struct {
	MessageID      string    `json:"messageId"`
	AcceptanceTime time.Time `json:"acceptanceTime"`
	Status         string    `json:"status"`
	TimeSeriesIDs  []string  `json:"timeSeriesIds"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid json")
		return
	}
	if req.MessageID == "" {
		respondError(w, http.StatusBadRequest, "EMPTY_MESSAGE_ID", "messageId is required")
		return
	}
	if len(req.TimeSeries) == 0 {
		respondError(w, http.StatusBadRequest, "NO_TIME_SERIES", "timeSeries must not be empty")
		return
	}
	for _, series := range req.TimeSeries {
		if err := series.Validate(); err != nil {
			code := "INVALID_SERIES"
			switch {
			case errors.Is(err, timeseries.ErrInvalidResolution):
				code = "INVALID_RESOLUTION"
			case errors.Is(err, timeseries.ErrPartitionMismatch):
				code = "PARTITION_MISMATCH"
			}
			respondError(w, http.StatusBadRequest, code, err.Error())
			return
		}
	}
	ids := make([]string, 0, len(req.TimeSeries))
	for _, series := range req.TimeSeries {
		if err := h.repo.Save(r.Context(), series); err != nil {
			respondError(w, http.StatusInternalServerError, "INTERNAL", "store failed")
			return
		}
		ids = append(ids, series.TimeSeriesID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ingestAck{
		MessageID:      req.MessageID,
		AcceptanceTime: time.Now().UTC(),
		Status:         "ACCEPTED",
		TimeSeriesIDs:  ids,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := timeseries.Filter{
		MarketLocationID: r.URL.Query().Get("marketLocationId"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	series, err := h.repo.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "list failed")
		return
	}
	if series == nil {
		series = []*timeseries.TimeSeries{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(series)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	series, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, timeseries.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown timeSeriesId")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(series)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
