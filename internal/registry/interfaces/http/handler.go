package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"mabis-registry/internal/auth"
	formula "mabis-registry/internal/formula/domain"
	registry "mabis-registry/internal/registry/domain"
	subapp "mabis-registry/internal/submission/application"
	submission "mabis-registry/internal/submission/domain"
)

// Handler serves the formula registry endpoints: submission envelopes,
// version queries, retirement and recipient decisions.
type Handler struct {
	workflow *subapp.Workflow
	repo     registry.Repository
}

// NewHandler constructs a Handler.
func NewHandler(workflow *subapp.Workflow, repo registry.Repository) (*Handler, error) {
	if workflow == nil {
		return nil, errors.New("registry handler: nil workflow")
	}
	if repo == nil {
		return nil, errors.New("registry handler: nil repository")
	}
	return &Handler{workflow: workflow, repo: repo}, nil
}

// ServeHTTP routes registry requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/v1/formulas" {
		switch r.Method {
		case http.MethodPost:
			h.handleSubmit(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if strings.HasPrefix(path, "/v1/submissions/") {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleSubmission(w, r, strings.TrimPrefix(path, "/v1/submissions/"))
		return
	}

	if !strings.HasPrefix(path, "/v1/formulas/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rest := strings.TrimPrefix(path, "/v1/formulas/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	formulaID := parts[0]

	if len(parts) == 2 && parts[1] == "decision" && r.Method == http.MethodPost {
		h.handleDecision(w, r, formulaID)
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, formulaID)
		case http.MethodPut:
			h.handleUpdate(w, r, formulaID)
		case http.MethodDelete:
			h.handleRetire(w, r, formulaID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

type submitRequest struct {
	MessageID    string             `json:"messageId"`
	CreationTime string             `json:"creationTime,omitempty"`
	Sender       submission.Sender  `json:"sender"`
	Formulas     []*formula.Formula `json:"formulas"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid json")
		return
	}
	sub := &submission.Submission{
		MessageID: req.MessageID,
		Sender:    senderFromRequest(r, req.Sender),
		Formulas:  req.Formulas,
	}
	ack, err := h.workflow.Submit(r.Context(), sub)
	switch {
	case errors.Is(err, submission.ErrEmptyMessageID):
		respondError(w, http.StatusBadRequest, "EMPTY_MESSAGE_ID", "messageId is required")
		return
	case errors.Is(err, submission.ErrNoFormulas):
		respondError(w, http.StatusBadRequest, "NO_FORMULAS", "at least one formula is required")
		return
	case errors.Is(err, registry.ErrConflict):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ack)
		return
	case errors.Is(err, registry.ErrRetired):
		respondError(w, http.StatusConflict, "FORMULA_RETIRED", "a submitted formula is retired")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "submission processing failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ack)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		Category: formula.Category(r.URL.Query().Get("category")),
		SenderID: r.URL.Query().Get("senderId"),
	}
	if r.URL.Query().Get("includeRetired") == "true" {
		filter.IncludeRetired = true
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	records, err := h.repo.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "list failed")
		return
	}
	if records == nil {
		records = []*registry.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, formulaID string) {
	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_VERSION", "version must be a positive integer")
			return
		}
		version = parsed
	}
	record, err := h.repo.Get(r.Context(), formulaID, version)
	if errors.Is(err, registry.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown formula or version")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(record)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, formulaID string) {
	var f formula.Formula
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid json")
		return
	}
	if f.FormulaID != "" && f.FormulaID != formulaID {
		respondError(w, http.StatusBadRequest, "ID_MISMATCH", "formulaId in body does not match path")
		return
	}
	f.FormulaID = formulaID

	messageID := r.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = "upd-" + uuid.NewString()
	}
	sub := &submission.Submission{
		MessageID: messageID,
		Sender:    senderFromRequest(r, submission.Sender{}),
		Formulas:  []*formula.Formula{&f},
	}
	ack, err := h.workflow.Submit(r.Context(), sub)
	switch {
	case errors.Is(err, registry.ErrConflict):
		respondError(w, http.StatusConflict, "CONFLICT", "a concurrent update won the version race")
		return
	case errors.Is(err, registry.ErrRetired):
		respondError(w, http.StatusConflict, "FORMULA_RETIRED", "formula is retired")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "update failed")
		return
	}
	if ack.Status != submission.StateAccepted {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ack)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ack)
}

func (h *Handler) handleRetire(w http.ResponseWriter, r *http.Request, formulaID string) {
	actor := auth.PartyIDFromContext(r.Context())
	err := h.workflow.Retire(r.Context(), formulaID, actor)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown formula")
		return
	case errors.Is(err, registry.ErrRetired):
		respondError(w, http.StatusConflict, "FORMULA_RETIRED", "formula already retired")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "retire failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, formulaID string) {
	var req struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid json")
		return
	}
	decidedBy := auth.PartyIDFromContext(r.Context())
	err := h.workflow.Decide(r.Context(), formulaID, registry.Decision(req.Decision), decidedBy)
	switch {
	case errors.Is(err, registry.ErrInvalidDecision):
		respondError(w, http.StatusBadRequest, "INVALID_DECISION", "decision must be ACCEPTED or REJECTED")
		return
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown formula")
		return
	case errors.Is(err, registry.ErrRetired):
		respondError(w, http.StatusConflict, "FORMULA_RETIRED", "formula is retired")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "decision failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmission(w http.ResponseWriter, r *http.Request, messageID string) {
	if messageID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sub, err := h.workflow.Submission(r.Context(), messageID)
	if errors.Is(err, submission.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown messageId")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "lookup failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sub)
}

// senderFromRequest prefers the authenticated identity over the body.
func senderFromRequest(r *http.Request, fromBody submission.Sender) submission.Sender {
	partyID := auth.PartyIDFromContext(r.Context())
	role := auth.RoleFromContext(r.Context())
	sender := fromBody
	if partyID != "" {
		sender.PartyID = partyID
	}
	if role != "" {
		sender.Role = string(role)
	}
	return sender
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
