package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"mabis-registry/internal/auth"
	formula "mabis-registry/internal/formula/domain"
	"mabis-registry/internal/notify"
	registry "mabis-registry/internal/registry/domain"
	registrymem "mabis-registry/internal/registry/infrastructure/memory"
	subapp "mabis-registry/internal/submission/application"
	submission "mabis-registry/internal/submission/domain"
	submissionmem "mabis-registry/internal/submission/infrastructure/memory"
)

func newTestHandler(t *testing.T) (*Handler, registry.Repository) {
	t.Helper()
	registryRepo := registrymem.NewFormulaRepository()
	router, err := subapp.NewRouter(subapp.Config{
		Routing: subapp.RoutingConfig{DefaultRoles: []string{"NB", "UNB"}},
		Recipients: []notify.Recipient{
			{PartyID: "NB-200", Role: "NB", Endpoint: "http://nb.example"},
		},
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	workflow, err := subapp.NewWorkflow(
		formula.NewValidator(),
		registryRepo,
		submissionmem.NewSubmissionRepository(),
		router,
		log.New(io.Discard, "", 0),
	)
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}
	handler, err := NewHandler(workflow, registryRepo)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler, registryRepo
}

func submitBody(t *testing.T, messageID, formulaID string) *bytes.Buffer {
	t.Helper()
	payload := map[string]any{
		"messageId": messageID,
		"sender":    map[string]string{"partyId": "MSB-100", "role": "MSB"},
		"formulas": []any{map[string]any{
			"formulaId": formulaID,
			"name":      "net sum",
			"expression": map[string]any{
				"function": "Grp_Sum",
				"parameters": []any{
					map[string]any{"type": "timeseries_ref", "value": "A"},
					map[string]any{"type": "timeseries_ref", "value": "B"},
				},
			},
			"inputTimeSeries":  []string{"A", "B"},
			"outputUnit":       "kWh",
			"outputResolution": "PT15M",
			"category":         "BILANZIERUNG",
		}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return &buf
}

func TestSubmitReturnsAcceptedAck(t *testing.T) {
	handler, registryRepo := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/formulas", submitBody(t, "MSG-001", "FORMULA-A"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ack submission.Ack
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != submission.StateAccepted {
		t.Fatalf("ack status = %s", ack.Status)
	}
	record, err := registryRepo.Get(context.Background(), "FORMULA-A", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Version != 1 {
		t.Fatalf("version = %d, want 1", record.Version)
	}
}

func TestSubmitRejectsInvalidEnvelope(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := bytes.NewBufferString(`{"messageId":"","formulas":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/formulas", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var problem map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&problem); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if problem["code"] != "EMPTY_MESSAGE_ID" {
		t.Fatalf("code = %s", problem["code"])
	}
}

func TestSubmitPrefersAuthenticatedSender(t *testing.T) {
	handler, registryRepo := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/formulas", submitBody(t, "MSG-002", "FORMULA-B"))
	req = req.WithContext(auth.WithIdentity(req.Context(), "MSB-777", auth.RoleMSB, "subject"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	record, err := registryRepo.Get(context.Background(), "FORMULA-B", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.SenderID != "MSB-777" {
		t.Fatalf("sender = %s, want MSB-777", record.SenderID)
	}
}

func TestGetFormulaVersions(t *testing.T) {
	handler, _ := newTestHandler(t)

	for _, messageID := range []string{"MSG-010", "MSG-011"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/formulas", submitBody(t, messageID, "FORMULA-C"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("submit %s: status = %d", messageID, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/formulas/FORMULA-C", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var head registry.Record
	if err := json.NewDecoder(rec.Body).Decode(&head); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if head.Version != 2 {
		t.Fatalf("head version = %d, want 2", head.Version)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/formulas/FORMULA-C?version=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var first registry.Record
	if err := json.NewDecoder(rec.Body).Decode(&first); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("version = %d, want 1", first.Version)
	}
}

func TestGetFormulaNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/formulas/NOPE", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRetireThenResubmitConflicts(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/formulas", submitBody(t, "MSG-020", "FORMULA-D")))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/formulas/FORMULA-D", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("retire: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/formulas/FORMULA-D", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second retire: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/formulas", submitBody(t, "MSG-021", "FORMULA-D")))
	if rec.Code != http.StatusConflict {
		t.Fatalf("resubmit retired: status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestDecisionEndpoint(t *testing.T) {
	handler, registryRepo := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/formulas", submitBody(t, "MSG-030", "FORMULA-E")))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status = %d", rec.Code)
	}

	body := bytes.NewBufferString(`{"decision":"ACCEPTED"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/formulas/FORMULA-E/decision", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), "NB-200", auth.RoleNB, "subject"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("decision: status = %d, body %s", rec.Code, rec.Body.String())
	}

	record, err := registryRepo.Get(context.Background(), "FORMULA-E", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Decision != registry.DecisionAccepted {
		t.Fatalf("decision = %s", record.Decision)
	}
	if record.DecidedBy != "NB-200" {
		t.Fatalf("decidedBy = %s", record.DecidedBy)
	}

	body = bytes.NewBufferString(`{"decision":"MAYBE"}`)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/formulas/FORMULA-E/decision", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid decision: status = %d", rec.Code)
	}
}

func TestSubmissionLookup(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/formulas", submitBody(t, "MSG-040", "FORMULA-F")))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/submissions/MSG-040", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sub submission.Submission
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if sub.State != submission.StateAccepted {
		t.Fatalf("state = %s", sub.State)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/submissions/NOPE", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
