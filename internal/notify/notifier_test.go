package notify

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestWebhookChannelPostsNotice(t *testing.T) {
	received := make(chan Notice, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var notice Notice
		if err := json.Unmarshal(body, &notice); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- notice
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel()
	notice := Notice{
		MessageID:  "MSG-001",
		FormulaID:  "FORMULA-A",
		Version:    2,
		Category:   "BILANZIERUNG",
		SenderID:   "MSB-100",
		SenderRole: "MSB",
	}
	if err := channel.Send(context.Background(), server.URL, notice); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.FormulaID != "FORMULA-A" || got.Version != 2 {
			t.Fatalf("unexpected notice: %+v", got)
		}
		if got.SenderRole != "MSB" {
			t.Fatalf("sender role = %q", got.SenderRole)
		}
	case <-time.After(time.Second):
		t.Fatal("no notice received")
	}
}

func TestNotifierRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewNotifier(NewWebhookChannel(), testLogger(),
		WithMaxAttempts(5), WithInitialInterval(time.Millisecond), WithMaxInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	recipient := Recipient{PartyID: "NB-200", Role: "NB", Endpoint: server.URL}
	if err := notifier.Notify(context.Background(), recipient, Notice{MessageID: "MSG-002"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestNotifierGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier, err := NewNotifier(NewWebhookChannel(), testLogger(),
		WithMaxAttempts(2), WithInitialInterval(time.Millisecond), WithMaxInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	recipient := Recipient{PartyID: "UNB-300", Role: "UNB", Endpoint: server.URL}
	if err := notifier.Notify(context.Background(), recipient, Notice{MessageID: "MSG-003"}); err == nil {
		t.Fatal("expected delivery error")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestNotifierRejectsEmptyEndpoint(t *testing.T) {
	notifier, err := NewNotifier(NewWebhookChannel(), testLogger())
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	if err := notifier.Notify(context.Background(), Recipient{PartyID: "HUB-1"}, Notice{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
