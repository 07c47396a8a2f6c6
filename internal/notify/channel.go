package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Notice is the registration message delivered to an affected market party.
type Notice struct {
	MessageID    string    `json:"messageId"`
	FormulaID    string    `json:"formulaId"`
	Version      int       `json:"version"`
	Category     string    `json:"category"`
	SenderID     string    `json:"senderId"`
	SenderRole   string    `json:"senderRole"`
	RegisteredAt time.Time `json:"registeredAt"`
	Retired      bool      `json:"retired,omitempty"`
}

// Recipient is a market party that receives registration notices.
type Recipient struct {
	PartyID  string `yaml:"partyId" json:"partyId"`
	Role     string `yaml:"role" json:"role"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Channel delivers a notice to one endpoint.
type Channel interface {
	Send(ctx context.Context, endpoint string, notice Notice) error
}

// WebhookChannel posts notices as JSON to recipient endpoints.
type WebhookChannel struct {
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(opts ...WebhookOption) *WebhookChannel {
	channel := &WebhookChannel{
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel
}

// Send posts the notice. Any non-2xx response is an error so the caller
// can retry.
func (w *WebhookChannel) Send(ctx context.Context, endpoint string, notice Notice) error {
	if w == nil {
		return errors.New("webhook channel: nil channel")
	}
	if endpoint == "" {
		return errors.New("webhook channel: empty endpoint")
	}
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
