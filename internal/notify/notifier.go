package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts     = 4
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// Notifier delivers notices to recipients with exponential backoff. A
// delivery that still fails after the attempt budget is reported back to
// the caller; the registration itself is never rolled back.
type Notifier struct {
	channel         Channel
	logger          *log.Logger
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithMaxAttempts caps delivery attempts per recipient.
func WithMaxAttempts(attempts int) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.maxAttempts = attempts
		}
	}
}

// WithInitialInterval overrides the first retry delay.
func WithInitialInterval(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.initialInterval = interval
		}
	}
}

// WithMaxInterval caps the retry delay.
func WithMaxInterval(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.maxInterval = interval
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(channel Channel, logger *log.Logger, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("notifier: nil channel")
	}
	if logger == nil {
		return nil, errors.New("notifier: nil logger")
	}
	notifier := &Notifier{
		channel:         channel,
		logger:          logger,
		maxAttempts:     defaultMaxAttempts,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	return notifier, nil
}

// Notify delivers the notice to one recipient, retrying transient failures.
func (n *Notifier) Notify(ctx context.Context, recipient Recipient, notice Notice) error {
	if n == nil || n.channel == nil {
		return errors.New("notifier: nil channel")
	}
	if recipient.Endpoint == "" {
		return fmt.Errorf("notifier: recipient %s has no endpoint", recipient.PartyID)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = n.initialInterval
	backoffCfg.MaxInterval = n.maxInterval

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		lastErr = n.channel.Send(ctx, recipient.Endpoint, notice)
		if lastErr == nil {
			if attempt > 1 {
				n.logger.Printf("notify: delivered to %s after %d attempts", recipient.PartyID, attempt)
			}
			return nil
		}
		if attempt == n.maxAttempts {
			break
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = n.maxInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	n.logger.Printf("notify: giving up on %s after %d attempts: %v", recipient.PartyID, n.maxAttempts, lastErr)
	return fmt.Errorf("notifier: delivery to %s failed: %w", recipient.PartyID, lastErr)
}
