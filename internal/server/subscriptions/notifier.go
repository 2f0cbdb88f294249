package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Publisher is the subset of a NATS connection the notifier needs.
// *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Notifier delivers notifications via webhooks and NATS
type Notifier struct {
	httpClient *http.Client
	publisher  Publisher
	logger     *slog.Logger
	backoff    func(attempt int) time.Duration
}

// NewNotifier creates a notifier. publisher may be nil.
func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		publisher: publisher,
		logger:    logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// SendWebhook sends a notification via HTTP POST, trying up to three times
func (n *Notifier) SendWebhook(ctx context.Context, url string, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building webhook request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Relgraph-Event", notification.Event.Type)
		req.Header.Set("X-Relgraph-Subscription", notification.SubscriptionID)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = err
			n.logger.Warn("webhook delivery attempt failed",
				slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.logger.Debug("webhook delivered", slog.String("url", url))
			return nil
		}

		lastErr = &WebhookError{
			URL:        url,
			StatusCode: resp.StatusCode,
		}
		n.logger.Warn("webhook delivery attempt rejected",
			slog.Int("attempt", attempt+1), slog.Int("status", resp.StatusCode))
	}

	n.logger.Error("webhook delivery failed", slog.String("url", url), slog.String("error", lastErr.Error()))
	return lastErr
}

// Publish sends v as JSON on a NATS subject. It is a no-op without a publisher.
func (n *Notifier) Publish(subject string, v any) error {
	if n.publisher == nil || subject == "" {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	if err := n.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// WebhookError represents a webhook delivery failure
type WebhookError struct {
	URL        string
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook delivery failed: %s returned %d", e.URL, e.StatusCode)
}
