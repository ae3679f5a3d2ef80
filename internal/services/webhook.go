package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"studio-crm/backend/pkg/models"
)

// WebhookNotifier POSTs notifications to an HTTP endpoint.
type WebhookNotifier struct {
	url             string
	client          *http.Client
	retries         uint64
	initialInterval time.Duration
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(n *WebhookNotifier) { n.client = c }
}

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) WebhookOption {
	return func(n *WebhookNotifier) { n.initialInterval = d }
}

// NewWebhookNotifier creates a new WebhookNotifier. A failed delivery is
// retried up to retries times.
func NewWebhookNotifier(url string, retries uint64, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		url:             url,
		client:          &http.Client{Timeout: 10 * time.Second},
		retries:         retries,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers the notification. Server errors and transport failures
// are retried; other non-2xx responses are not.
func (n *WebhookNotifier) Notify(ctx context.Context, msg *models.Notification) error {
	requestBody, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.initialInterval
	b.MaxElapsedTime = 0

	op := func() error {
		return n.post(ctx, requestBody)
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, n.retries), ctx)); err != nil {
		return fmt.Errorf("deliver notification %s: %w", msg.ID, err)
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status code %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("webhook returned status code %d", resp.StatusCode))
	}
}
