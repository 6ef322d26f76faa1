package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts notifications as JSON to a webhook URL. The
// payload is `{"title": ..., "message": ...}`.
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification to the configured webhook.
func (w *WebhookNotifier) Send(n Notification) error {
	body, err := json.Marshal(map[string]string{
		"title":   n.Title,
		"message": n.Message,
	})
	if err != nil {
		return fmt.Errorf("webhook payload: %w", err)
	}

	resp, err := w.client.Post(w.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Name identifies the notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }
