// Package notify is the HTTP client for the external Notification
// Service. The dispatcher in app treats every call here as best-effort.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/telecare/consult/internal/domain"
)

type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// CreateNotification asks the service to persist a durable record and
// fan out its own delivery hint. Implements app.Notifier.
func (c *Client) CreateNotification(ctx context.Context, recipient domain.UserID, kind string, payload map[string]any) error {
	body, err := json.Marshal(struct {
		RecipientID domain.UserID  `json:"recipient_id"`
		Type        string         `json:"type"`
		Payload     map[string]any `json:"payload,omitempty"`
	}{recipient, kind, payload})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notification service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification service: status %d", resp.StatusCode)
	}
	return nil
}
