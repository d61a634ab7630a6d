// Package notify delivers the single completion message of a pipeline task.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"docbrief/internal/config"
)

const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

type Notification struct {
	UserID      string `json:"user_id"`
	ArtifactURL string `json:"file_url"`
	Outcome     string `json:"outcome"`
	DocumentID  string `json:"document_id,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// WebhookNotifier posts the notification as JSON. Delivery is attempted once.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

// QueueNotifier publishes notifications to the document.notify topic for a
// downstream bot or mailer to pick up.
type QueueNotifier struct {
	publisher Publisher
}

func NewQueueNotifier(p Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: p}
}

func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := q.publisher.Publish(config.TopicDocumentNotify, body); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogNotifier only logs. Used when neither a webhook nor a queue is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	slog.InfoContext(ctx, "notification", "user_id", n.UserID, "outcome", n.Outcome, "file_url", n.ArtifactURL)
	return nil
}
