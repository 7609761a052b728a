package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink POSTs events as JSON to an HTTP endpoint
type WebhookSink struct {
	url     string
	headers map[string]string
	types   map[EventType]bool
	client  *http.Client
}

// NewWebhookSink creates a webhook sink. When types is empty every event is
// delivered; otherwise only the listed types are.
func NewWebhookSink(url string, headers map[string]string, types ...EventType) *WebhookSink {
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return &WebhookSink{
		url:     url,
		headers: headers,
		types:   filter,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name implements Sink
func (s *WebhookSink) Name() string { return "webhook" }

// Accepts reports whether events of the given type are delivered
func (s *WebhookSink) Accepts(eventType EventType) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// Send implements Sink
func (s *WebhookSink) Send(ctx context.Context, event Event) error {
	if !s.Accepts(event.Type) {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
