package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// WebhookSink posts batches as a form field named events holding the JSON encoded batch.
type WebhookSink struct {
	url    string
	token  string
	client *http.Client
}

var _ = Sink(&WebhookSink{})

// NewWebhookSink creates a sink posting to endpoint. A non-empty token is sent as a bearer token.
func NewWebhookSink(endpoint, token string, client *http.Client) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}

	return &WebhookSink{
		url:    endpoint,
		token:  token,
		client: client,
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, events []Event) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshalling events: %w", err)
	}

	form := url.Values{"events": {string(payload)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting events: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	return nil
}
