// Package notify holds the outbound digest channels. Each channel is an
// independent collaborator: the digest service treats their failures
// separately.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
)

// SlackChannel posts the text rendering of a digest to an incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

var _ ports.DigestChannel = (*SlackChannel)(nil)

// NewSlackChannel registers the webhook URL.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

// Deliver posts the digest text as a webhook message.
func (s *SlackChannel) Deliver(ctx context.Context, d domain.Digest) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack channel misconfigured")
	}

	body, err := json.Marshal(map[string]string{"text": d.Text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack error: %s", resp.Status)
	}
	return nil
}
