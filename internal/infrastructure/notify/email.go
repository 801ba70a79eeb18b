package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
)

const defaultMailEndpoint = "https://api.sendgrid.com/v3/mail/send"

// EmailChannel sends the HTML rendering of a digest through a SendGrid-style
// mail API.
type EmailChannel struct {
	endpoint string
	apiKey   string
	from     string
	fromName string
	to       string
	client   *http.Client
}

var _ ports.DigestChannel = (*EmailChannel)(nil)

// NewEmailChannel registers credentials and addresses. An empty endpoint
// falls back to the SendGrid API.
func NewEmailChannel(endpoint, apiKey, from, to string) *EmailChannel {
	if endpoint == "" {
		endpoint = defaultMailEndpoint
	}
	return &EmailChannel{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		fromName: "Tab Digest",
		to:       to,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *EmailChannel) Name() string { return "email" }

// Deliver posts the digest HTML as a single-recipient mail send.
func (e *EmailChannel) Deliver(ctx context.Context, d domain.Digest) error {
	if e.apiKey == "" || e.from == "" || e.to == "" {
		return fmt.Errorf("email channel misconfigured")
	}

	subject := fmt.Sprintf("Weekly Tab Digest - %s", d.GeneratedAt.Format("2006-01-02"))
	body, err := json.Marshal(map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": e.to}}},
		},
		"from":    map[string]string{"email": e.from, "name": e.fromName},
		"subject": subject,
		"content": []map[string]string{
			{"type": "text/html", "value": d.HTML},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mail error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}
