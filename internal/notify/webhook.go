// SPDX-License-Identifier: Apache-2.0

// Package notify delivers alert summaries to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook posts messages to a chat-style webhook endpoint. An empty URL
// disables delivery, so callers can invoke Send unconditionally.
type Webhook struct {
	URL        string
	HTTPClient *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts text as a {"text": ...} JSON payload.
func (wh *Webhook) Send(ctx context.Context, text string) error {
	if wh == nil || wh.URL == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wh.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
