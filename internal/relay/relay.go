// Package relay delivers pipeline results to the callback URL carried by
// the original slash-command request.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type message struct {
	Text         string `json:"text"`
	ResponseType string `json:"response_type"`
}

type Relay struct {
	httpClient *http.Client
}

func New(timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Relay{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Post sends one text message to the callback URL. The platform accepts
// several sequential posts to the same URL, which compound unlock relies on.
func (r *Relay) Post(ctx context.Context, callbackURL, text string) error {
	callbackURL = strings.TrimSpace(callbackURL)
	if callbackURL == "" {
		return fmt.Errorf("empty callback url")
	}

	payload, err := json.Marshal(message{Text: text, ResponseType: "in_channel"})
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback failed with status %d", resp.StatusCode)
	}

	return nil
}
