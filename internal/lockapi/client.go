// Package lockapi wraps the downstream physical-access-control HTTP API:
// sign-in for short-lived session headers, plus per-lock peek and unlock.
package lockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Session is the opaque header set returned by sign-in. It authorizes
// peek/unlock calls for the remainder of one request and is never persisted.
type Session map[string]string

// The token-auth scheme echoes these headers back on every call.
var sessionHeaderNames = []string{"Access-Token", "Client", "Uid", "Token-Type", "Expiry"}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse lock api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid lock api scheme")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type statusResponse struct {
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn exchanges one pool credential for session headers.
func (c *Client) SignIn(ctx context.Context, username, password string) (Session, error) {
	payload, err := json.Marshal(signInRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encode sign-in payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/sign_in", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sign-in request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sign-in failed with status %d", resp.StatusCode)
	}

	session := make(Session, len(sessionHeaderNames))
	for _, name := range sessionHeaderNames {
		if value := resp.Header.Get(name); value != "" {
			session[name] = value
		}
	}
	if session["Access-Token"] == "" {
		return nil, fmt.Errorf("sign-in response missing access token header")
	}

	return session, nil
}

// Peek reports the lock's current state without actuating it.
func (c *Client) Peek(ctx context.Context, lockID string, session Session) (string, error) {
	return c.lockCall(ctx, http.MethodGet, lockID, "peek", session)
}

// Unlock actuates the lock and returns the API's status message.
func (c *Client) Unlock(ctx context.Context, lockID string, session Session) (string, error) {
	return c.lockCall(ctx, http.MethodPut, lockID, "unlock", session)
}

func (c *Client) lockCall(ctx context.Context, method, lockID, action string, session Session) (string, error) {
	endpoint := fmt.Sprintf("%s/locks/%s/%s", c.baseURL, url.PathEscape(lockID), action)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", action, err)
	}
	for name, value := range session {
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", action, err)
	}

	var parsed statusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("%s failed: %s", action, parsed.Error.Message)
		}
		return "", fmt.Errorf("%s failed with status %d", action, resp.StatusCode)
	}

	if parsed.Message == "" {
		return "", fmt.Errorf("%s response missing message", action)
	}

	return parsed.Message, nil
}
