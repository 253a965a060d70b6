package admin

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

// Client is the thin HTTP client the CLI uses against a running admin
// server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the admin API at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the runtime status dump.
func (c *Client) Status(ctx context.Context) (*StatusReport, error) {
	var report StatusReport
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CloseSession force-closes a session.
func (c *Client) CloseSession(ctx context.Context, sessionID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/close", body, nil)
}

// TerminateAgent removes an agent from the pool.
func (c *Client) TerminateAgent(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+agentID+"/terminate", nil, nil)
}

// ResetBreaker manually closes a circuit breaker.
func (c *Client) ResetBreaker(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/v1/breakers/"+name+"/reset", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin api unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("admin api: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("admin api: status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
