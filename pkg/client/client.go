// Package client is a small HTTP client for the drill daemon API, used
// by the CLI commands and available for embedding.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/drill-ssh/drill/internal/status"
	"github.com/drill-ssh/drill/internal/tunnel"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig targets the daemon's default listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7440/api",
		Timeout: 10 * time.Second,
	}
}

type Client struct {
	baseURL string
	client  *http.Client
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// TunnelStatus is a tunnel record joined with its current status.
type TunnelStatus struct {
	tunnel.Tunnel
	Status status.Status `json:"status"`
}

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// IsReachable reports whether the daemon answers on the status endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// List returns the registered tunnels with their statuses.
func (c *Client) List(ctx context.Context) ([]TunnelStatus, error) {
	var out []TunnelStatus
	if err := c.do(ctx, http.MethodGet, "/tunnels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Add registers a new tunnel and returns it with its assigned id.
func (c *Client) Add(ctx context.Context, t tunnel.Tunnel) (tunnel.Tunnel, error) {
	var out tunnel.Tunnel
	if err := c.do(ctx, http.MethodPost, "/tunnels", t, &out); err != nil {
		return tunnel.Tunnel{}, err
	}
	return out, nil
}

// Remove stops (if needed) and unregisters the named tunnel.
func (c *Client) Remove(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/tunnels/"+url.PathEscape(name), nil, nil)
}

// Start starts the named tunnel.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/tunnels/"+url.PathEscape(name)+"/start", nil, nil)
}

// Stop stops the named tunnel.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/tunnels/"+url.PathEscape(name)+"/stop", nil, nil)
}

// Test runs a one-shot connectivity probe for the named tunnel.
func (c *Client) Test(ctx context.Context, name string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/tunnels/"+url.PathEscape(name)+"/test", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Statuses returns the daemon's status tracker snapshot.
func (c *Client) Statuses(ctx context.Context) (map[string]status.Status, error) {
	out := make(map[string]status.Status)
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResp
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
			if er.Kind != "" {
				return fmt.Errorf("%s: %s", er.Kind, er.Error)
			}
			return fmt.Errorf("%s", er.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
