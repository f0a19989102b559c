// Package external implements an HTTP/JSON client for remote tool servers.
// A server exposes its tool set at /tools, executes calls at /call and
// answers liveness probes at /ping; the client satisfies tool.ServerClient
// so the registry can merge remote capabilities under the server namespace.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parlourhq/parlour/tool"
)

const defaultTimeout = 30 * time.Second

// ServerConfig describes one remote tool server connection.
type ServerConfig struct {
	Name     string        `yaml:"name" json:"name"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Client talks to a remote tool server over HTTP/JSON.
type Client struct {
	cfg  ServerConfig
	http *http.Client
}

// NewClient constructs a client for the given server.
func NewClient(cfg ServerConfig, optFns ...func(*Client)) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("external server %q: endpoint is required", cfg.Name)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
	for _, fn := range optFns {
		fn(c)
	}
	return c, nil
}

// WithHTTPClient overrides the underlying HTTP client (tests, custom transport).
func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) { c.http = hc }
}

// ListTools implements tool.ServerClient.
func (c *Client) ListTools(ctx context.Context) ([]tool.ToolDescriptor, error) {
	var result struct {
		Tools []tool.ToolDescriptor `json:"tools"`
	}
	if err := c.getJSON(ctx, "/tools", &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// callRequest is the wire form of a remote tool invocation.
type callRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type callResult struct {
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CallTool implements tool.ServerClient.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	body, err := json.Marshal(callRequest{Name: name, Args: args})
	if err != nil {
		return "", fmt.Errorf("encode call request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/call", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("server %q call: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("server %q call: status %d: %s", c.cfg.Name, resp.StatusCode, data)
	}

	var result callResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode call result: %w", err)
	}
	if result.IsError {
		return "", fmt.Errorf("server %q tool %s: %s", c.cfg.Name, name, result.Error)
	}
	return result.Result, nil
}

// Ping implements tool.ServerClient.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server %q unreachable: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server %q ping: status %d", c.cfg.Name, resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server %q: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server %q: status %d", c.cfg.Name, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ tool.ServerClient = (*Client)(nil)
