package registry

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a gateway response is read. Probe
// payloads are small; a misbehaving server must not balloon memory.
const maxResponseBytes = 4 << 20

type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cmp.Or(strings.TrimRight(cfg.BaseURL, "/"), "http://localhost:8811"),
		token:   cfg.AuthToken,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
	path := fmt.Sprintf("/v1/servers/%s/tools/%s/call", url.PathEscape(server), url.PathEscape(tool))
	payload, err := c.doRequest(ctx, http.MethodPost, path, map[string]any{"arguments": args})
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return &result, nil
}

func (c *Client) HasConfiguration(ctx context.Context, server string) bool {
	info, err := c.GetServer(ctx, server)
	if err != nil {
		if gwErr, ok := IsGatewayError(err); ok && gwErr.StatusCode == http.StatusNotFound {
			return false
		}
		// A gateway that cannot answer is not a missing configuration;
		// the follow-up call carries the real error.
		return true
	}
	return info.Configured
}

func (c *Client) GetServer(ctx context.Context, server string) (*ServerInfo, error) {
	payload, err := c.doRequest(ctx, http.MethodGet, "/v1/servers/"+url.PathEscape(server), nil)
	if err != nil {
		return nil, err
	}
	var info ServerInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("decode server info: %w", err)
	}
	return &info, nil
}

func (c *Client) ListServers(ctx context.Context) (*ServersResponse, error) {
	payload, err := c.doRequest(ctx, http.MethodGet, "/v1/servers", nil)
	if err != nil {
		return nil, err
	}
	var resp ServersResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode servers response: %w", err)
	}
	return &resp, nil
}

// doRequest performs one gateway round trip and returns the response body.
// Non-2xx responses come back as a *GatewayError when the body carries the
// gateway's error envelope, or as a plain error with the raw body otherwise.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return payload, nil
	}
	if envelope, ok := ParseGatewayErrorEnvelope(payload); ok {
		return nil, &GatewayError{
			StatusCode: response.StatusCode,
			Envelope:   envelope,
			Body:       payload,
		}
	}
	return nil, fmt.Errorf("gateway status %d: %s", response.StatusCode, payload)
}

func IsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

var _ Registry = (*Client)(nil)
