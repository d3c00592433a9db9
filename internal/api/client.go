// Package api is the request/response boundary to the remote generation
// service. Calls either return a parsed value or fail with a distinguishable
// kind: ErrUnauthorized (no token set), *RemoteError (non-2xx), or a wrapped
// transport error (DNS/connect/timeout/TLS). No retries happen here; retry
// policy belongs to callers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const clientSource = "streambridge"

// Per-call timeouts, matching the remote service's latency profile.
const (
	createStreamTimeout = 15 * time.Second
	updateStreamTimeout = 10 * time.Second
	apiKeyTimeout       = 10 * time.Second
)

// ErrUnauthorized is returned when a call requiring an API token is made
// before one is set.
var ErrUnauthorized = fmt.Errorf("api token not set")

// RemoteError is a non-2xx response from the remote service.
type RemoteError struct {
	Code int
	Body string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote rejected: %d: %s", e.Code, e.Body)
}

// Stream is the remote service's view of a generation stream.
type Stream struct {
	ID      string `json:"id"`
	WhipURL string `json:"whip_url"`
	Params  struct {
		ModelID string `json:"model_id"`
	} `json:"params"`
}

// Client issues requests against the remote stream API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client for the given API base URL, e.g.
// "https://api.daydream.live/v1".
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// SetToken sets the API token used for stream calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current API token, or "" if not logged in.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// HasToken reports whether an API token is set.
func (c *Client) HasToken() bool {
	return c.Token() != ""
}

type streamPayload struct {
	Pipeline string         `json:"pipeline"`
	Params   map[string]any `json:"params"`
}

func buildStreamPayload(modelID string, params map[string]any) streamPayload {
	merged := make(map[string]any, len(params)+1)
	merged["model_id"] = modelID
	for k, v := range params {
		merged[k] = v
	}
	return streamPayload{Pipeline: "streamdiffusion", Params: merged}
}

// CreateStream creates a new generation stream and returns its descriptor.
func (c *Client) CreateStream(ctx context.Context, modelID string, params map[string]any) (*Stream, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, createStreamTimeout)
	defer cancel()

	body, err := json.Marshal(buildStreamPayload(modelID, params))
	if err != nil {
		return nil, fmt.Errorf("marshal create payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/streams", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setJSONHeaders(req, token)

	respBody, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	var stream Stream
	if err := json.Unmarshal(respBody, &stream); err != nil {
		return nil, fmt.Errorf("unmarshal stream response: %w", err)
	}
	c.logger.Info("stream created", zap.String("streamId", stream.ID))
	return &stream, nil
}

// UpdateStream patches an existing stream's generation parameters.
func (c *Client) UpdateStream(ctx context.Context, streamID, modelID string, params map[string]any) error {
	token := c.Token()
	if token == "" {
		return ErrUnauthorized
	}
	if streamID == "" || modelID == "" {
		return fmt.Errorf("update stream: missing stream or model id")
	}

	ctx, cancel := context.WithTimeout(ctx, updateStreamTimeout)
	defer cancel()

	body, err := json.Marshal(buildStreamPayload(modelID, params))
	if err != nil {
		return fmt.Errorf("marshal update payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/streams/"+streamID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setJSONHeaders(req, token)

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// ExchangeSDP posts an SDP offer to a WHIP/WHEP endpoint and returns the
// answer body plus the response headers. Bearer auth is applied only when
// token is non-empty (the WHEP leg omits it).
func (c *Client) ExchangeSDP(ctx context.Context, url, offerSDP, token string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offerSDP))
	if err != nil {
		return "", nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("sdp exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read sdp answer: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.Header, &RemoteError{Code: resp.StatusCode, Body: string(body)}
	}
	return string(body), resp.Header, nil
}

// CreateAPIKey exchanges a short-lived login JWT for a durable API key.
func (c *Client) CreateAPIKey(ctx context.Context, jwt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, apiKeyTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"name":      "streambridge",
		"user_type": clientSource,
	})
	if err != nil {
		return "", fmt.Errorf("marshal api-key payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api-key", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setJSONHeaders(req, jwt)

	respBody, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("create api key: %w", err)
	}

	var result struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal api-key response: %w", err)
	}
	if result.APIKey == "" {
		return "", fmt.Errorf("no api key returned")
	}
	return result.APIKey, nil
}

func (c *Client) setJSONHeaders(req *http.Request, bearer string) {
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-source", clientSource)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
