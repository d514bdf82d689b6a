// Package embedding turns text into fixed-length vectors by calling the AI
// vendor's embeddings endpoint.
package embedding

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
)

// Gateway is the embedding collaborator the ingestion and query paths depend
// on. Vector dimensionality is fixed and consistent for a given run but is
// otherwise the vendor's choice.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GatewayConfig identifies one embedding endpoint. It is passed by value at
// construction time; there is no package-level client state beyond the cache
// keyed by this config.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultTimeout bounds one embeddings call when the config leaves Timeout zero.
const DefaultTimeout = 30 * time.Second

var (
	clientMu    sync.Mutex
	clientCache = map[GatewayConfig]*http.Client{}
)

// httpClientFor returns the shared http.Client for a config, creating it on
// first use. Clients are cached per config value, not held as a mutable global.
func httpClientFor(cfg GatewayConfig) *http.Client {
	clientMu.Lock()
	defer clientMu.Unlock()
	if c, ok := clientCache[cfg]; ok {
		return c
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &http.Client{Timeout: timeout}
	clientCache[cfg] = c
	return c
}

// Client calls the vendor's embeddings endpoint over HTTP.
type Client struct {
	cfg        GatewayConfig
	httpClient *http.Client
}

// Compile-time check that Client implements Gateway.
var _ Gateway = (*Client)(nil)

// NewClient creates a Client for the given endpoint config.
func NewClient(cfg GatewayConfig) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: httpClientFor(cfg)}
}

// embedRequest is the JSON body for POST /v1/embeddings.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the JSON returned by POST /v1/embeddings.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text.
// Failures, including timeouts, surface as *RemoteServiceError.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteServiceError{Service: "embedding", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RemoteServiceError{Service: "embedding", Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &RemoteServiceError{Service: "embedding", Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, &RemoteServiceError{Service: "embedding", Status: resp.StatusCode, Message: "empty embedding in response"}
	}

	return result.Data[0].Embedding, nil
}
