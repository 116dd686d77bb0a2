package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"nbassist/internal/api"
)

const (
	chatPath   = "agent/chat"
	modelsPath = "agent/models"
	toolsPath  = "agent/tools"

	discoveryTTL = 10 * time.Minute
)

// Request is the body of an agent run.
type Request struct {
	Message       string `json:"message"`
	ThreadID      string `json:"thread_id"`
	NotebookID    string `json:"notebook_id,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	ModelOverride string `json:"model_override,omitempty"`
	Stream        bool   `json:"stream"`
}

// Message is one entry of a non-streaming result.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InvokeResult is the reply of a non-streaming run.
type InvokeResult struct {
	ThreadID      string    `json:"thread_id"`
	Messages      []Message `json:"messages"`
	FinalResponse string    `json:"final_response,omitempty"`
}

type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type ProviderInfo struct {
	Available bool     `json:"available"`
	Models    []string `json:"models,omitempty"`
}

// Models is the discovery listing of selectable models.
type Models struct {
	Models    []Model                 `json:"models"`
	Providers map[string]ProviderInfo `json:"providers,omitempty"`
}

// Has reports whether id names a listed model.
func (m Models) Has(id string) bool {
	for _, model := range m.Models {
		if model.ID == id || model.Name == id {
			return true
		}
	}
	return false
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type toolsResponse struct {
	Tools []Tool `json:"tools"`
}

// Client opens agent runs and queries discovery endpoints.
type Client struct {
	api       *api.Client
	discovery *cache.Cache
	log       *zap.Logger
}

type ClientOption func(*Client)

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDiscoveryTTL sets how long model and tool listings are reused.
func WithDiscoveryTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.discovery = cache.New(ttl, 2*ttl)
	}
}

func NewClient(apiClient *api.Client, opts ...ClientOption) *Client {
	c := &Client{
		api:       apiClient,
		discovery: cache.New(discoveryTTL, 2*discoveryTTL),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream opens a run. The returned stream must be drained or closed; the
// run is aborted when ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	req.Stream = true
	body, err := c.api.OpenStream(ctx, chatPath, req)
	if err != nil {
		return nil, err
	}
	c.log.Debug("agent stream opened", zap.String("thread_id", req.ThreadID))
	return newStream(body, c.log), nil
}

// Invoke runs the agent without streaming and returns its final reply.
func (c *Client) Invoke(ctx context.Context, req Request) (InvokeResult, error) {
	req.Stream = false
	var out InvokeResult
	if err := c.api.Post(ctx, chatPath, req, &out); err != nil {
		return InvokeResult{}, fmt.Errorf("invoke agent: %w", err)
	}
	return out, nil
}

// Models lists selectable models. Results are cached.
func (c *Client) Models(ctx context.Context) (Models, error) {
	if cached, ok := c.discovery.Get(modelsPath); ok {
		return cached.(Models), nil
	}
	var out Models
	if err := c.api.Get(ctx, modelsPath, &out); err != nil {
		return Models{}, fmt.Errorf("list models: %w", err)
	}
	c.discovery.Set(modelsPath, out, cache.DefaultExpiration)
	return out, nil
}

// Tools lists the assistant's tools. Results are cached.
func (c *Client) Tools(ctx context.Context) ([]Tool, error) {
	if cached, ok := c.discovery.Get(toolsPath); ok {
		return cached.([]Tool), nil
	}
	var out toolsResponse
	if err := c.api.Get(ctx, toolsPath, &out); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	c.discovery.Set(toolsPath, out.Tools, cache.DefaultExpiration)
	return out.Tools, nil
}

// Forget drops cached discovery results.
func (c *Client) Forget() {
	c.discovery.Flush()
}
