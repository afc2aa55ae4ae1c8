package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/webchat/backend/internal/config"
)

// PlaceholderAPIKey is sent when the user did not configure a credential.
// Local inference servers accept any bearer token.
const PlaceholderAPIKey = "dummy-key"

const defaultProbeTimeout = 10 * time.Second

// Client talks to OpenAI-compatible completion servers.
type Client struct {
	httpClient   *http.Client
	probeTimeout time.Duration
	temperature  *float32
	maxTokens    *int
}

// NewClient creates a client using the transport settings from cfg.
func NewClient(cfg config.AIConfig) *Client {
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}

	var temperature *float32
	if cfg.Temperature != nil {
		val := float32(*cfg.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if cfg.MaxTokens != nil {
		val := *cfg.MaxTokens
		maxTokens = &val
	}

	return &Client{
		httpClient:   &http.Client{},
		probeTimeout: probeTimeout,
		temperature:  temperature,
		maxTokens:    maxTokens,
	}
}

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Probe lists the models at baseURL to check that a compatible server answers.
func (c *Client) Probe(ctx context.Context, baseURL, apiKey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if _, err := c.openaiClient(baseURL, apiKey).ListModels(ctx); err != nil {
		return fmt.Errorf("list models at %s: %w", baseURL, err)
	}
	return nil
}

// NewChatModel binds a streaming chat model to the canonical base URL.
func (c *Client) NewChatModel(baseURL, apiKey string) model.BaseChatModel {
	return &ChatModel{
		client:      c.openaiClient(baseURL, apiKey),
		temperature: c.temperature,
		maxTokens:   c.maxTokens,
	}
}

func (c *Client) openaiClient(baseURL, apiKey string) *openai.Client {
	clientConfig := openai.DefaultConfig(credential(apiKey))
	clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/")
	clientConfig.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(clientConfig)
}

func credential(apiKey string) string {
	if strings.TrimSpace(apiKey) == "" {
		return PlaceholderAPIKey
	}
	return apiKey
}
