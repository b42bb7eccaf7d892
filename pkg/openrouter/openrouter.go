package openrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

var (
	OpenRouterReasoningBlacklist = map[string]bool{
		"x-ai/grok-4.1-fast": true,
	}
)

type OpenRouterConfig struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true"`
	MaxCompletionToken *int          `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
}

// Config is kept as an alias for backward compatibility.
type Config = OpenRouterConfig

type ChatRequest struct {
	System string
	User   string
}

// Client wraps the OpenAI SDK configured for OpenRouter.
type Client struct {
	api *openaisdk.Client
	cfg Config
}

// NewClient creates a client for the given config, or nil when no API
// key is configured. Callers probe for nil to select a fallback path.
func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}

	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	// Add OpenRouter specific headers
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}

	api := openaisdk.NewClient(opts...)
	return &Client{api: &api, cfg: cfg}
}

func (c *Client) Model() string {
	return strings.TrimSpace(c.cfg.Model)
}

// Chat performs a blocking completion and returns the full message text.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, c.params(req),
		c.callOptions(option.WithRequestTimeout(c.cfg.Timeout))...)
	if err != nil {
		return "", fmt.Errorf("openrouter: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openrouter: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream opens a streaming completion. No request timeout is applied;
// streams can outlive the blocking Chat timeout and callers cancel via ctx.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) *ssestream.Stream[openaisdk.ChatCompletionChunk] {
	return c.api.Chat.Completions.NewStreaming(ctx, c.params(req), c.callOptions()...)
}

func (c *Client) params(req ChatRequest) openaisdk.ChatCompletionNewParams {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openaisdk.SystemMessage(req.System))
	}
	messages = append(messages, openaisdk.UserMessage(req.User))

	params := openaisdk.ChatCompletionNewParams{
		Messages:    messages,
		Model:       c.Model(),
		Temperature: openaisdk.Float(float64(c.cfg.Temperature)),
	}
	if c.cfg.MaxCompletionToken != nil {
		params.MaxCompletionTokens = openaisdk.Int(int64(*c.cfg.MaxCompletionToken))
	}
	return params
}

func (c *Client) callOptions(opts ...option.RequestOption) []option.RequestOption {
	if OpenRouterReasoningBlacklist[c.Model()] {
		opts = append(opts, option.WithJSONSet("reasoning", map[string]any{
			"exclude": true,
			"effort":  "none",
		}))
	}
	return opts
}
