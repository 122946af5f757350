// Package ai is the deep analyzer: it sends changed files to a text-completion
// backend, parses the structured review that comes back and queues work so
// that only one request is in flight at a time.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-resty/resty/v2"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// CompletionRequest is one prompt for one model.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Completion is a model reply. Token counts are zero when the backend does
// not report usage.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Completer is a black-box text-completion backend.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Backend() string
}

// Backend names.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
)

// DefaultOllamaURL is where a local ollama daemon listens.
const DefaultOllamaURL = "http://localhost:11434"

// BackendConfig selects and configures a Completer.
type BackendConfig struct {
	Backend string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewCompleter builds the completer for cfg.Backend.
func NewCompleter(cfg BackendConfig) (Completer, error) {
	switch cfg.Backend {
	case BackendAnthropic, "":
		return NewAnthropicCompleter(cfg)
	case BackendOpenAI:
		return NewOpenAICompleter(cfg)
	case BackendOllama:
		return NewOllamaCompleter(cfg), nil
	}
	return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
}

// AnthropicCompleter talks to the Anthropic Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
}

// NewAnthropicCompleter requires an API key.
func NewAnthropicCompleter(cfg BackendConfig) (*AnthropicCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic backend")
	}
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicCompleter{client: anthropic.NewClient(opts...)}, nil
}

func (c *AnthropicCompleter) Backend() string { return BackendAnthropic }

func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Completion{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// OpenAICompleter talks to any OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	client openai.Client
}

// NewOpenAICompleter requires an API key unless a custom base URL is set.
func NewOpenAICompleter(cfg BackendConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
	}
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAICompleter{client: openai.NewClient(opts...)}, nil
}

func (c *OpenAICompleter) Backend() string { return BackendOpenAI }

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               req.Model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(req.MaxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// OllamaCompleter posts to a local ollama daemon's /api/generate.
type OllamaCompleter struct {
	httpc *resty.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`

	PromptEvalCount int64 `json:"prompt_eval_count,omitempty"`
	EvalCount       int64 `json:"eval_count,omitempty"`
}

// NewOllamaCompleter needs no credentials.
func NewOllamaCompleter(cfg BackendConfig) *OllamaCompleter {
	url := cfg.BaseURL
	if url == "" {
		url = DefaultOllamaURL
	}
	httpc := resty.New()
	httpc.SetBaseURL(strings.TrimRight(url, "/"))
	httpc.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		httpc.SetTimeout(cfg.Timeout)
	}
	return &OllamaCompleter{httpc: httpc}
}

func (c *OllamaCompleter) Backend() string { return BackendOllama }

func (c *OllamaCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	var out ollamaGenerateResponse
	resp, err := c.httpc.R().
		SetContext(ctx).
		SetBody(ollamaGenerateRequest{
			Model:  req.Model,
			Prompt: req.Prompt,
			System: req.System,
			Options: ollamaOptions{
				Temperature: req.Temperature,
				TopP:        req.TopP,
				NumPredict:  req.MaxTokens,
			},
		}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode(), preview(resp.String(), 200))
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", out.Error)
	}
	return &Completion{
		Text:         out.Response,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}, nil
}
