package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Defaults for the hosted DeepSeek endpoint, which speaks the OpenAI
// chat completions protocol.
const (
	DefaultBaseURL = "https://api.deepseek.com/v1"
	DefaultModel   = "deepseek-chat"
)

// OpenAIClient implements Client against any OpenAI-compatible
// chat completions endpoint.
type OpenAIClient struct {
	model       openaiModel
	modelName   string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// openaiModel is the part of *openai.LLM the client uses.
type openaiModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type openaiConfig struct {
	token       string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	httpClient  *http.Client
}

// OpenAIOption configures OpenAIClient.
type OpenAIOption func(*openaiConfig)

// WithToken sets the API key.
func WithToken(token string) OpenAIOption {
	return func(c *openaiConfig) { c.token = token }
}

// WithBaseURL sets the API base URL (up to but excluding /chat/completions).
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) { c.baseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) OpenAIOption {
	return func(c *openaiConfig) { c.model = model }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) OpenAIOption {
	return func(c *openaiConfig) { c.temperature = t }
}

// WithMaxTokens sets the default completion token limit.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *openaiConfig) { c.maxTokens = n }
}

// WithTimeout bounds each Complete call.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *openaiConfig) { c.httpClient = client }
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// The token is required.
func NewOpenAIClient(opts ...OpenAIOption) (*OpenAIClient, error) {
	cfg := openaiConfig{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		timeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.token == "" {
		return nil, NewError("init", errors.New("API key is not set"), false)
	}

	lcOpts := []openai.Option{
		openai.WithToken(cfg.token),
		openai.WithBaseURL(strings.TrimRight(cfg.baseURL, "/")),
		openai.WithModel(cfg.model),
	}
	if cfg.httpClient != nil {
		lcOpts = append(lcOpts, openai.WithHTTPClient(cfg.httpClient))
	}

	model, err := openai.New(lcOpts...)
	if err != nil {
		return nil, NewError("init", err, false)
	}

	return &OpenAIClient{
		model:       model,
		modelName:   cfg.model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
		timeout:     cfg.timeout,
	}, nil
}

// Model returns the default model name.
func (c *OpenAIClient) Model() string {
	return c.modelName
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.model.GenerateContent(ctx, buildMessages(req), c.callOptions(req)...)
	if err != nil {
		if ctx.Err() != nil {
			// A per-call deadline is worth retrying; caller cancellation is not.
			return nil, NewError("complete", err, errors.Is(ctx.Err(), context.DeadlineExceeded))
		}
		return nil, NewError("complete", err, isRetryableError(err.Error()))
	}

	if len(resp.Choices) == 0 {
		return nil, NewError("complete", errors.New("response has no choices"), true)
	}

	choice := resp.Choices[0]
	model := c.modelName
	if req.Model != "" {
		model = req.Model
	}

	return &CompletionResponse{
		Content:      strings.TrimSpace(choice.Content),
		Usage:        usageFromGenerationInfo(choice.GenerationInfo),
		Model:        model,
		FinishReason: choice.StopReason,
		Duration:     time.Since(start),
	}, nil
}

// callOptions merges request settings over client defaults.
func (c *OpenAIClient) callOptions(req CompletionRequest) []llms.CallOption {
	temperature := c.temperature
	if req.Temperature != 0 {
		temperature = req.Temperature
	}
	opts := []llms.CallOption{llms.WithTemperature(temperature)}

	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	return opts
}

// buildMessages converts a request into chat messages.
func buildMessages(req CompletionRequest) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msgs = append(msgs, llms.TextParts(messageType(m.Role), m.Content))
	}
	return msgs
}

func messageType(role Role) llms.ChatMessageType {
	switch role {
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// usageFromGenerationInfo reads the token counts the openai provider
// reports in GenerationInfo.
func usageFromGenerationInfo(info map[string]any) TokenUsage {
	usage := TokenUsage{
		InputTokens:  intValue(info["PromptTokens"]),
		OutputTokens: intValue(info["CompletionTokens"]),
		TotalTokens:  intValue(info["TotalTokens"]),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// isRetryableError checks if an error message indicates a transient error.
func isRetryableError(errMsg string) bool {
	errLower := strings.ToLower(errMsg)
	for _, marker := range []string{
		"rate limit", "timeout", "overloaded", "connection reset", "connection refused", "eof",
		"status code: 429", "status code: 500", "status code: 502", "status code: 503", "status code: 504",
	} {
		if strings.Contains(errLower, marker) {
			return true
		}
	}
	return false
}

// String describes the client for logs.
func (c *OpenAIClient) String() string {
	return fmt.Sprintf("openai-compatible(%s)", c.modelName)
}
