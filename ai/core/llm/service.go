// Package llm provides the model client used by the orchestration core.
// Every provider speaks the OpenAI-compatible chat protocol through a single
// Service interface, so the orchestration logic never inspects provider types.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCallID string     // set when Role == "tool": the call this result answers
	ToolCalls  []ToolCall // set on assistant messages that requested tool calls
}

// LLMCallStats represents statistics for a single model call.
type LLMCallStats struct {
	// PromptTokens is the number of tokens in the input prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the generated response.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the sum of prompt and completion tokens.
	TotalTokens int `json:"total_tokens"`

	// ThinkingDurationMs is the time from request start to first chunk.
	// For non-streaming requests, this is the total request duration.
	ThinkingDurationMs int64 `json:"thinking_duration_ms"`

	// TotalDurationMs is the total wall-clock time for the request.
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// Service is the model client interface. The tool-specialized model, the
// conversational model and the intent classifier's backing model are all
// instances of this interface, selected at construction time.
type Service interface {
	// Chat performs synchronous chat. Returns content, statistics, and error.
	Chat(ctx context.Context, messages []Message) (string, *LLMCallStats, error)

	// ChatStream performs streaming chat without tools. Returns content
	// channel, stats channel, and error channel. The stats channel is closed
	// after sending the final stats when the stream completes.
	ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *LLMCallStats, <-chan error)

	// ChatToolStream performs streaming chat with function calling support.
	// The returned channel carries text deltas interleaved with at most one
	// final tool-call batch, or a tools-unsupported marker for providers that
	// reject the tools parameter. The channel is closed when the stream ends.
	ChatToolStream(ctx context.Context, messages []Message, tools []ToolDescriptor) <-chan StreamEvent

	// Warmup sends a lightweight ping request to establish and warm up the
	// provider connection.
	Warmup(ctx context.Context)
}

// ToolDescriptor represents a function/tool available to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  string // JSON Schema string
}

// ToolCall represents a request to call a tool.
type ToolCall struct {
	ID       string
	Type     string
	Function FunctionCall
}

// FunctionCall represents the function details.
type FunctionCall struct {
	Name      string
	Arguments string
}

// Config represents model service configuration.
type Config struct {
	Provider    string // deepseek, openai, siliconflow, ollama, zai, openrouter
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     int     // Request timeout in seconds (default: 120)
}

type service struct {
	client      *openai.Client
	model       string
	provider    string
	maxTokens   int
	temperature float32
	timeout     int // Request timeout in seconds
}

// NewService creates a new model Service.
func NewService(cfg *Config) (Service, error) {
	var clientConfig openai.ClientConfig

	httpClient := newHTTPClient()

	switch cfg.Provider {
	case "deepseek":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = httpClient

	case "siliconflow":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.siliconflow.cn/v1"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = httpClient

	case "zai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://open.bigmodel.cn/api/paas/v4"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = httpClient

	case "openai":
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		clientConfig.HTTPClient = httpClient

	case "openrouter":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = httpClient

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = httpClient

	default:
		// Generic fallback for any other OpenAI-compatible provider.
		slog.Info("Using generic OpenAI-compatible provider", "provider", cfg.Provider)
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		clientConfig.HTTPClient = httpClient
	}

	client := openai.NewClientWithConfig(clientConfig)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &service{
		client:      client,
		model:       cfg.Model,
		provider:    cfg.Provider,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

func (s *service) Chat(ctx context.Context, messages []Message) (string, *LLMCallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	slog.Debug("LLM: Chat request",
		"model", s.model,
		"messages_count", len(messages),
		"max_tokens", s.maxTokens,
	)

	startTime := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("LLM: Chat request failed", "error", err)
		return "", nil, fmt.Errorf("LLM chat failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("LLM: Empty response from model")
		return "", nil, fmt.Errorf("empty response from LLM")
	}

	totalDuration := time.Since(startTime)

	stats := &LLMCallStats{
		PromptTokens:       resp.Usage.PromptTokens,
		CompletionTokens:   resp.Usage.CompletionTokens,
		TotalTokens:        resp.Usage.TotalTokens,
		ThinkingDurationMs: totalDuration.Milliseconds(),
		TotalDurationMs:    totalDuration.Milliseconds(),
	}

	slog.Debug("LLM: Chat response received",
		"content_length", len(resp.Choices[0].Message.Content),
		"total_tokens", stats.TotalTokens,
		"duration_ms", totalDuration.Milliseconds(),
	)

	return resp.Choices[0].Message.Content, stats, nil
}

func (s *service) ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *LLMCallStats, <-chan error) {
	contentChan := make(chan string, 10)
	statsChan := make(chan *LLMCallStats, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(statsChan)
		defer close(errChan)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:       s.model,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Messages:    convertMessages(messages),
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		}

		startTime := time.Now()
		var firstChunkTime time.Time

		slog.Debug("LLM ChatStream starting", "model", s.model, "messages", len(messages))
		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			slog.Error("LLM ChatStream failed to create", "error", err)
			select {
			case errChan <- fmt.Errorf("create stream failed: %w", err):
			case <-ctx.Done():
			}
			return
		}
		defer func() { _ = stream.Close() }() //nolint:errcheck // cleanup

		chunkCount := 0

		for {
			response, err := stream.Recv()
			if err != nil {
				if strings.Contains(err.Error(), "EOF") {
					statsChan <- streamStats(startTime, firstChunkTime, chunkCount, nil)
					return
				}
				slog.Error("LLM ChatStream receive error", "error", err, "chunks_so_far", chunkCount)
				select {
				case errChan <- fmt.Errorf("stream recv failed: %w", err):
				case <-ctx.Done():
				}
				return
			}

			if firstChunkTime.IsZero() && len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				firstChunkTime = time.Now()
			}

			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				statsChan <- streamStats(startTime, firstChunkTime, chunkCount, response.Usage)
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta.Content
			if delta != "" {
				chunkCount++
				select {
				case contentChan <- delta:
				case <-ctx.Done():
					slog.Warn("LLM ChatStream context cancelled during send", "chunks", chunkCount)
					return
				}
			}

			if response.Choices[0].FinishReason != "" {
				statsChan <- streamStats(startTime, firstChunkTime, chunkCount, nil)
				return
			}
		}
	}()

	return contentChan, statsChan, errChan
}

func (s *service) ChatToolStream(ctx context.Context, messages []Message, tools []ToolDescriptor) <-chan StreamEvent {
	events := make(chan StreamEvent, 10)

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
		defer cancel()

		openaiTools := make([]openai.Tool, len(tools))
		for i, t := range tools {
			openaiTools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  json.RawMessage(t.Parameters),
				},
			}
		}

		// Lower temperature for tool calls keeps argument generation consistent.
		toolCallTemperature := float32(0.1)
		if s.temperature < 0.1 {
			toolCallTemperature = s.temperature
		}

		req := openai.ChatCompletionRequest{
			Model:       s.model,
			MaxTokens:   s.maxTokens,
			Temperature: toolCallTemperature,
			Messages:    convertMessages(messages),
			Tools:       openaiTools,
		}

		startTime := time.Now()
		var firstChunkTime time.Time

		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if isToolsUnsupportedErr(err) {
				slog.Warn("LLM ChatToolStream: provider rejected tools parameter",
					"provider", s.provider, "error", err)
				emit(ctx, events, StreamEvent{Type: EventToolsUnsupported})
				return
			}
			emit(ctx, events, StreamEvent{Type: EventError, Err: fmt.Errorf("create tool stream failed: %w", err)})
			return
		}
		defer func() { _ = stream.Close() }() //nolint:errcheck // cleanup

		// Tool-call fragments arrive as deltas keyed by index; reassemble
		// them into complete calls before emitting the final batch.
		acc := newToolCallAccumulator()
		chunkCount := 0

		for {
			response, err := stream.Recv()
			if err != nil {
				if strings.Contains(err.Error(), "EOF") {
					s.finishToolStream(ctx, events, acc, startTime, firstChunkTime, chunkCount, nil)
					return
				}
				if isToolsUnsupportedErr(err) {
					emit(ctx, events, StreamEvent{Type: EventToolsUnsupported})
					return
				}
				emit(ctx, events, StreamEvent{Type: EventError, Err: fmt.Errorf("tool stream recv failed: %w", err)})
				return
			}

			if response.Usage != nil && response.Usage.TotalTokens > 0 {
				s.finishToolStream(ctx, events, acc, startTime, firstChunkTime, chunkCount, response.Usage)
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]

			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc)
			}

			if choice.Delta.Content != "" {
				if firstChunkTime.IsZero() {
					firstChunkTime = time.Now()
				}
				chunkCount++
				if !emit(ctx, events, StreamEvent{Type: EventTextDelta, Delta: choice.Delta.Content}) {
					return
				}
			}

			if choice.FinishReason != "" {
				s.finishToolStream(ctx, events, acc, startTime, firstChunkTime, chunkCount, nil)
				return
			}
		}
	}()

	return events
}

// finishToolStream emits the assembled tool-call batch (if any) and the
// terminal done event with stats.
func (s *service) finishToolStream(ctx context.Context, events chan<- StreamEvent, acc *toolCallAccumulator, startTime, firstChunkTime time.Time, chunkCount int, usage *openai.Usage) {
	if calls := acc.calls(); len(calls) > 0 {
		slog.Debug("LLM ChatToolStream: tool-call batch assembled", "calls", len(calls))
		if !emit(ctx, events, StreamEvent{Type: EventToolCallBatch, ToolCalls: calls}) {
			return
		}
	}
	emit(ctx, events, StreamEvent{Type: EventDone, Stats: streamStats(startTime, firstChunkTime, chunkCount, usage)})
}

func (s *service) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("LLM: starting connection warmup",
		"provider", s.provider,
		"model", s.model,
	)

	startTime := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   1,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	}

	_, err := s.client.CreateChatCompletion(warmupCtx, req)

	duration := time.Since(startTime)

	if err != nil {
		slog.Warn("LLM: warmup ping failed (service will still work, first request may be slower)",
			"provider", s.provider,
			"model", s.model,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
		return
	}

	slog.Info("LLM: connection warmed up successfully",
		"provider", s.provider,
		"model", s.model,
		"duration_ms", duration.Milliseconds(),
	)
}

func streamStats(startTime, firstChunkTime time.Time, chunkCount int, usage *openai.Usage) *LLMCallStats {
	totalDuration := time.Since(startTime)
	var thinkingMs int64
	if !firstChunkTime.IsZero() {
		thinkingMs = firstChunkTime.Sub(startTime).Milliseconds()
	}
	stats := &LLMCallStats{
		ThinkingDurationMs: thinkingMs,
		TotalDurationMs:    totalDuration.Milliseconds(),
	}
	if usage != nil {
		stats.PromptTokens = usage.PromptTokens
		stats.CompletionTokens = usage.CompletionTokens
		stats.TotalTokens = usage.TotalTokens
	} else {
		stats.TotalTokens = chunkCount * 10 // rough estimate when usage is absent
	}
	return stats
}

// isToolsUnsupportedErr reports whether a provider error means the tools
// parameter is not accepted, as opposed to a transient failure.
func isToolsUnsupportedErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not support tools") ||
		strings.Contains(msg, "tools is not supported") ||
		strings.Contains(msg, "function calling is not supported") ||
		strings.Contains(msg, "tool use is not supported")
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		switch m.Role {
		case "system":
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			}
		case "assistant":
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolType(tc.Type),
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			llmMessages[i] = msg
		case "tool":
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			}
		default:
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			}
		}
	}
	return llmMessages
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Helper for creating system prompts.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// Helper for creating user messages.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// Helper for creating assistant messages.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// ToolMessage creates a tool-result message answering the given call ID.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: toolCallID}
}
