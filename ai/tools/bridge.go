package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Bridge forwards tool calls to an external execution service, typically a
// Home Assistant adapter. The bridge speaks a minimal JSON protocol:
//
//	POST {baseURL}/execute
//	{"tool": "<name>", "arguments": {...}}
//
// and expects {"content": "<result text>"} on success. Non-2xx responses or
// an "error" field become tool failures.
type Bridge struct {
	baseURL string
	client  *http.Client
}

func NewBridge(baseURL string) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type bridgeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

type bridgeResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Handler returns the executor handler for one bridged tool.
func (b *Bridge) Handler(toolName string) Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		payload, err := json.Marshal(bridgeRequest{Tool: toolName, Arguments: args})
		if err != nil {
			return "", fmt.Errorf("failed to encode bridge request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/execute", bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("failed to build bridge request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("bridge request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("failed to read bridge response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}

		var parsed bridgeResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			// Plain-text bridges are accepted as-is.
			return string(bytes.TrimSpace(body)), nil
		}
		if parsed.Error != "" {
			return "", fmt.Errorf("%s", parsed.Error)
		}
		return parsed.Content, nil
	}
}

// RegisterAll registers bridge handlers for every named tool.
func (b *Bridge) RegisterAll(e *RegistryExecutor, toolNames []string) {
	for _, name := range toolNames {
		e.Register(name, b.Handler(name))
	}
}
