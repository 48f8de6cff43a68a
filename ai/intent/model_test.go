package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
)

// mockLLM is a test double for llm.Service.
type mockLLM struct {
	chatFunc func(ctx context.Context, messages []llm.Message) (string, *llm.LLMCallStats, error)
}

func (m *mockLLM) Chat(ctx context.Context, messages []llm.Message) (string, *llm.LLMCallStats, error) {
	if m.chatFunc != nil {
		return m.chatFunc(ctx, messages)
	}
	return "CONVERSATION", &llm.LLMCallStats{}, nil
}

func (m *mockLLM) ChatStream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan *llm.LLMCallStats, <-chan error) {
	contentChan := make(chan string)
	statsChan := make(chan *llm.LLMCallStats)
	errChan := make(chan error)
	close(contentChan)
	close(statsChan)
	close(errChan)
	return contentChan, statsChan, errChan
}

func (m *mockLLM) ChatToolStream(ctx context.Context, messages []llm.Message, tools []llm.ToolDescriptor) <-chan llm.StreamEvent {
	events := make(chan llm.StreamEvent)
	close(events)
	return events
}

func (m *mockLLM) Warmup(ctx context.Context) {}

func TestModelClassifier_ToolVerdict(t *testing.T) {
	cases := []struct {
		response  string
		needsTool bool
	}{
		{"TOOL", true},
		{"tool", true},
		{"  TOOL\n", true},
		{"CONVERSATION", false},
		{"I think this is a TOOL request", true},
		{"unclear", false},
		{"", false},
	}

	for _, tc := range cases {
		c := NewModelClassifier(&mockLLM{
			chatFunc: func(context.Context, []llm.Message) (string, *llm.LLMCallStats, error) {
				return tc.response, &llm.LLMCallStats{}, nil
			},
		})

		decision, err := c.Classify(context.Background(), "turn on the light")
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if decision.NeedsTool != tc.needsTool {
			t.Errorf("response %q: NeedsTool = %v, want %v", tc.response, decision.NeedsTool, tc.needsTool)
		}
		if decision.Method != MethodModel {
			t.Errorf("Method = %q, want %q", decision.Method, MethodModel)
		}
	}
}

func TestModelClassifier_FailsOpenOnError(t *testing.T) {
	c := NewModelClassifier(&mockLLM{
		chatFunc: func(context.Context, []llm.Message) (string, *llm.LLMCallStats, error) {
			return "", nil, errors.New("provider down")
		},
	})

	decision, err := c.Classify(context.Background(), "turn on the light")
	if err != nil {
		t.Fatalf("Classify() must not propagate provider errors, got %v", err)
	}
	if decision.NeedsTool {
		t.Error("classifier failure must default to the conversational path")
	}
}

func TestModelClassifier_SendsClassificationPrompt(t *testing.T) {
	var gotSystem string
	c := NewModelClassifier(&mockLLM{
		chatFunc: func(_ context.Context, messages []llm.Message) (string, *llm.LLMCallStats, error) {
			if len(messages) > 0 && messages[0].Role == "system" {
				gotSystem = messages[0].Content
			}
			return "CONVERSATION", &llm.LLMCallStats{}, nil
		},
	})

	if _, err := c.Classify(context.Background(), "hello"); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if gotSystem == "" {
		t.Fatal("classification system prompt was not sent")
	}
}
