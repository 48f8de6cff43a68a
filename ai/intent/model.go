package intent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vocalis-ai/vocalis/ai/core/llm"
)

// classificationPrompt is the fixed system prompt for the binary
// CONVERSATION/TOOL taxonomy. The worked examples disambiguate phrases where
// the same surface word carries two meanings ("time" as a duration concept
// versus a clock-time request, "weather" versus abstract small talk).
const classificationPrompt = `Classify input as CONVERSATION or TOOL.

CONVERSATION = chat, greetings, questions about me, stories, jokes, general knowledge already known
TOOL = actions requiring external tools:
  - Control smart home devices (lights, switches, temperature)
  - Search web for current information (weather, news, facts)
  - Check current time/date
  - Get live data not in my knowledge

CRITICAL DISAMBIGUATION:

"time" has TWO different meanings - pay attention to context!

1. "time" = DURATION CONCEPT (not clock time) -> Usually CONVERSATION
   - "how much time does it take" -> CONVERSATION
   - "I have free time" -> CONVERSATION
   - "a long time ago" -> CONVERSATION

2. CLOCK TIME queries -> TOOL
   - "what time is it" -> TOOL
   - "tell me the time" -> TOOL
   - "what's the current time in Tokyo" -> TOOL

3. WEATHER queries -> TOOL (web search, not clock time!)
   - "what's the weather like" -> TOOL
   - "weather in Rome" -> TOOL
   - "will it rain tomorrow" -> TOOL

RULE: "what time" or "current time" -> TOOL (time check)
RULE: "weather" or "forecast" with a place or day -> TOOL (weather search)

Examples:

"hello"
CONVERSATION

"how are you?"
CONVERSATION

"thanks"
CONVERSATION

"tell me a story"
CONVERSATION

"who are you?"
CONVERSATION

"tell me a joke"
CONVERSATION

"what is Python?" (general knowledge)
CONVERSATION

"how much time does it take?" (abstract time concept)
CONVERSATION

"turn on the light"
TOOL

"switch off the bedroom lamp"
TOOL

"what time is it" (CLOCK time)
TOOL

"what day is it today"
TOOL

"living room temperature"
TOOL

"search weather in Milan"
TOOL

"what's the weather like" (WEATHER, not time!)
TOOL

"weather forecast for tomorrow"
TOOL

"search for news"
TOOL

"find information about"
TOOL

DEFAULT: If unsure -> CONVERSATION`

// ModelClassifier issues a single non-streaming classification completion
// against a small, fast model. An unparsable or unexpected response defaults
// to CONVERSATION: failing open routes to the cheaper path.
type ModelClassifier struct {
	llm llm.Service
}

// NewModelClassifier creates a model-backed intent classifier.
func NewModelClassifier(svc llm.Service) *ModelClassifier {
	slog.Info("intent: model-based classification initialized")
	return &ModelClassifier{llm: svc}
}

// Classify sends the user text to the classification model and checks the
// response for the literal token "TOOL", case-insensitively.
func (c *ModelClassifier) Classify(ctx context.Context, userText string) (Decision, error) {
	slog.Debug("intent: classifying", "text", userText)

	messages := []llm.Message{
		llm.SystemPrompt(classificationPrompt),
		llm.UserMessage(userText),
	}

	response, _, err := c.llm.Chat(ctx, messages)
	if err != nil {
		// Fail open toward conversation; classification must never block a turn.
		slog.Warn("intent: classification call failed, defaulting to conversation", "error", err)
		return Decision{NeedsTool: false, Method: MethodModel, Verdict: ""}, nil
	}

	verdict := strings.ToUpper(strings.TrimSpace(response))
	needsTool := strings.Contains(verdict, "TOOL")

	if needsTool {
		slog.Info("intent: classified as TOOL", "text", userText)
	} else {
		slog.Debug("intent: classified as CONVERSATION", "text", userText)
	}

	return Decision{NeedsTool: needsTool, Method: MethodModel, Verdict: verdict}, nil
}
