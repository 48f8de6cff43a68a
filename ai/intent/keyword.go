package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// KeywordClassifier matches a configured set of trigger words against the
// lowercased input using whole-word boundaries, so a short device keyword
// never fires inside an unrelated longer word ("fan" in "fantastic").
type KeywordClassifier struct {
	keywords []string
	patterns []*regexp.Regexp
}

// NewKeywordClassifier creates a keyword classifier. An empty keyword list
// falls back to DefaultToolKeywords.
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultToolKeywords()
	}
	patterns := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(kw)) + `\b`)
	}
	return &KeywordClassifier{keywords: keywords, patterns: patterns}
}

// Classify returns true iff any configured keyword matches as a whole word.
// The matched set is retained for diagnostics, not for tool selection.
func (c *KeywordClassifier) Classify(_ context.Context, userText string) (Decision, error) {
	lower := strings.ToLower(userText)

	var matched []string
	for i, p := range c.patterns {
		if p.MatchString(lower) {
			matched = append(matched, c.keywords[i])
		}
	}

	decision := Decision{
		NeedsTool:       len(matched) > 0,
		Method:          MethodKeyword,
		MatchedKeywords: matched,
	}

	if decision.NeedsTool {
		slog.Info("intent: tool intent detected", "matched_keywords", matched)
	} else {
		slog.Debug("intent: conversational intent detected")
	}

	return decision, nil
}

// DefaultToolKeywords returns the default trigger words that suggest tool
// usage: device control verbs and entities, rooms, clock-time phrases, search
// and weather vocabulary.
func DefaultToolKeywords() []string {
	return []string{
		// Device control verbs
		"turn on", "turn off", "switch on", "switch off",
		"activate", "deactivate", "open", "close",
		"increase", "decrease", "set", "adjust", "dim", "brighten",
		// Device entities
		"light", "lights", "lamp", "bulb",
		"temperature", "thermostat", "heating", "air conditioner", "fan",
		"blinds", "shutter", "curtain", "curtains",
		"door", "window", "garage",
		"alarm", "security", "scene", "automation",
		"speaker", "vacuum",
		// Rooms
		"living room", "kitchen", "bedroom", "bathroom", "office", "hallway",
		// Clock time
		"what time", "current time", "time is it", "clock",
		"timer", "reminder", "wake me",
		// Search / info
		"search", "look up", "find", "news", "latest",
		// Weather
		"weather", "forecast", "rain", "sunny", "clouds",
	}
}
