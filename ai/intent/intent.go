// Package intent classifies user turns as conversational or tool-requiring.
// Two interchangeable strategies implement the same contract: lexical keyword
// matching (no model call) and model-based classification. The strategy is a
// static configuration choice, never a runtime fallback between the two.
package intent

import "context"

// Method identifies which classification strategy produced a decision.
type Method string

const (
	MethodKeyword Method = "keyword"
	MethodModel   Method = "model"
)

// Decision is the outcome of classifying one user turn. It is transient and
// retained only for diagnostics.
type Decision struct {
	NeedsTool bool
	Method    Method

	// MatchedKeywords holds the trigger words that fired (keyword strategy).
	MatchedKeywords []string

	// Verdict holds the raw classifier response (model strategy).
	Verdict string
}

// Classifier decides whether a user turn needs tool use.
type Classifier interface {
	Classify(ctx context.Context, userText string) (Decision, error)
}
