package agent

import (
	"encoding/json"
	"strings"
)

// StreamJSONDetector recovers a tool-call payload embedded in streamed free
// text, for models without structured tool-call support. It is a single-pass
// scanner over incrementally arriving chunks: plain text passes through
// unmodified and in order, while a balanced JSON object or array is buffered
// across chunk boundaries and returned once complete.
//
// A detector serves one turn at a time. Reset it before reuse; it is not safe
// for concurrent turns.
type StreamJSONDetector struct {
	buf      strings.Builder
	depth    int
	inString bool
	escaped  bool
	active   bool
}

// NewStreamJSONDetector creates a detector ready for its first turn.
func NewStreamJSONDetector() *StreamJSONDetector {
	return &StreamJSONDetector{}
}

// Reset clears all scanner state between turns.
func (d *StreamJSONDetector) Reset() {
	d.buf.Reset()
	d.depth = 0
	d.inString = false
	d.escaped = false
	d.active = false
}

// Feed consumes one chunk. It returns the pass-through text (everything
// outside a candidate payload) and, when a balanced payload completed inside
// this chunk, its raw JSON. A balanced run that fails to parse as JSON is not
// a payload: it is returned as pass-through text instead.
func (d *StreamJSONDetector) Feed(chunk string) (text string, payload string) {
	var passthrough strings.Builder

	for _, r := range chunk {
		if !d.active {
			if r == '{' || r == '[' {
				d.active = true
				d.depth = 1
				d.buf.WriteRune(r)
				continue
			}
			passthrough.WriteRune(r)
			continue
		}

		d.buf.WriteRune(r)

		if d.inString {
			switch {
			case d.escaped:
				d.escaped = false
			case r == '\\':
				d.escaped = true
			case r == '"':
				d.inString = false
			}
			continue
		}

		switch r {
		case '"':
			d.inString = true
		case '{', '[':
			d.depth++
		case '}', ']':
			d.depth--
			if d.depth == 0 {
				candidate := d.buf.String()
				d.buf.Reset()
				d.active = false
				if json.Valid([]byte(candidate)) {
					return passthrough.String(), candidate
				}
				// Balanced but not JSON: ordinary text after all.
				passthrough.WriteString(candidate)
			}
		}
	}

	return passthrough.String(), ""
}

// Pending reports whether an unfinished candidate payload is buffered. After
// a stream ends, pending text is not a payload; Flush returns it.
func (d *StreamJSONDetector) Pending() bool {
	return d.active
}

// Flush abandons an unfinished candidate and returns its text, so a stream
// that ended mid-payload loses nothing.
func (d *StreamJSONDetector) Flush() string {
	if !d.active {
		return ""
	}
	text := d.buf.String()
	d.buf.Reset()
	d.active = false
	d.depth = 0
	d.inString = false
	d.escaped = false
	return text
}

// promptPayloadCall is the embedded-JSON convention for a single call:
// {"tool": "...", "arguments": {...}} or {"name": "...", "parameters": {...}}.
type promptPayloadCall struct {
	Tool       string         `json:"tool"`
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Parameters map[string]any `json:"parameters"`
}

func (p promptPayloadCall) toolName() string {
	if p.Tool != "" {
		return p.Tool
	}
	return p.Name
}

func (p promptPayloadCall) args() map[string]any {
	if p.Arguments != nil {
		return p.Arguments
	}
	return p.Parameters
}

// ParsePromptPayload converts a detected payload into call specs. It accepts
// a single call object or an array of them; entries without a tool name are
// skipped.
func ParsePromptPayload(payload string) []PromptCallSpec {
	trimmed := strings.TrimSpace(payload)
	var raw []promptPayloadCall

	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil
		}
	} else {
		var one promptPayloadCall
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil
		}
		raw = []promptPayloadCall{one}
	}

	specs := make([]PromptCallSpec, 0, len(raw))
	for _, entry := range raw {
		name := entry.toolName()
		if name == "" {
			continue
		}
		args := entry.args()
		if args == nil {
			args = map[string]any{}
		}
		argJSON, err := json.Marshal(args)
		if err != nil {
			continue
		}
		specs = append(specs, PromptCallSpec{Name: name, Arguments: string(argJSON)})
	}
	return specs
}

// PromptCallSpec is one call recovered from an embedded payload, before it is
// assigned an ID and wrapped as a prompt-origin call.
type PromptCallSpec struct {
	Name      string
	Arguments string
}
