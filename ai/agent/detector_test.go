package agent

import (
	"strings"
	"testing"
)

func feedAll(d *StreamJSONDetector, chunks []string) (string, string) {
	var text strings.Builder
	var payload string
	for _, c := range chunks {
		t, p := d.Feed(c)
		text.WriteString(t)
		if p != "" {
			payload = p
		}
	}
	text.WriteString(d.Flush())
	return text.String(), payload
}

func TestDetector_PayloadSplitAcrossChunks(t *testing.T) {
	d := NewStreamJSONDetector()

	chunks := []string{
		`{"tool": "Hass`,
		`TurnOn", "argu`,
		`ments": {"name": "Desk `,
		`Lamp", "domain": "light"}}`,
	}
	_, payload := feedAll(d, chunks)

	if payload != `{"tool": "HassTurnOn", "arguments": {"name": "Desk Lamp", "domain": "light"}}` {
		t.Errorf("payload = %q", payload)
	}
}

func TestDetector_TextPassesThroughInOrder(t *testing.T) {
	d := NewStreamJSONDetector()

	text, payload := feedAll(d, []string{"hello ", "there, ", "general"})
	if payload != "" {
		t.Errorf("unexpected payload %q", payload)
	}
	if text != "hello there, general" {
		t.Errorf("text = %q", text)
	}
}

func TestDetector_TextAroundPayload(t *testing.T) {
	d := NewStreamJSONDetector()

	text, payload := feedAll(d, []string{`Sure! {"tool":"search","arguments":{"query":"news"}}`})
	if payload == "" {
		t.Fatal("embedded payload not detected")
	}
	if text != "Sure! " {
		t.Errorf("pass-through text = %q", text)
	}
}

func TestDetector_BracesInsideStrings(t *testing.T) {
	d := NewStreamJSONDetector()

	_, payload := feedAll(d, []string{`{"tool":"search","arguments":{"query":"use {braces} and \"quotes\""}}`})
	if payload == "" {
		t.Fatal("payload with braces inside a string value not detected")
	}
}

func TestDetector_BalancedNonJSONIsText(t *testing.T) {
	d := NewStreamJSONDetector()

	text, payload := feedAll(d, []string{`{not valid json}`})
	if payload != "" {
		t.Errorf("non-JSON balanced run reported as payload: %q", payload)
	}
	if text != `{not valid json}` {
		t.Errorf("text = %q", text)
	}
}

func TestDetector_UnfinishedPayloadFlushes(t *testing.T) {
	d := NewStreamJSONDetector()

	_, payload := d.Feed(`{"tool": "sear`)
	if payload != "" {
		t.Errorf("unfinished payload reported: %q", payload)
	}
	if !d.Pending() {
		t.Error("detector should report a pending candidate")
	}
	if got := d.Flush(); got != `{"tool": "sear` {
		t.Errorf("Flush() = %q", got)
	}
}

func TestDetector_ResetYieldsIdenticalResults(t *testing.T) {
	d := NewStreamJSONDetector()
	chunks := []string{`leading `, `{"tool":"get_current_time",`, `"arguments":{}}`, ` trailing`}

	text1, payload1 := feedAll(d, chunks)
	d.Reset()
	text2, payload2 := feedAll(d, chunks)

	if text1 != text2 || payload1 != payload2 {
		t.Errorf("reset detector diverged: (%q,%q) vs (%q,%q)", text1, payload1, text2, payload2)
	}
	if payload1 == "" {
		t.Error("payload not detected")
	}
}

func TestParsePromptPayload_SingleAndArray(t *testing.T) {
	specs := ParsePromptPayload(`{"tool":"HassTurnOn","arguments":{"name":"WLED"}}`)
	if len(specs) != 1 || specs[0].Name != "HassTurnOn" {
		t.Fatalf("specs = %v", specs)
	}
	if !strings.Contains(specs[0].Arguments, `"WLED"`) {
		t.Errorf("arguments = %q", specs[0].Arguments)
	}

	specs = ParsePromptPayload(`[{"name":"GetLiveContext","parameters":{}},{"tool":"search","arguments":{"query":"x"}}]`)
	if len(specs) != 2 {
		t.Fatalf("specs = %v", specs)
	}
	if specs[0].Name != "GetLiveContext" || specs[1].Name != "search" {
		t.Errorf("names = %q, %q", specs[0].Name, specs[1].Name)
	}
}

func TestParsePromptPayload_SkipsNameless(t *testing.T) {
	specs := ParsePromptPayload(`{"arguments":{"query":"x"}}`)
	if len(specs) != 0 {
		t.Errorf("nameless entry not skipped: %v", specs)
	}
	if specs := ParsePromptPayload(`not json`); specs != nil {
		t.Errorf("invalid payload parsed: %v", specs)
	}
}
