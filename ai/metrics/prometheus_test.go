package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExporterRecorders(t *testing.T) {
	exporter := NewExporter(DefaultConfig())

	t.Run("RecordTurn", func(t *testing.T) {
		exporter.RecordTurn("conversation", 100*time.Millisecond, true)
		exporter.RecordTurn("tool", 2*time.Second, true)
		exporter.RecordTurn("tool", 5*time.Second, false)

		done := exporter.TurnStarted()
		done()
	})

	t.Run("RecordIntentDecision", func(t *testing.T) {
		exporter.RecordIntentDecision("keyword", true)
		exporter.RecordIntentDecision("model", false)
	})

	t.Run("RecordToolCall", func(t *testing.T) {
		exporter.RecordToolCall("GetLiveContext", 50*time.Millisecond, true)
		exporter.RecordToolCall("HassTurnOn", 120*time.Millisecond, false)
	})

	t.Run("RecordRetryCounters", func(t *testing.T) {
		exporter.RecordRetries(3)
		exporter.RecordExhaustion()
		exporter.RecordFollowUp()
		exporter.RecordInterrupt()
	})

	t.Run("RecordLLM", func(t *testing.T) {
		exporter.RecordLLMTokens("tool", 100, 50)
		exporter.RecordLLMTokens("conversation", 300, 120)
		exporter.RecordLLMLatency("tool", "ollama", 500*time.Millisecond)
	})
}

func TestExporterHandler(t *testing.T) {
	exporter := NewExporter(DefaultConfig())

	exporter.RecordTurn("tool", 100*time.Millisecond, true)
	exporter.RecordToolCall("HassTurnOn", 50*time.Millisecond, true)
	exporter.RecordIntentDecision("keyword", true)
	exporter.RecordLLMTokens("tool", 100, 50)
	exporter.RecordRetries(1)

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, metric := range []string{
		"vocalis_core_turns_total",
		"vocalis_core_tool_calls_total",
		"vocalis_core_intent_decisions_total",
		"vocalis_core_llm_tokens_total",
		"vocalis_core_tool_retries_total",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("expected %s in output", metric)
		}
	}
}

func TestExporterDefaultsWhenConfigEmpty(t *testing.T) {
	exporter := NewExporter(Config{})
	exporter.RecordTurn("conversation", 50*time.Millisecond, true)

	req := httptest.NewRequest("GET", "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}
