package profile

import (
	"os"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"tool model provider defaults to ollama", "ollama", profile.ToolModel.Provider},
		{"tool model base URL from provider defaults", "http://localhost:11434/v1", profile.ToolModel.BaseURL},
		{"tool model name from provider defaults", "llama3.1", profile.ToolModel.Model},
		{"conversation model provider defaults to ollama", "ollama", profile.ConversationModel.Provider},
		{"intent strategy defaults to keyword", "keyword", profile.IntentStrategy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if !profile.EnableAcknowledgment {
		t.Error("acknowledgment should be enabled by default")
	}
	if profile.MaxToolRetries != 5 {
		t.Errorf("expected default retry budget 5, got %d", profile.MaxToolRetries)
	}
	if len(profile.IntentKeywords) != 0 {
		t.Errorf("expected no keyword overrides, got %v", profile.IntentKeywords)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "tool model provider",
			envVar:   "VOCALIS_TOOL_MODEL_PROVIDER",
			envValue: "deepseek",
			field:    func(p *Profile) string { return p.ToolModel.Provider },
			expected: "deepseek",
		},
		{
			name:     "tool model API key",
			envVar:   "VOCALIS_TOOL_MODEL_API_KEY",
			envValue: "test-tool-key",
			field:    func(p *Profile) string { return p.ToolModel.APIKey },
			expected: "test-tool-key",
		},
		{
			name:     "conversation model base URL",
			envVar:   "VOCALIS_CONVERSATION_MODEL_BASE_URL",
			envValue: "https://proxy.example.com/v1",
			field:    func(p *Profile) string { return p.ConversationModel.BaseURL },
			expected: "https://proxy.example.com/v1",
		},
		{
			name:     "intent strategy model",
			envVar:   "VOCALIS_INTENT_STRATEGY",
			envValue: "model",
			field:    func(p *Profile) string { return p.IntentStrategy },
			expected: "model",
		},
		{
			name:     "persona override",
			envVar:   "VOCALIS_PERSONA",
			envValue: "You are a terse assistant.",
			field:    func(p *Profile) string { return p.Persona },
			expected: "You are a terse assistant.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			profile := &Profile{}
			profile.FromEnv()

			actual := tt.field(profile)
			if actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, actual)
			}
		})
	}
}

func TestFromEnvProviderDefaults(t *testing.T) {
	clearEnvVars()
	os.Setenv("VOCALIS_TOOL_MODEL_PROVIDER", "deepseek")
	defer os.Unsetenv("VOCALIS_TOOL_MODEL_PROVIDER")

	profile := &Profile{}
	profile.FromEnv()

	if profile.ToolModel.BaseURL != "https://api.deepseek.com" {
		t.Errorf("expected deepseek base URL, got %q", profile.ToolModel.BaseURL)
	}
	if profile.ToolModel.Model != "deepseek-chat" {
		t.Errorf("expected deepseek-chat model, got %q", profile.ToolModel.Model)
	}
}

func TestFromEnvUnknownProviderFallsBack(t *testing.T) {
	clearEnvVars()
	os.Setenv("VOCALIS_INTENT_MODEL_PROVIDER", "not-a-provider")
	defer os.Unsetenv("VOCALIS_INTENT_MODEL_PROVIDER")

	profile := &Profile{}
	profile.FromEnv()

	if profile.IntentModel.Provider != "ollama" {
		t.Errorf("expected fallback to ollama, got %q", profile.IntentModel.Provider)
	}
}

func TestFromEnvKeywordList(t *testing.T) {
	clearEnvVars()
	os.Setenv("VOCALIS_INTENT_KEYWORDS", "turn on, turn off , weather")
	defer os.Unsetenv("VOCALIS_INTENT_KEYWORDS")

	profile := &Profile{}
	profile.FromEnv()

	want := []string{"turn on", "turn off", "weather"}
	if len(profile.IntentKeywords) != len(want) {
		t.Fatalf("expected %d keywords, got %v", len(want), profile.IntentKeywords)
	}
	for i, kw := range want {
		if profile.IntentKeywords[i] != kw {
			t.Errorf("keyword %d: expected %q, got %q", i, kw, profile.IntentKeywords[i])
		}
	}
}

func TestValidateSQLiteDSN(t *testing.T) {
	dir := t.TempDir()
	profile := &Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: "sqlite",
	}

	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if profile.DSN == "" {
		t.Fatal("expected sqlite DSN to be derived from data dir")
	}
	if profile.MaxToolRetries != 5 {
		t.Errorf("expected retry budget backfilled to 5, got %d", profile.MaxToolRetries)
	}
}

func TestValidateUnknownModeBecomesDemo(t *testing.T) {
	profile := &Profile{
		Mode: "staging",
		Data: t.TempDir(),
	}
	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if profile.Mode != "demo" {
		t.Errorf("expected mode demo, got %q", profile.Mode)
	}
}

func clearEnvVars() {
	for _, role := range []string{"TOOL_MODEL", "CONVERSATION_MODEL", "INTENT_MODEL"} {
		for _, suffix := range []string{"PROVIDER", "MODEL", "API_KEY", "BASE_URL", "TIMEOUT_SECONDS"} {
			os.Unsetenv("VOCALIS_" + role + "_" + suffix)
		}
	}
	for _, key := range []string{
		"VOCALIS_INTENT_STRATEGY",
		"VOCALIS_INTENT_KEYWORDS",
		"VOCALIS_PERSONA",
		"VOCALIS_TOOL_ACKNOWLEDGMENT",
		"VOCALIS_TOOL_MAX_RETRIES",
		"VOCALIS_EXCLUDED_TOOLS",
	} {
		os.Unsetenv(key)
	}
}
