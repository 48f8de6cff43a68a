package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ModelProfile is the per-role model configuration. The tool model, the
// conversational model and the intent classifier's model are configured
// independently but share one shape.
type ModelProfile struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  int // seconds
}

// Profile is the configuration to start the server.
type Profile struct {
	// ToolModel emits structured tool calls; accuracy over personality.
	ToolModel ModelProfile

	// ConversationModel produces the user-facing narration.
	ConversationModel ModelProfile

	// IntentModel backs the model-based classifier; small and fast.
	IntentModel ModelProfile

	// IntentStrategy selects the classifier: "keyword" or "model". A static
	// choice, not a runtime fallback.
	IntentStrategy string

	// IntentKeywords overrides the default trigger-word list (comma
	// separated in the environment).
	IntentKeywords []string

	// Persona is the conversational model's base system prompt.
	Persona string

	// EnableAcknowledgment emits a canned phrase before tool execution.
	EnableAcknowledgment bool

	// MaxToolRetries is the retry budget per tool phase.
	MaxToolRetries int

	// ExcludedTools are never advertised to the models.
	ExcludedTools []string

	// ToolBridgeURL is the external tool execution service for device
	// control, live context, and search. Empty serves only the in-process
	// clock tools.
	ToolBridgeURL string

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default configurations, applied when base URL or model are not
// explicitly set.
var providerDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// modelFromEnv loads one model role from its environment prefix, applying
// provider defaults for missing base URL or model name.
func modelFromEnv(prefix, defaultProvider string) ModelProfile {
	m := ModelProfile{
		Provider: getEnvOrDefault(prefix+"_PROVIDER", defaultProvider),
		Model:    getEnvOrDefault(prefix+"_MODEL", ""),
		APIKey:   getEnvOrDefault(prefix+"_API_KEY", ""),
		BaseURL:  getEnvOrDefault(prefix+"_BASE_URL", ""),
		Timeout:  getEnvOrDefaultInt(prefix+"_TIMEOUT_SECONDS", 120),
	}

	defaults, ok := providerDefaults[m.Provider]
	if !ok {
		slog.Warn("unknown model provider, using ollama defaults", "provider", m.Provider)
		m.Provider = "ollama"
		defaults = providerDefaults["ollama"]
	}
	if m.BaseURL == "" {
		m.BaseURL = defaults.BaseURL
	}
	if m.Model == "" {
		m.Model = defaults.Model
	}
	return m
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.ToolModel = modelFromEnv("VOCALIS_TOOL_MODEL", "ollama")
	p.ConversationModel = modelFromEnv("VOCALIS_CONVERSATION_MODEL", "ollama")
	p.IntentModel = modelFromEnv("VOCALIS_INTENT_MODEL", "ollama")

	p.IntentStrategy = getEnvOrDefault("VOCALIS_INTENT_STRATEGY", "keyword")
	if p.IntentStrategy != "keyword" && p.IntentStrategy != "model" {
		slog.Warn("unknown intent strategy, using keyword", "strategy", p.IntentStrategy)
		p.IntentStrategy = "keyword"
	}
	p.IntentKeywords = getEnvList("VOCALIS_INTENT_KEYWORDS")

	p.Persona = getEnvOrDefault("VOCALIS_PERSONA",
		"You are a friendly voice assistant. Keep replies short and conversational.")
	p.EnableAcknowledgment = getEnvOrDefault("VOCALIS_TOOL_ACKNOWLEDGMENT", "true") == "true"
	p.MaxToolRetries = getEnvOrDefaultInt("VOCALIS_TOOL_MAX_RETRIES", 5)
	p.ExcludedTools = getEnvList("VOCALIS_EXCLUDED_TOOLS")
	p.ToolBridgeURL = getEnvOrDefault("VOCALIS_TOOL_BRIDGE_URL", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "vocalis")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/vocalis"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("vocalis_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.MaxToolRetries <= 0 {
		p.MaxToolRetries = 5
	}

	return nil
}
