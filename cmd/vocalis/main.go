package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vocalis-ai/vocalis/ai/agent"
	"github.com/vocalis-ai/vocalis/ai/core/llm"
	"github.com/vocalis-ai/vocalis/ai/events"
	"github.com/vocalis-ai/vocalis/ai/intent"
	"github.com/vocalis-ai/vocalis/ai/metrics"
	"github.com/vocalis-ai/vocalis/ai/tools"
	"github.com/vocalis-ai/vocalis/internal/profile"
	"github.com/vocalis-ai/vocalis/internal/version"
	"github.com/vocalis-ai/vocalis/server"
	"github.com/vocalis-ai/vocalis/store"
	"github.com/vocalis-ai/vocalis/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "vocalis",
	Short: `A dual-model voice assistant backend: intent routing, validated tool calls, and streamed responses.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution (not when running as
		// a systemd service, which gets its environment from the unit file).
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		if instanceProfile.IsDev() {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}

		ctx, cancel := context.WithCancel(context.Background())
		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			cancel()
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			cancel()
			slog.Error("failed to migrate", "error", err)
			return
		}

		exporter := metrics.NewExporter(metrics.DefaultConfig())

		factory, warmup, err := newAgentFactory(instanceProfile, storeInstance, exporter)
		if err != nil {
			cancel()
			slog.Error("failed to build agent factory", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, exporter, factory)
		if err != nil {
			cancel()
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM. SIGTERM is the
		// graceful shutdown signal for most process managers.
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			cancel()
			slog.Error("failed to start server", "error", err)
			return
		}

		// Best effort: pre-establish provider connections so the first turn
		// does not pay the handshake cost.
		go func() {
			warmupCtx, warmupCancel := context.WithTimeout(ctx, 10*time.Second)
			defer warmupCancel()
			warmup(warmupCtx)
		}()

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		<-ctx.Done()
	},
}

// newAgentFactory wires the model services, classifier, tool registry, and
// orchestrator once; the returned factory builds one agent per session over
// that shared core.
func newAgentFactory(p *profile.Profile, st *store.Store, exporter *metrics.Exporter) (server.AgentFactory, func(context.Context), error) {
	toolModel, err := llm.NewService(&llm.Config{
		Provider: p.ToolModel.Provider,
		Model:    p.ToolModel.Model,
		APIKey:   p.ToolModel.APIKey,
		BaseURL:  p.ToolModel.BaseURL,
		Timeout:  p.ToolModel.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("tool model: %w", err)
	}
	convModel, err := llm.NewService(&llm.Config{
		Provider: p.ConversationModel.Provider,
		Model:    p.ConversationModel.Model,
		APIKey:   p.ConversationModel.APIKey,
		BaseURL:  p.ConversationModel.BaseURL,
		Timeout:  p.ConversationModel.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("conversation model: %w", err)
	}

	var classifier intent.Classifier
	switch p.IntentStrategy {
	case "model":
		intentModel, err := llm.NewService(&llm.Config{
			Provider: p.IntentModel.Provider,
			Model:    p.IntentModel.Model,
			APIKey:   p.IntentModel.APIKey,
			BaseURL:  p.IntentModel.BaseURL,
			Timeout:  p.IntentModel.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("intent model: %w", err)
		}
		classifier = intent.NewModelClassifier(intentModel)
	default:
		classifier = intent.NewKeywordClassifier(p.IntentKeywords)
	}

	executor := tools.NewRegistryExecutor(map[string]tools.Handler{
		"get_current_time": tools.HandleGetCurrentTime,
		"convert_time":     tools.HandleConvertTime,
	})
	descriptors := tools.TimeToolDescriptors()
	if p.ToolBridgeURL != "" {
		bridged := tools.BridgeToolDescriptors()
		names := make([]string, len(bridged))
		for i, d := range bridged {
			names[i] = d.Name
		}
		tools.NewBridge(p.ToolBridgeURL).RegisterAll(executor, names)
		descriptors = append(descriptors, bridged...)
		slog.Info("tool bridge enabled", "url", p.ToolBridgeURL, "tools", len(bridged))
	} else {
		slog.Info("no tool bridge configured, serving clock tools only")
	}

	catalog := tools.NewCatalog(descriptors, p.ExcludedTools)
	orch := agent.NewOrchestrator(tools.NewValidator(), executor, toolModel,
		agent.WithMaxRetries(p.MaxToolRetries),
		agent.WithEventCallback(events.WrapSafe(orchestrationRecorder(exporter, p.ToolModel.Provider))))

	factory := func(ctx context.Context, sessionID string) (server.ChatAgent, error) {
		return agent.New(ctx, agent.Config{
			Classifier:           classifier,
			ConversationModel:    convModel,
			ToolModel:            toolModel,
			Orchestrator:         orch,
			Catalog:              catalog,
			Persona:              p.Persona,
			EnableAcknowledgment: p.EnableAcknowledgment,
			Store:                st,
			SessionID:            sessionID,
		})
	}
	warmup := func(ctx context.Context) {
		toolModel.Warmup(ctx)
		convModel.Warmup(ctx)
	}
	return factory, warmup, nil
}

// orchestrationRecorder feeds tool-phase events into the metrics exporter:
// per-tool call outcomes, spent retries, follow-up actions, and tool-model
// call latency.
func orchestrationRecorder(exporter *metrics.Exporter, toolProvider string) events.Callback {
	return func(eventType string, data any) error {
		switch eventType {
		case events.TypeToolProgress:
			u, ok := data.(tools.Update)
			if ok && u.Status != tools.ProgressRunning {
				exporter.RecordToolCall(u.ToolName, u.Duration, u.Status == tools.ProgressDone)
			}
		case events.TypeToolRetry:
			exporter.RecordRetries(1)
		case events.TypeToolFollowUp:
			exporter.RecordFollowUp()
		case events.TypeModelCall:
			if stats, ok := data.(*llm.LLMCallStats); ok && stats != nil {
				exporter.RecordLLMLatency("tool", toolProvider,
					time.Duration(stats.TotalDurationMs)*time.Millisecond)
			}
		}
		return nil
	}
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("vocalis")
	viper.AutomaticEnv()
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Vocalis %s started successfully!\n", profile.Version)
	fmt.Printf("Build: %s\n", version.StringFull())

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
