package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openassist/actionflow/engine"
	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/collect"
	"github.com/openassist/actionflow/engine/executor"
	"github.com/openassist/actionflow/engine/keyword"
	"github.com/openassist/actionflow/engine/llm"
	"github.com/openassist/actionflow/engine/metrics"
	"github.com/openassist/actionflow/engine/routing"
	"github.com/openassist/actionflow/internal/profile"
	"github.com/openassist/actionflow/internal/version"
	"github.com/openassist/actionflow/server"
	"github.com/openassist/actionflow/store"
	"github.com/openassist/actionflow/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "actionflow",
	Short: `An intent routing and plan execution engine for conversational assistants.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		if !isRunningAsSystemdService() {
			// Try to load .env file from current directory (ignore error if file doesn't exist)
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

		ctx, cancel := context.WithCancel(context.Background())
		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			cancel()
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver)
		if err := storeInstance.Migrate(ctx); err != nil {
			cancel()
			slog.Error("failed to migrate", "error", err)
			return
		}

		eng, exporter, err := buildEngine(ctx, instanceProfile, storeInstance)
		if err != nil {
			cancel()
			slog.Error("failed to build engine", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, eng, exporter)
		if err != nil {
			cancel()
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM.
		// The default signal sent by the `kill` command is SIGTERM,
		// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			slog.Error("failed to start server", "error", err)
			cancel()
		}

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		// Wait for CTRL-C.
		<-ctx.Done()
	},
}

// buildEngine assembles the routing and execution pipeline from the profile.
// Step executors are registered by embedding applications through the
// returned engine's registry; the server binary only hosts the pipeline.
func buildEngine(ctx context.Context, instanceProfile *profile.Profile, storeInstance *store.Store) (*engine.Engine, *metrics.Exporter, error) {
	cat := catalog.NewMemoryCatalog()
	index := keyword.NewIndex()
	registry := executor.NewRegistry()
	exporter := metrics.NewExporter(metrics.DefaultConfig())

	var completion llm.CompletionService
	if instanceProfile.IsAIEnabled() {
		completionService, err := llm.NewService(&llm.Config{
			Provider: instanceProfile.LLMProvider,
			APIKey:   instanceProfile.LLMAPIKey,
			BaseURL:  instanceProfile.LLMBaseURL,
			Model:    instanceProfile.LLMModel,
			Timeout:  instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Warn("failed to initialize LLM service, slot filling degrades to verbatim assignment", "error", err)
		} else {
			completion = completionService
			slog.Info("LLM service initialized",
				"provider", instanceProfile.LLMProvider,
				"model", instanceProfile.LLMModel,
			)
		}

		// Semantic matching needs both an embedder and pgvector.
		if instanceProfile.Driver == "postgres" {
			embedder, err := llm.NewEmbedder(&llm.EmbeddingConfig{
				APIKey:     instanceProfile.EmbeddingAPIKey,
				BaseURL:    instanceProfile.EmbeddingBaseURL,
				Model:      instanceProfile.EmbeddingModel,
				Dimensions: instanceProfile.EmbeddingDimensions,
			})
			if err != nil {
				slog.Warn("failed to initialize embedder, semantic matching disabled", "error", err)
			} else {
				cat.SetSemanticMatcher(store.NewSemanticMatcher(storeInstance, cat, embedder, instanceProfile.EmbeddingModel))
			}
		}
	}

	eng, err := engine.New(engine.Options{
		Catalog:      cat,
		Index:        index,
		Registry:     registry,
		SessionStore: store.NewSessionStore(storeInstance),
		PlanStore:    store.NewPlanStore(storeInstance),
		Completion:   completion,
		Metrics:      exporter,
		Router: routing.Config{
			DirectExecuteThreshold: instanceProfile.DirectExecuteThreshold,
			HintThreshold:          instanceProfile.HintThreshold,
			EnableCache:            true,
		},
		Collector: collect.Config{
			RequireConfirm: instanceProfile.RequireConfirm,
		},
		Executor: executor.DefaultConfig(),
	})
	if err != nil {
		return nil, nil, err
	}

	// Hydrate the catalog and keyword index from stored definitions.
	actions, err := storeInstance.LoadActionDefinitions(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, action := range actions {
		if err := eng.RegisterAction(action); err != nil {
			slog.Warn("skipping stored action", "action_id", action.ID, "error", err)
		}
	}
	slog.Info("action catalog loaded", "count", len(actions))

	go eng.Warmup(context.Background())

	return eng, exporter, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 28091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28091, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("actionflow")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("ActionFlow %s started successfully!\n", profile.Version)
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

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	// Check if invoked by systemd (environment variables set by systemd)
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
