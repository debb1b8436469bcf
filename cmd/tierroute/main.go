package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tierroute/tierroute/internal/backends"
	anthropicbackend "github.com/tierroute/tierroute/internal/backends/anthropic"
	openaibackend "github.com/tierroute/tierroute/internal/backends/openai"
	"github.com/tierroute/tierroute/internal/config"
	"github.com/tierroute/tierroute/internal/routing"
	"github.com/tierroute/tierroute/internal/server"
	"github.com/tierroute/tierroute/internal/state"
	"github.com/tierroute/tierroute/internal/tier"
)

var configPath string

// app bundles the wired components behind every subcommand.
type app struct {
	config    *config.Config
	logger    *logrus.Logger
	metrics   *state.MetricsStore
	cooldowns *state.CooldownRegistry
	lock      *state.LockState
	registry  *backends.Registry
	router    *routing.Router
	prober    *routing.Prober
	creds     []string
}

// newApp loads configuration and wires the stores, backend clients,
// router and prober together.
func newApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	if err := os.MkdirAll(cfg.Router.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	metrics := state.NewMetricsStore(cfg.Router.StateDir, cfg.Router.Window)
	cooldowns := state.NewCooldownRegistry(cfg.Router.StateDir)
	lock := state.NewLockState(cfg.Router.StateDir)

	registry := backends.NewRegistry(logger)
	if cfg.Backends.OpenAI != nil {
		registry.Register("openai", openaibackend.NewClient(cfg.Backends.OpenAI, logger), "gpt-", "o1-", "o3-", "chatgpt-")
	}
	if cfg.Backends.Anthropic != nil {
		registry.Register("anthropic", anthropicbackend.NewClient(cfg.Backends.Anthropic, logger), "claude-")
	}

	creds := cfg.Credentials()

	return &app{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		cooldowns: cooldowns,
		lock:      lock,
		registry:  registry,
		router:    routing.NewRouter(metrics, cooldowns, lock, registry, creds, cfg.Router.Cooldown, logger),
		prober:    routing.NewProber(metrics, registry, creds, cfg.Router.ProbePrompt, logger),
		creds:     creds,
	}, nil
}

// invokeContext applies the configured call timeout, if any.
func (a *app) invokeContext() (context.Context, context.CancelFunc) {
	if a.config.Router.InvokeTimeout > 0 {
		return context.WithTimeout(context.Background(), a.config.Router.InvokeTimeout)
	}
	return context.WithCancel(context.Background())
}

// setupLogger configures the logger based on configuration.
func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "tierroute",
	Short: "Adaptive multi-tier router for LLM backends",
	Long: "tierroute probes remote LLM backends, keeps a rolling window of latency, " +
		"capacity and success observations per backend, buckets backends into " +
		"percentile tiers, and routes prompts to the best available backend with " +
		"cooldown-based failover.",
	SilenceUsage: true,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe all discovered backends and print their tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if len(a.creds) == 0 {
			return routing.ErrNoCredentials
		}

		ctx, cancel := a.invokeContext()
		defer cancel()

		ids, err := a.registry.ListBackends(ctx, a.creds[0])
		if err != nil {
			return fmt.Errorf("backend discovery failed: %w", err)
		}

		fmt.Printf("Probing %d backends...\n", len(ids))
		if err := a.prober.ProbeAll(ctx, ids); err != nil {
			return err
		}

		stats, err := a.metrics.Snapshot()
		if err != nil {
			return err
		}
		assignments := tier.Assign(stats)

		names := make([]string, 0, len(assignments))
		for name := range assignments {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Println("\nRanked backends (fast / quality / balance tiers):")
		for _, name := range names {
			as := assignments[name]
			fmt.Printf("%-45s fast=%s  quality=%s  balance=%s\n", name, as.Fast, as.Quality, as.Balance)
		}
		return nil
	},
}

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Print tier assignments derived from recorded metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		stats, err := a.metrics.Snapshot()
		if err != nil {
			return err
		}
		return printJSON(tier.Assign(stats))
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the recorded probe windows per backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		stats, err := a.metrics.Load()
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var cooldownsCmd = &cobra.Command{
	Use:   "cooldowns",
	Short: "Print active and stale cooldown entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		cooldowns, err := a.cooldowns.Load()
		if err != nil {
			return err
		}
		return printJSON(cooldowns)
	},
}

var routeCmd = &cobra.Command{
	Use:   "route <prompt>",
	Short: "Route a prompt to the best available backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		ctx, cancel := a.invokeContext()
		defer cancel()

		result, err := a.router.Route(ctx, args[0])
		if err != nil {
			return err
		}

		return printJSON(map[string]interface{}{
			"model":      result.Backend,
			"latency":    result.Latency.Seconds(),
			"max_tokens": result.MaxTokens,
			"response":   result.Text,
		})
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock <backend>",
	Short: "Force routing to try the given backend first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.lock.Set(args[0]); err != nil {
			return err
		}
		fmt.Printf("Locked to %s\n", args[0])
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove the manual routing lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.lock.Clear(); err != nil {
			return err
		}
		fmt.Println("Unlocked")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP routing server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		srv := server.NewServer(a.router, a.prober, a.registry,
			a.metrics, a.cooldowns, a.lock, a.creds,
			&server.Config{
				Port:          a.config.Server.Port,
				ReadTimeout:   a.config.Server.ReadTimeout,
				WriteTimeout:  a.config.Server.WriteTimeout,
				InvokeTimeout: a.config.Router.InvokeTimeout,
			}, a.logger)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		serverErrors := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil {
				serverErrors <- err
			}
		}()

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case sig := <-sigChan:
			a.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.AddCommand(probeCmd, tiersCmd, metricsCmd, cooldownsCmd, routeCmd, lockCmd, unlockCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
