package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/thinkscotty/artichat/internal/config"
	"github.com/thinkscotty/artichat/internal/database"
	"github.com/thinkscotty/artichat/internal/metrics"
	"github.com/thinkscotty/artichat/internal/pipeline"
	"github.com/thinkscotty/artichat/internal/session"
)

var (
	version   = "dev"
	buildTime = "unknown"
	// trialKey may be set at build time with -ldflags "-X main.trialKey=...".
	trialKey = ""
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:           "artichat",
	Short:         "Chat with an AI that answers in text or pictures",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(cfg.Logging.Level)})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	rootCmd.SetVersionTemplate(fmt.Sprintf("artichat %s (built %s)\n", version, buildTime))

	rootCmd.AddCommand(serveCmd, chatCmd, historyCmd, clearCmd, trialCmd, settingsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// fallbackKey prefers the environment over the build-time key.
func fallbackKey() string {
	if cfg.Trial.FallbackKeyEnv != "" {
		if k := os.Getenv(cfg.Trial.FallbackKeyEnv); k != "" {
			return k
		}
	}
	return trialKey
}

// openSession builds the controller over the configured storage. The caller
// closes the returned KV after the controller.
func openSession(hooks pipeline.Hooks, m *metrics.Exporter) (*session.Controller, database.KV, error) {
	kv, err := database.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	slog.Info("Storage opened", "driver", cfg.Storage.Driver, "path", cfg.Storage.Path)

	return session.New(cfg, kv, fallbackKey(), hooks, m), kv, nil
}
