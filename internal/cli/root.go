package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/pollmark/internal/control"
	"github.com/vietddude/pollmark/internal/core/config"
)

var (
	cfgPath   string
	isDebug   bool
	instances []string
)

var rootCmd = &cobra.Command{
	Use:   "pollmark",
	Short: "Poll-filter-process-mark agents",
	Long: `Pollmark polls a record store for rows matching a predicate, runs a side effect
for each one (document evaluation, email, WhatsApp template) and marks the row done.`,
	Run:           runAgents,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringSliceVar(&instances, "instance", nil, "only wire the named instances (repeatable)")
}

// loadConfig reads .env and the config file, then installs the logger.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Logging.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Logging.Level == "error":
		slogLevel = slog.LevelError
	}

	if cfg.Logging.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
	} else {
		stylelog.InitDefault(&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	}

	if len(instances) > 0 {
		var selected []config.InstanceConfig
		for _, name := range instances {
			inst, ok := cfg.Instance(name)
			if !ok {
				slog.Error("Unknown instance", "instance", name)
				os.Exit(1)
			}
			selected = append(selected, inst)
		}
		cfg.Instances = selected
	}
	return cfg
}

// newApp wires the configured instances or exits.
func newApp(ctx context.Context, cfg *config.AppConfig) *control.App {
	app, err := control.NewApp(ctx, cfg, control.Deps{})
	if err != nil {
		slog.Error("Failed to initialize pollmark", "error", err)
		os.Exit(1)
	}
	return app
}

// lookupInstance narrows cfg to one instance and wires it.
func lookupInstance(ctx context.Context, name string) (*control.App, *control.Instance) {
	cfg := loadConfig()
	ic, ok := cfg.Instance(name)
	if !ok {
		slog.Error("Unknown instance", "instance", name)
		os.Exit(1)
	}
	cfg.Instances = []config.InstanceConfig{ic}

	app := newApp(ctx, cfg)
	inst, _ := app.Instance(name)
	return app, inst
}

func stopApp(app *control.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.Stop(ctx); err != nil {
		slog.Warn("Error during shutdown", "error", err)
	}
}
