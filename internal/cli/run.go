package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every configured instance until interrupted",
	Run:   runAgents,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle of each instance and exit")
	}
	rootCmd.AddCommand(runCmd)
}

func runAgents(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app := newApp(ctx, cfg)

	if runOnce {
		go func() {
			sig := <-sigChan
			slog.Info("Received signal, cancelling cycle...", "signal", sig)
			cancel()
		}()

		summaries, err := app.RunOnce(ctx)
		for name, s := range summaries {
			slog.Info("Cycle summary",
				"instance", name,
				"eligible", s.Eligible,
				"marked", s.Marked,
				"reconciled", s.Reconciled,
				"skipped", s.Skipped,
				"failed", s.Failed,
				"mark_failed", s.MarkFailed,
			)
		}
		stopApp(app)
		if err != nil {
			slog.Error("Cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start pollmark", "error", err)
		stopApp(app)
		os.Exit(1)
	}
	slog.Info("Pollmark started", "config", cfgPath, "instances", len(cfg.Instances))

	done := make(chan error, 1)
	go func() { done <- app.Wait() }()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case runErr = <-done:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	if runErr != nil {
		slog.Error("Pollmark halted", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Pollmark stopped gracefully")
}
