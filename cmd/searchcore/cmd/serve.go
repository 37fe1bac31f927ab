package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchcore/searchcore/internal/logging"
)

// writerLoopIdleDelay is the fixed interval at which serve calls RunOnce
// (spec §4.11 background writer loop).
const writerLoopIdleDelay = 200 * time.Millisecond

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler's background writer loop as a daemon",
		Long: `serve opens the persisted-state environment and drives the
scheduler's writer loop (spec §4.11): it repeatedly forms a batch from
compatible pending tasks, dispatches it under one write transaction,
and records the resulting statuses, until interrupted.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cleanup, err := logging.SetupDaemonModeWithLevel(levelOrDefault())
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := openApp(dataDir)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("serve starting", slog.String("data_dir", a.cfg.DataDir))

	ticker := time.NewTicker(writerLoopIdleDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("serve stopping")
			return nil
		case <-ticker.C:
			progressed, err := a.sched.RunOnce(ctx)
			if err != nil {
				slog.Error("writer loop iteration failed", slog.String("error", err.Error()))
				continue
			}
			if progressed {
				slog.Debug("writer loop processed a batch")
			}
		}
	}
}

func levelOrDefault() string {
	if debugMode {
		return "debug"
	}
	return "info"
}
