package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/idlewatch/internal/runner"
	"github.com/amishk599/idlewatch/internal/scheduler"
)

var (
	runTaskNames  []string
	runDebugLimit int
	runDryRun     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run tasks once and exit",
	Long:  "Run the selected tasks (all enabled ones by default) a single time, ignoring their intervals.",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringSliceVar(&runTaskNames, "task-name", nil, "task to run; repeatable (default: every enabled task)")
	runCmd.Flags().IntVar(&runDebugLimit, "debug-limit", 0, "stop each task after this many new items (0 = no limit)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "do not write records or run history")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logConfigLoaded(cfg, logger)

	tasks, err := selectTasks(cfg, runTaskNames)
	if err != nil {
		logger.Error("selecting tasks", "error", err)
		return err
	}

	a, err := buildApp(cfg, logger, appOptions{dryRun: runDryRun})
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg, a.deps, runner.Options{DebugLimit: runDebugLimit, DryRun: runDryRun})
	results := scheduler.NewScheduler(r, tasks, cfg.Scheduler.Concurrency, logger).RunOnce(ctx)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	logger.Info("run complete", "tasks", len(results), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(results))
	}
	return nil
}
