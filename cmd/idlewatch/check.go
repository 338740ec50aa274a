package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/idlewatch/internal/runner"
)

var (
	checkTaskName string
	checkLimit    int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Smoke-test one task without side effects",
	Long:  "Runs a single task for a few items with alerts going to the log. Nothing is written to the output file or history.",
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkTaskName, "task-name", "", "task to check (default: first enabled task)")
	checkCmd.Flags().IntVar(&checkLimit, "limit", 3, "stop after this many new items")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	var names []string
	if checkTaskName != "" {
		names = []string{checkTaskName}
	}
	tasks, err := selectTasks(cfg, names)
	if err != nil {
		logger.Error("selecting task", "error", err)
		return err
	}
	task := tasks[0]

	a, err := buildApp(cfg, logger, appOptions{dryRun: true, logNotifier: true})
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("check mode", "task", task.Name, "keyword", task.Keyword, "limit", checkLimit)
	r := runner.New(cfg, a.deps, runner.Options{DebugLimit: checkLimit, DryRun: true})
	res := r.RunTask(ctx, task)
	if res.Err != nil {
		logger.Error("check failed", "task", task.Name, "attempts", res.Attempts, "error", res.Err)
		return fmt.Errorf("check %s: %w", task.Name, res.Err)
	}

	logger.Info("check complete", "task", task.Name, "processed", res.Processed, "attempts", res.Attempts)
	return nil
}
