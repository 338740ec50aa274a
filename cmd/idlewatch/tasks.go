package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/amishk599/idlewatch/internal/config"
	"github.com/amishk599/idlewatch/internal/store"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List configured tasks and their last run",
	RunE:  runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	history, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		return err
	}
	defer history.Close()

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("TASK", "KEYWORD", "MODE", "INTERVAL", "LAST RUN", "STATUS", "ITEMS")

	for _, task := range cfg.Tasks {
		row := taskRow(task)
		runs, err := history.RecentRuns(task.Name, 1)
		if err != nil {
			logger.Warn("reading run history", "task", task.Name, "error", err)
		}
		if len(runs) > 0 {
			last := runs[0]
			row = append(row, last.StartedAt.Local().Format("2006-01-02 15:04"), last.Status, strconv.Itoa(last.Processed))
		} else {
			row = append(row, "never", "-", "-")
		}
		t.Row(row...)
	}

	fmt.Println(t.Render())
	return nil
}

func taskRow(task config.TaskConfig) []string {
	name := task.Name
	if !task.Enabled {
		name += " (disabled)"
	}
	interval := "once"
	if task.Interval > 0 {
		interval = task.Interval.String()
	}
	return []string{name, task.Keyword, task.DecisionMode, interval}
}
