package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amishk599/idlewatch/internal/audit"
	"github.com/amishk599/idlewatch/internal/config"
	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Browse collected items interactively (TUI)",
	Long:  "Shows the task picker, then a split-pane view of the task's saved records with recommended items on the right.",
	RunE:  runResultsCmd,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResultsCmd(cmd *cobra.Command, args []string) error {
	// The TUI owns the terminal, so nothing is logged past config loading.
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	runResults(cfg)
	return nil
}

func runResults(cfg *config.Config) {
	if len(cfg.Tasks) == 0 {
		fmt.Println("No tasks in config.")
		return
	}

	for {
		choice, err := audit.RunTaskPicker(cfg.Tasks)
		if err != nil {
			fmt.Printf("Picker error: %v\n", err)
			return
		}
		if choice < 0 {
			return
		}
		task := cfg.Tasks[choice]

		path := store.OutputPath(cfg.OutputDir, task.Keyword)
		records, err := audit.RunLoader(task.Name, func(context.Context) ([]model.Record, error) {
			recs, _, err := store.ReadRecords(path)
			return recs, err
		})
		if err != nil {
			fmt.Printf("Error reading %s: %v\n", path, err)
			continue
		}

		wantQuit, err := audit.RunResultsTUI(records, task.KeywordRules)
		if err != nil {
			fmt.Printf("TUI error: %v\n", err)
		}
		if wantQuit {
			return
		}
	}
}
