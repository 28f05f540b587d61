package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/mquinn/callboard/internal/history"
)

var (
	tasksInstanceName string
	tasksProjectID    string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List a project's tasks",
	Long: `List a project's tasks: everything still in the queue plus the archived
terminal tasks, with status, priority, retries, and cost.

Examples:
  # Show the task ledger for a project
  callboard tasks --project launch-video`,
	RunE: runTasks,
}

func init() {
	tasksCmd.Flags().StringVarP(&tasksInstanceName, "name", "n", "", "Target instance name (sole instance if omitted)")
	tasksCmd.Flags().StringVarP(&tasksProjectID, "project", "p", "", "Project to list tasks for (required)")
	tasksCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := connectInstance(ctx, tasksInstanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	return history.ListTasks(ctx, client, tasksProjectID, os.Stdout)
}
