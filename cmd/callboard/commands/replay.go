package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mquinn/callboard/internal/printer"
	"github.com/mquinn/callboard/internal/watch"
)

var (
	replayInstanceName string
	replayProjectID    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a project's full event history",
	Long: `Print a project's entire event log in publish order, one line per event,
in the same format as 'callboard watch'.

The log is durable and ordered, so the replay reconstructs exactly what the
orchestrator saw. Useful after a crash, or to audit how a project reached
its current state.

Examples:
  callboard replay --project launch-video`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVarP(&replayInstanceName, "name", "n", "", "Target instance name (sole instance if omitted)")
	replayCmd.Flags().StringVarP(&replayProjectID, "project", "p", "", "Project to replay (required)")
	replayCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := connectInstance(ctx, replayInstanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.ReplayEvents(ctx, replayProjectID)
	if err != nil {
		return fmt.Errorf("failed to replay events: %w", err)
	}

	if len(events) == 0 {
		printer.Info("No events recorded for project '%s'\n", replayProjectID)
		return nil
	}

	for _, event := range events {
		fmt.Fprintln(os.Stdout, watch.FormatLine(event))
	}

	printer.Info("\n%d events replayed\n", len(events))
	return nil
}
