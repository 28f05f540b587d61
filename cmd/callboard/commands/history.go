package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mquinn/callboard/internal/history"
	"github.com/mquinn/callboard/internal/printer"
)

var (
	historyInstanceName string
	historyProjectID    string
	historyOutputFormat string
	historyTypeGlob     string
	historyActor        string
	historySince        time.Duration
	historyChain        bool
)

var historyCmd = &cobra.Command{
	Use:   "history [EVENT_ID]",
	Short: "Inspect the event history",
	Long: `Inspect the durable event log in list, get, or chain mode.

List Mode (no EVENT_ID, requires --project):
  Displays a project's events as a table or JSONL. Filter by type glob,
  actor, or age.

Get Mode (with EVENT_ID):
  Displays complete details of a single event as pretty-printed JSON.

Chain Mode (EVENT_ID with --chain):
  Walks the event's causation ancestry and prints the chain, root first.

Examples:
  # List a project's events
  callboard history --project launch-video

  # Only QA events from the last hour
  callboard history --project launch-video --type "qa.*" --since 1h

  # JSONL for scripting
  callboard history --project launch-video --output jsonl | jq .event_id

  # Inspect one event
  callboard history 4f8a21c0-...

  # Why did this happen?
  callboard history 4f8a21c0-... --chain`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyInstanceName, "name", "n", "", "Target instance name (sole instance if omitted)")
	historyCmd.Flags().StringVarP(&historyProjectID, "project", "p", "", "Project to list events for (list mode)")
	historyCmd.Flags().StringVarP(&historyOutputFormat, "output", "o", "default", "Output format: default or jsonl (list mode)")
	historyCmd.Flags().StringVar(&historyTypeGlob, "type", "", "Filter by event type glob, e.g. \"qa.*\" (list mode)")
	historyCmd.Flags().StringVar(&historyActor, "actor", "", "Filter by actor (list mode)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only events newer than this, e.g. 30m (list mode)")
	historyCmd.Flags().BoolVar(&historyChain, "chain", false, "Show the causation chain of EVENT_ID")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, _, err := connectInstance(ctx, historyInstanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	// Get / chain mode
	if len(args) == 1 {
		eventID := args[0]

		if historyChain {
			if err := history.Chain(ctx, client, eventID, os.Stdout); err != nil {
				return historyNotFound(err, eventID)
			}
			return nil
		}

		if err := history.GetEvent(ctx, client, eventID, os.Stdout); err != nil {
			return historyNotFound(err, eventID)
		}
		return nil
	}

	// List mode
	if historyProjectID == "" {
		return printer.Error(
			"missing --project",
			"List mode needs a project to read the log of.",
			[]string{
				"List a project's events:\n  callboard history --project <project-id>",
				"Or inspect one event:\n  callboard history <event-id>",
			},
		)
	}

	var format history.OutputFormat
	switch historyOutputFormat {
	case "default":
		format = history.OutputFormatDefault
	case "jsonl":
		format = history.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", historyOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	criteria := history.FilterCriteria{
		TypeGlob: historyTypeGlob,
		Actor:    historyActor,
	}
	if historySince > 0 {
		criteria.SinceTimestampMs = time.Now().Add(-historySince).UnixMilli()
	}

	return history.ListEvents(ctx, client, historyProjectID, criteria, format, os.Stdout)
}

func historyNotFound(err error, eventID string) error {
	if history.IsNotFound(err) {
		return printer.Error(
			fmt.Sprintf("event '%s' not found", eventID),
			"No event with this ID exists on the instance.",
			[]string{"List a project's events:\n  callboard history --project <project-id>"},
		)
	}
	return err
}
