package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mquinn/callboard/internal/printer"
	"github.com/mquinn/callboard/internal/watch"
	"github.com/mquinn/callboard/pkg/blackboard"
)

var (
	watchInstanceName string
	watchProjectID    string
	watchTypes        []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream instance events live",
	Long: `Stream the instance's event bus to the terminal, one colored line per event.

By default every event type is shown across all projects. Filter with
--project and/or repeated --type flags. Stop with Ctrl+C.

Examples:
  # Watch everything on the sole running instance
  callboard watch

  # Watch one project on a specific instance
  callboard watch --name prod --project launch-video

  # Watch only worker results
  callboard watch --type task.completed --type task.failed`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchInstanceName, "name", "n", "", "Target instance name (sole instance if omitted)")
	watchCmd.Flags().StringVarP(&watchProjectID, "project", "p", "", "Only show events for this project")
	watchCmd.Flags().StringArrayVarP(&watchTypes, "type", "t", nil, "Event types to show (repeatable; default all)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, instanceName, err := connectInstance(ctx, watchInstanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	types := blackboard.KnownEventTypes()
	if len(watchTypes) > 0 {
		types = make([]blackboard.EventType, 0, len(watchTypes))
		for _, raw := range watchTypes {
			et := blackboard.EventType(raw)
			if err := et.Validate(); err != nil {
				return err
			}
			types = append(types, et)
		}
	}

	// Ctrl+C stops the stream cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	printer.Info("Watching instance '%s' (Ctrl+C to stop)...\n\n", instanceName)

	return watch.Stream(ctx, client, os.Stdout, watchProjectID, types...)
}
