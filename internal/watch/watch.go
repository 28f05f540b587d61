package watch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mquinn/callboard/internal/printer"
	"github.com/mquinn/callboard/pkg/blackboard"
)

// Stream subscribes to the given event types and renders each event as a
// colored line on the writer until the context is cancelled. Events without a
// project filter stream across all projects on the instance.
func Stream(ctx context.Context, client *blackboard.Client, w io.Writer, projectID string, types ...blackboard.EventType) error {
	subscription, err := client.SubscribeEvents(ctx, types...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer subscription.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-subscription.Events():
			if !ok {
				return nil
			}
			if projectID != "" && event.ProjectID != projectID {
				continue
			}
			fmt.Fprintln(w, FormatLine(event))

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "stream error: %v\n", err)
		}
	}
}

// FormatLine renders one event for the live stream: timestamp, colored type,
// project, actor, and a payload snippet.
func FormatLine(event *blackboard.Event) string {
	ts := time.UnixMilli(event.TimestampMs).Format("15:04:05")

	line := fmt.Sprintf("%s  %-28s project=%s actor=%s",
		ts, printer.EventType(event.Type), event.ProjectID, event.Actor)

	if len(event.Payload) > 0 {
		payload := string(event.Payload)
		if len(payload) > 60 {
			payload = payload[:57] + "..."
		}
		line += "  " + payload
	}

	return line
}

// PollForEvent polls a project's history until an event of the wanted type
// appears, or the timeout elapses. Polls every 200ms. Used by CLI commands
// that publish an event and wait for the orchestrator's reaction.
func PollForEvent(ctx context.Context, client *blackboard.Client, projectID string, wanted blackboard.EventType, timeout time.Duration) (*blackboard.Event, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for %s event after %v", wanted, timeout)

		case <-ticker.C:
			events, err := client.ReplayEvents(ctx, projectID)
			if err != nil {
				return nil, fmt.Errorf("failed to query events: %w", err)
			}

			for i := len(events) - 1; i >= 0; i-- {
				if events[i].Type == wanted {
					return events[i], nil
				}
			}
		}
	}
}

// PollForTaskStatus polls a task until it reaches the wanted status, or the
// timeout elapses. Polls every 200ms.
func PollForTaskStatus(ctx context.Context, client *blackboard.Client, taskID string, wanted blackboard.TaskStatus, timeout time.Duration) (*blackboard.Task, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for task %s to reach %s after %v", taskID, wanted, timeout)

		case <-ticker.C:
			task, err := client.GetTask(ctx, taskID)
			if err != nil {
				if blackboard.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query task: %w", err)
			}

			if task.Status == wanted {
				return task, nil
			}
		}
	}
}
