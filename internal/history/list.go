package history

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/mquinn/callboard/pkg/blackboard"
)

// OutputFormat specifies how to format the event list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format with truncated payloads
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete events as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// FilterCriteria defines filtering options for the history list command.
// All filters are ANDed together.
type FilterCriteria struct {
	SinceTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	TypeGlob         string // Glob pattern for event type, empty = no filter
	Actor            string // Exact match for actor, empty = no filter
}

// matchesFilter returns true if the event matches all filter criteria.
func (fc *FilterCriteria) matchesFilter(event *blackboard.Event) bool {
	if fc.SinceTimestampMs > 0 && event.TimestampMs < fc.SinceTimestampMs {
		return false
	}
	if fc.UntilTimestampMs > 0 && event.TimestampMs > fc.UntilTimestampMs {
		return false
	}

	if fc.TypeGlob != "" {
		matched, err := filepath.Match(fc.TypeGlob, string(event.Type))
		if err != nil || !matched {
			return false
		}
	}

	if fc.Actor != "" && event.Actor != fc.Actor {
		return false
	}

	return true
}

// ListEvents replays a project's event history, applies the filter, and writes
// it to the provided writer in the requested format.
func ListEvents(ctx context.Context, client *blackboard.Client, projectID string, filter FilterCriteria, format OutputFormat, w io.Writer) error {
	events, err := client.ReplayEvents(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to replay events for project %s: %w", projectID, err)
	}

	filtered := make([]*blackboard.Event, 0, len(events))
	for _, event := range events {
		if filter.matchesFilter(event) {
			filtered = append(filtered, event)
		}
	}

	switch format {
	case OutputFormatJSONL:
		return FormatEventJSONL(w, filtered)
	default:
		FormatEventTable(w, filtered, projectID)
		return nil
	}
}

// ListTasks writes a project's queued tasks followed by its archived tasks.
func ListTasks(ctx context.Context, client *blackboard.Client, projectID string, w io.Writer) error {
	queued, err := client.QueuedTasksByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to list queued tasks for project %s: %w", projectID, err)
	}

	archived, err := client.ArchivedTasks(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list archived tasks: %w", err)
	}

	var archivedForProject []*blackboard.Task
	for _, task := range archived {
		if task.ProjectID == projectID {
			archivedForProject = append(archivedForProject, task)
		}
	}

	FormatTaskTable(w, append(queued, archivedForProject...), projectID)
	return nil
}
