package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mquinn/callboard/pkg/blackboard"
)

// FormatEventTable writes events as a formatted table to the provided writer.
// Columns: ID, TYPE, ACTOR, AGE, and PAYLOAD (truncated). Returns the number
// of events formatted.
func FormatEventTable(w io.Writer, events []*blackboard.Event, projectID string) int {
	if len(events) == 0 {
		fmt.Fprintf(w, "No events found for project '%s'\n", projectID)
		return 0
	}

	fmt.Fprintf(w, "Events for project '%s':\n\n", projectID)

	fmt.Fprintf(w, "%-10s %-20s %-16s %-8s %s\n",
		"ID", "TYPE", "ACTOR", "AGE", "PAYLOAD")
	fmt.Fprintf(w, "%-10s %-20s %-16s %-8s %s\n",
		"----------", "--------------------", "----------------", "--------", "----------------------------------------")

	for _, event := range events {
		fmt.Fprintf(w, "%-10s %-20s %-16s %-8s %s\n",
			formatID(event.ID),
			formatType(string(event.Type)),
			formatActor(event.Actor),
			formatTimestamp(event.TimestampMs),
			formatPayload(event.Payload),
		)
	}

	countMsg := "event"
	if len(events) != 1 {
		countMsg = "events"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(events), countMsg)

	return len(events)
}

// FormatEventJSONL writes events as line-delimited JSON (JSONL) to the
// provided writer. This format is ideal for streaming and processing with
// tools like jq.
func FormatEventJSONL(w io.Writer, events []*blackboard.Event) error {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event to JSON: %w", err)
		}

		if _, err := fmt.Fprintf(w, "%s\n", string(data)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}

	return nil
}

// FormatSingleJSON writes a single event as pretty-printed JSON to the
// provided writer. Used in get mode to display complete event details.
func FormatSingleJSON(w io.Writer, event *blackboard.Event) error {
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}

	fmt.Fprintln(w)
	return nil
}

// FormatChain writes a causation chain root-first, one event per line, with
// an arrow showing each causal hop.
func FormatChain(w io.Writer, chain []*blackboard.Event) {
	for i, event := range chain {
		prefix := "  "
		if i > 0 {
			prefix = "→ "
		}
		fmt.Fprintf(w, "%s%s  %-20s %-16s %s\n",
			prefix,
			formatID(event.ID),
			formatType(string(event.Type)),
			formatActor(event.Actor),
			formatTimestamp(event.TimestampMs),
		)
	}

	fmt.Fprintf(w, "\n%d events in chain\n", len(chain))
}

// FormatTaskTable writes tasks as a formatted table to the provided writer.
func FormatTaskTable(w io.Writer, tasks []*blackboard.Task, projectID string) int {
	if len(tasks) == 0 {
		fmt.Fprintf(w, "No tasks found for project '%s'\n", projectID)
		return 0
	}

	fmt.Fprintf(w, "Tasks for project '%s':\n\n", projectID)

	fmt.Fprintf(w, "%-10s %-20s %-16s %-18s %-5s %-8s %s\n",
		"ID", "TYPE", "WORKER", "STATUS", "PRI", "RETRY", "COST")
	fmt.Fprintf(w, "%-10s %-20s %-16s %-18s %-5s %-8s %s\n",
		"----------", "--------------------", "----------------", "------------------", "-----", "--------", "--------")

	for _, task := range tasks {
		fmt.Fprintf(w, "%-10s %-20s %-16s %-18s %-5d %-8s %.2f\n",
			formatID(task.ID),
			formatType(task.Type),
			formatActor(task.AssignedTo),
			string(task.Status),
			task.Priority,
			fmt.Sprintf("%d/%d", task.RetryCount, task.MaxRetries),
			task.ActualCost,
		)
	}

	countMsg := "task"
	if len(tasks) != 1 {
		countMsg = "tasks"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(tasks), countMsg)

	return len(tasks)
}

// formatID truncates an ID to the first 8 characters for compact display.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatType truncates long type names for table display.
func formatType(typeName string) string {
	if len(typeName) > 20 {
		return typeName[:17] + "..."
	}
	return typeName
}

// formatActor truncates long actor names for table display.
func formatActor(actor string) string {
	if len(actor) > 16 {
		return actor[:13] + "..."
	}
	return actor
}

// formatTimestamp renders a millisecond timestamp as a compact age ("3m",
// "2h", "5d"). Zero timestamps return "-".
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	age := time.Since(time.UnixMilli(timestampMs))
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}

// formatPayload truncates a payload to its first line, max 40 characters, for
// table display. Empty payloads return "-".
func formatPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "-"
	}

	text := string(payload)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)

	if len(text) > 40 {
		return text[:37] + "..."
	}
	return text
}
