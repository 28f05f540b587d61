package history

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/mquinn/callboard/pkg/blackboard"
)

// GetEvent retrieves a single event by ID and writes it as pretty-printed JSON
// to the writer. Uses IsNotFound() to distinguish "not found" from other
// failures.
func GetEvent(ctx context.Context, client *blackboard.Client, eventID string, w io.Writer) error {
	if _, err := uuid.Parse(eventID); err != nil {
		return fmt.Errorf("invalid event ID format: must be a valid UUID")
	}

	event, err := client.GetEvent(ctx, eventID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return &EventNotFoundError{EventID: eventID}
		}
		return fmt.Errorf("failed to fetch event: %w", err)
	}

	if err := FormatSingleJSON(w, event); err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}

	return nil
}

// Chain walks an event's causation ancestry and writes the chronological
// chain, root first, to the writer.
func Chain(ctx context.Context, client *blackboard.Client, eventID string, w io.Writer) error {
	if _, err := uuid.Parse(eventID); err != nil {
		return fmt.Errorf("invalid event ID format: must be a valid UUID")
	}

	chain, err := client.CausationChain(ctx, eventID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return &EventNotFoundError{EventID: eventID}
		}
		return fmt.Errorf("failed to walk causation chain: %w", err)
	}

	FormatChain(w, chain)
	return nil
}

// EventNotFoundError represents a specific "event not found" error.
// This allows callers to distinguish not-found errors from other failures.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("event with ID '%s' not found", e.EventID)
}

// IsNotFound returns true if the error is an EventNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*EventNotFoundError)
	return ok
}
