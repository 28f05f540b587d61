package orchestrator

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mquinn/callboard/internal/config"
	"github.com/mquinn/callboard/pkg/blackboard"
)

// TaskMapper turns events into candidate tasks using a static mapping table.
// The table is seeded from callboard.yml; additional mappings may be
// registered at runtime (policy agents extending the pipeline).
type TaskMapper struct {
	mappings map[blackboard.EventType][]config.TaskMapping
}

// NewTaskMapper builds a mapper from the validated configuration.
func NewTaskMapper(cfg *config.CallboardConfig) *TaskMapper {
	mappings := make(map[blackboard.EventType][]config.TaskMapping)
	for _, mapping := range cfg.Mappings {
		et := blackboard.EventType(mapping.Event)
		mappings[et] = append(mappings[et], mapping)
	}

	return &TaskMapper{mappings: mappings}
}

// RegisterMapping adds a mapping at runtime. Mappings for the same event type
// accumulate in registration order.
func (m *TaskMapper) RegisterMapping(mapping config.TaskMapping) {
	et := blackboard.EventType(mapping.Event)
	m.mappings[et] = append(m.mappings[et], mapping)
}

// HandledTypes returns the event types with at least one mapping.
func (m *TaskMapper) HandledTypes() []blackboard.EventType {
	types := make([]blackboard.EventType, 0, len(m.mappings))
	for et := range m.mappings {
		types = append(types, et)
	}
	return types
}

// BuildTasks returns the candidate tasks the event triggers, in mapping order.
// An event with no mappings yields nothing. A mapping without input_fields
// carries the event's payload verbatim as the task input; with input_fields it
// carries only the named keys, defaulting missing or unreadable ones to null.
func (m *TaskMapper) BuildTasks(event *blackboard.Event) []*blackboard.Task {
	templates, ok := m.mappings[event.Type]
	if !ok {
		return nil
	}

	tasks := make([]*blackboard.Task, 0, len(templates))
	for _, tmpl := range templates {
		maxRetries := 3
		if tmpl.MaxRetries != nil {
			maxRetries = *tmpl.MaxRetries
		}

		task := &blackboard.Task{
			ID:               uuid.New().String(),
			ProjectID:        event.ProjectID,
			Type:             tmpl.TaskType,
			AssignedTo:       tmpl.AssignedTo,
			Status:           blackboard.TaskStatusPending,
			Priority:         tmpl.Priority,
			Input:            buildTaskInput(event.Payload, tmpl.InputFields),
			RequiresLock:     tmpl.RequiresLock,
			EstimatedCost:    tmpl.EstimatedCost,
			CreatedAtMs:      time.Now().UnixMilli(),
			CausationEventID: event.ID,
			MaxRetries:       maxRetries,
		}

		if tmpl.RequiresLock {
			task.LockKey = blackboard.ResourceLock(event.ProjectID, tmpl.LockResource)
		}

		if err := task.Validate(); err != nil {
			// A bad mapping must not sink the whole event.
			log.Printf("[Orchestrator] Skipping invalid task from mapping %s/%s: %v",
				tmpl.Event, tmpl.TaskType, err)
			continue
		}

		tasks = append(tasks, task)
	}

	return tasks
}

// buildTaskInput derives a task's input document from the triggering event's
// payload. No field list means the whole payload. With a field list, the named
// keys are projected into a fresh object; a key that is absent, or every key
// when the payload is not a JSON object, comes through as null so a malformed
// upstream payload degrades the input rather than sinking the task.
func buildTaskInput(payload json.RawMessage, fields []string) json.RawMessage {
	if len(fields) == 0 {
		return payload
	}

	var doc map[string]json.RawMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &doc); err != nil {
			doc = nil
		}
	}

	subset := make(map[string]json.RawMessage, len(fields))
	for _, field := range fields {
		value, ok := doc[field]
		if !ok || len(value) == 0 {
			value = json.RawMessage("null")
		}
		subset[field] = value
	}

	out, err := json.Marshal(subset)
	if err != nil {
		return json.RawMessage("null")
	}
	return out
}
