// Package blackboard provides type-safe Go definitions and Redis schema patterns
// for the Callboard coordination substrate. The blackboard is the central shared
// state system where all Callboard components (orchestrator, workers, CLI)
// interact via well-defined data structures stored in Redis.
//
// All Redis keys and channels are namespaced by instance name to enable multiple
// Callboard instances to safely coexist on a single Redis server.
package blackboard

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event is an immutable fact on the project event log. Every state change in a
// pipeline is announced as an event; events are retained indefinitely so a
// project's full history can be replayed after a crash or for audit.
type Event struct {
	ID                string            `json:"event_id"`           // UUID - unique identifier for this event
	ProjectID         string            `json:"project_id"`         // Project this event belongs to
	Type              EventType         `json:"type"`               // Closed set of event variants
	Actor             string            `json:"actor"`              // Component or agent that published the event
	CausationID       string            `json:"causation_id"`       // Event that caused this one ("" for root events)
	TimestampMs       int64             `json:"timestamp_ms"`       // Unix timestamp in milliseconds at publish
	Payload           json.RawMessage   `json:"payload"`            // Opaque event-specific content
	BlackboardPointer string            `json:"blackboard_pointer"` // Optional scope ID of a produced artifact record
	Metadata          map[string]string `json:"metadata,omitempty"` // Free-form annotations
}

// EventType identifies the kind of fact an event announces.
// The set is closed: the mapper, approval heuristics, and subscribers all
// dispatch on it through lookup tables rather than string comparison.
type EventType string

const (
	// EventProjectCreated announces a new production project.
	EventProjectCreated EventType = "project.created"

	// EventScriptDrafted announces a completed script draft artifact.
	EventScriptDrafted EventType = "script.drafted"

	// EventShotListReady announces a completed shot breakdown.
	EventShotListReady EventType = "shotlist.ready"

	// EventStoryboardReady announces completed storyboard frames.
	EventStoryboardReady EventType = "storyboard.ready"

	// EventVideoRendered announces a rendered video artifact.
	EventVideoRendered EventType = "video.rendered"

	// EventAudioMixed announces a completed audio mix.
	EventAudioMixed EventType = "audio.mixed"

	// EventQAPassed announces a QA sign-off on an artifact.
	EventQAPassed EventType = "qa.passed"

	// EventQAFailed announces a QA rejection of an artifact.
	EventQAFailed EventType = "qa.failed"

	// EventTaskDispatched is published to a worker's channel when the scheduler
	// hands it a task.
	EventTaskDispatched EventType = "task.dispatched"

	// EventTaskCompleted is published by a worker when its task finished.
	EventTaskCompleted EventType = "task.completed"

	// EventTaskFailed is published by a worker when its task failed.
	EventTaskFailed EventType = "task.failed"

	// EventBudgetUpdated is published by policy agents after budget changes.
	EventBudgetUpdated EventType = "budget.updated"

	// EventApprovalRequested is published when a human gate pauses a project.
	EventApprovalRequested EventType = "approval.requested"

	// EventApprovalDecision carries a human approve/reject/revise decision.
	EventApprovalDecision EventType = "approval.decision"

	// EventApprovalTimeout is published when a pending approval expires.
	EventApprovalTimeout EventType = "approval.timeout"
)

// KnownEventTypes returns every event type in the closed set, in pipeline
// order. Used by subscribers that want the whole bus.
func KnownEventTypes() []EventType {
	return []EventType{
		EventProjectCreated,
		EventScriptDrafted,
		EventShotListReady,
		EventStoryboardReady,
		EventVideoRendered,
		EventAudioMixed,
		EventQAPassed,
		EventQAFailed,
		EventTaskDispatched,
		EventTaskCompleted,
		EventTaskFailed,
		EventBudgetUpdated,
		EventApprovalRequested,
		EventApprovalDecision,
		EventApprovalTimeout,
	}
}

// Task is a unit of assignable work produced by the event mapper and driven
// through its lifecycle by the scheduler. Tasks are persisted as Redis hashes
// and queued by priority.
type Task struct {
	ID               string          `json:"task_id"`            // UUID - unique identifier for this task
	ProjectID        string          `json:"project_id"`         // Project this task belongs to
	Type             string          `json:"type"`               // Domain task type (e.g. "script.draft")
	AssignedTo       string          `json:"assigned_to"`        // Worker name the task is dispatched to
	Status           TaskStatus      `json:"status"`             // State-machine-governed lifecycle state
	Priority         int             `json:"priority"`           // Higher dispatches sooner
	Input            json.RawMessage `json:"input"`              // Task-specific input extracted from the event payload
	Output           json.RawMessage `json:"output,omitempty"`   // Result payload written by the completing worker
	Dependencies     []string        `json:"dependencies"`       // Task IDs that must reach COMPLETED first
	RequiresLock     bool            `json:"requires_lock"`      // Whether dispatch must hold LockKey
	LockKey          string          `json:"lock_key,omitempty"` // Mutual-exclusion resource path
	EstimatedCost    float64         `json:"estimated_cost"`     // Cost estimate used by the budget gate
	ActualCost       float64         `json:"actual_cost"`        // Cost reported by the completing worker
	CreatedAtMs      int64           `json:"created_at_ms"`      // Unix ms when the task was created
	StartedAtMs      int64           `json:"started_at_ms"`      // Unix ms of first entry to RUNNING (0 = never started)
	CompletedAtMs    int64           `json:"completed_at_ms"`    // Unix ms of entry to a terminal state (0 = not terminal)
	CausationEventID string          `json:"causation_event_id"` // Event that produced this task
	RetryCount       int             `json:"retry_count"`        // Times this task has been retried
	MaxRetries       int             `json:"max_retries"`        // Retry budget before FAILED is final
	ErrorMessage     string          `json:"error_message,omitempty"`
}

// TaskStatus defines the lifecycle state of a task.
// Legal transitions are owned by CanTransition / Transition in lifecycle.go.
type TaskStatus string

const (
	// TaskStatusPending is the initial state of every task.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusReady indicates dependencies and gates have cleared.
	TaskStatusReady TaskStatus = "ready"

	// TaskStatusRunning indicates the task has been handed to its worker.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusWaitingApproval indicates the task is parked on a human gate.
	TaskStatusWaitingApproval TaskStatus = "waiting_approval"

	// TaskStatusCompleted is the successful terminal state.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed is the unsuccessful terminal state (retry may re-open it).
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusCancelled is the cooperative-cancellation terminal state.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Record is a versioned, hierarchically scoped document on the blackboard.
// A record's scope ID encodes its place in the project hierarchy
// (e.g. "project:p1" or "project:p1:episode:e2:shot:s7"). Named sub-documents
// hold the budget, global spec, shot states and artifact index; every mutation
// bumps Version and appends to the record's change log.
type Record struct {
	ScopeID string                     `json:"scope_id"`
	Version int64                      `json:"version"` // Strictly increases per successful mutation
	Paused  bool                       `json:"paused"`  // Approval gate: true blocks all event handling for the scope's project
	Docs    map[string]json.RawMessage `json:"docs"`    // Named sub-documents, JSON-encoded
}

// ChangeEntry is one audit record in a blackboard record's change log.
type ChangeEntry struct {
	Actor       string          `json:"actor"`
	Change      string          `json:"change"` // e.g. "create", "update_field", "pause"
	Path        string          `json:"path"`   // Sub-document path the change touched
	Payload     json.RawMessage `json:"payload,omitempty"`
	Version     int64           `json:"version"` // Record version after the change
	TimestampMs int64           `json:"timestamp_ms"`
}

// BudgetDoc is the shape of the "budget" sub-document on a project record.
// Policy agents own its contents; the budget checker only reads it.
type BudgetDoc struct {
	Total    float64 `json:"total"`
	Spent    float64 `json:"spent"`
	Currency string  `json:"currency,omitempty"`
}

// Remaining returns the unspent budget.
func (b BudgetDoc) Remaining() float64 {
	return b.Total - b.Spent
}

// ApprovalRequest is a human gate on a project. Creating one pauses the
// project; a later decision event (or timeout) resolves it. Status moves
// PENDING -> DECIDED or PENDING -> TIMED_OUT and never back.
type ApprovalRequest struct {
	ID             string          `json:"request_id"`
	ProjectID      string          `json:"project_id"`
	Reason         string          `json:"reason"`
	Context        json.RawMessage `json:"context,omitempty"`
	Status         ApprovalStatus  `json:"status"`
	CreatedAtMs    int64           `json:"created_at_ms"`
	TimeoutMinutes int             `json:"timeout_minutes"`
	Decision       Decision        `json:"decision,omitempty"`
	DecidedAtMs    int64           `json:"decided_at_ms,omitempty"`
}

// ApprovalStatus defines the lifecycle state of an approval request.
type ApprovalStatus string

const (
	// ApprovalStatusPending indicates the request awaits a human decision.
	ApprovalStatusPending ApprovalStatus = "pending"

	// ApprovalStatusDecided indicates a decision event resolved the request.
	ApprovalStatusDecided ApprovalStatus = "decided"

	// ApprovalStatusTimedOut indicates the request expired undecided.
	ApprovalStatusTimedOut ApprovalStatus = "timed_out"
)

// Decision is a human verdict on an approval request.
type Decision string

const (
	// DecisionApprove resumes the paused project.
	DecisionApprove Decision = "approve"

	// DecisionReject cancels the work that triggered the gate and resumes.
	DecisionReject Decision = "reject"

	// DecisionRevise resumes with revision instructions in the event payload.
	DecisionRevise Decision = "revise"
)

// Validate checks if the Event has valid field values.
// Returns an error if any validation fails.
func (e *Event) Validate() error {
	if !isValidUUID(e.ID) {
		return fmt.Errorf("invalid event ID: not a valid UUID")
	}

	if e.ProjectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}

	if err := e.Type.Validate(); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}

	if e.Actor == "" {
		return fmt.Errorf("actor cannot be empty")
	}

	if e.CausationID != "" && !isValidUUID(e.CausationID) {
		return fmt.Errorf("invalid causation ID: not a valid UUID")
	}

	return nil
}

// Validate checks if the EventType is a valid enum value.
func (et EventType) Validate() error {
	switch et {
	case EventProjectCreated, EventScriptDrafted, EventShotListReady,
		EventStoryboardReady, EventVideoRendered, EventAudioMixed,
		EventQAPassed, EventQAFailed,
		EventTaskDispatched, EventTaskCompleted, EventTaskFailed,
		EventBudgetUpdated,
		EventApprovalRequested, EventApprovalDecision, EventApprovalTimeout:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", et)
	}
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if !isValidUUID(t.ID) {
		return fmt.Errorf("invalid task ID: not a valid UUID")
	}

	if t.ProjectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}

	if t.Type == "" {
		return fmt.Errorf("task type cannot be empty")
	}

	if t.AssignedTo == "" {
		return fmt.Errorf("assigned_to cannot be empty")
	}

	if err := t.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if t.RequiresLock && t.LockKey == "" {
		return fmt.Errorf("requires_lock set but lock_key is empty")
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	for i, depID := range t.Dependencies {
		if !isValidUUID(depID) {
			return fmt.Errorf("invalid dependency at index %d: not a valid UUID", i)
		}
	}

	return nil
}

// Validate checks if the TaskStatus is a valid enum value.
func (ts TaskStatus) Validate() error {
	switch ts {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusWaitingApproval, TaskStatusCompleted, TaskStatusFailed,
		TaskStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown task status: %q", ts)
	}
}

// Terminal reports whether the status is an end state of the lifecycle.
func (ts TaskStatus) Terminal() bool {
	return ts == TaskStatusCompleted || ts == TaskStatusFailed || ts == TaskStatusCancelled
}

// Validate checks if the ApprovalRequest has valid field values.
func (r *ApprovalRequest) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid request ID: not a valid UUID")
	}

	if r.ProjectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}

	if r.Reason == "" {
		return fmt.Errorf("reason cannot be empty")
	}

	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if r.TimeoutMinutes < 0 {
		return fmt.Errorf("timeout_minutes cannot be negative")
	}

	return nil
}

// Validate checks if the ApprovalStatus is a valid enum value.
func (as ApprovalStatus) Validate() error {
	switch as {
	case ApprovalStatusPending, ApprovalStatusDecided, ApprovalStatusTimedOut:
		return nil
	default:
		return fmt.Errorf("unknown approval status: %q", as)
	}
}

// Validate checks if the Decision is a valid enum value.
func (d Decision) Validate() error {
	switch d {
	case DecisionApprove, DecisionReject, DecisionRevise:
		return nil
	default:
		return fmt.Errorf("unknown decision: %q", d)
	}
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
