package blackboard

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

// TestEventValidate_Valid tests that valid events pass validation
func TestEventValidate_Valid(t *testing.T) {
	event := &Event{
		ID:          uuid.New().String(),
		ProjectID:   "proj-1",
		Type:        EventProjectCreated,
		Actor:       "user",
		TimestampMs: 1700000000000,
		Payload:     json.RawMessage(`{"title":"Shorts S01"}`),
	}

	if err := event.Validate(); err != nil {
		t.Errorf("valid event failed validation: %v", err)
	}
}

// TestEventValidate_RootCausation tests that an empty causation ID is valid
func TestEventValidate_RootCausation(t *testing.T) {
	event := &Event{
		ID:          uuid.New().String(),
		ProjectID:   "proj-1",
		Type:        EventScriptDrafted,
		Actor:       "script-agent",
		CausationID: "", // Root events have no cause
		TimestampMs: 1700000000000,
	}

	if err := event.Validate(); err != nil {
		t.Errorf("root event failed validation: %v", err)
	}
}

// TestEventValidate_InvalidID tests that invalid event ID fails validation
func TestEventValidate_InvalidID(t *testing.T) {
	event := &Event{
		ID:        "not-a-uuid",
		ProjectID: "proj-1",
		Type:      EventProjectCreated,
		Actor:     "user",
	}

	if err := event.Validate(); err == nil {
		t.Error("expected validation to fail for invalid ID, but it passed")
	}
}

// TestEventValidate_InvalidCausationID tests that a malformed causation ID fails
func TestEventValidate_InvalidCausationID(t *testing.T) {
	event := &Event{
		ID:          uuid.New().String(),
		ProjectID:   "proj-1",
		Type:        EventProjectCreated,
		Actor:       "user",
		CausationID: "not-a-uuid",
	}

	if err := event.Validate(); err == nil {
		t.Error("expected validation to fail for invalid causation ID, but it passed")
	}
}

// TestEventTypeValidate tests the closed event type set
func TestEventTypeValidate(t *testing.T) {
	validTypes := []EventType{
		EventProjectCreated, EventScriptDrafted, EventShotListReady,
		EventStoryboardReady, EventVideoRendered, EventAudioMixed,
		EventQAPassed, EventQAFailed,
		EventTaskDispatched, EventTaskCompleted, EventTaskFailed,
		EventBudgetUpdated,
		EventApprovalRequested, EventApprovalDecision, EventApprovalTimeout,
	}

	for _, et := range validTypes {
		if err := et.Validate(); err != nil {
			t.Errorf("valid event type %q failed validation: %v", et, err)
		}
	}

	invalidTypes := []EventType{"", "invalid", "project_created", "TASK.COMPLETED"}
	for _, et := range invalidTypes {
		if err := et.Validate(); err == nil {
			t.Errorf("expected validation to fail for event type %q, but it passed", et)
		}
	}
}

// TestTaskValidate_Valid tests that valid tasks pass validation
func TestTaskValidate_Valid(t *testing.T) {
	task := &Task{
		ID:               uuid.New().String(),
		ProjectID:        "proj-1",
		Type:             "video.render",
		AssignedTo:       "video-agent",
		Status:           TaskStatusPending,
		Priority:         50,
		Input:            json.RawMessage(`{"shot_id":"s3"}`),
		Dependencies:     []string{uuid.New().String()},
		RequiresLock:     true,
		LockKey:          ResourceLock("proj-1", "render-pipeline"),
		EstimatedCost:    2.5,
		CreatedAtMs:      1700000000000,
		CausationEventID: uuid.New().String(),
		MaxRetries:       3,
	}

	if err := task.Validate(); err != nil {
		t.Errorf("valid task failed validation: %v", err)
	}
}

// TestTaskValidate_LockKeyRequired tests that requires_lock demands a lock key
func TestTaskValidate_LockKeyRequired(t *testing.T) {
	task := &Task{
		ID:           uuid.New().String(),
		ProjectID:    "proj-1",
		Type:         "video.render",
		AssignedTo:   "video-agent",
		Status:       TaskStatusPending,
		RequiresLock: true,
		LockKey:      "",
	}

	if err := task.Validate(); err == nil {
		t.Error("expected validation to fail for missing lock key, but it passed")
	}
}

// TestTaskValidate_InvalidDependency tests that malformed dependency IDs fail
func TestTaskValidate_InvalidDependency(t *testing.T) {
	task := &Task{
		ID:           uuid.New().String(),
		ProjectID:    "proj-1",
		Type:         "qa.review",
		AssignedTo:   "qa-agent",
		Status:       TaskStatusPending,
		Dependencies: []string{"not-a-uuid"},
	}

	if err := task.Validate(); err == nil {
		t.Error("expected validation to fail for invalid dependency, but it passed")
	}
}

// TestTaskStatusTerminal tests terminal status classification
func TestTaskStatusTerminal(t *testing.T) {
	testCases := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusReady, false},
		{TaskStatusRunning, false},
		{TaskStatusWaitingApproval, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}

	for _, tc := range testCases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

// TestApprovalRequestValidate tests approval request validation
func TestApprovalRequestValidate(t *testing.T) {
	request := &ApprovalRequest{
		ID:             uuid.New().String(),
		ProjectID:      "proj-1",
		Reason:         "retries exhausted on video.render",
		Status:         ApprovalStatusPending,
		CreatedAtMs:    1700000000000,
		TimeoutMinutes: 120,
	}

	if err := request.Validate(); err != nil {
		t.Errorf("valid approval request failed validation: %v", err)
	}

	request.Reason = ""
	if err := request.Validate(); err == nil {
		t.Error("expected validation to fail for empty reason, but it passed")
	}
}

// TestDecisionValidate tests the closed decision set
func TestDecisionValidate(t *testing.T) {
	for _, d := range []Decision{DecisionApprove, DecisionReject, DecisionRevise} {
		if err := d.Validate(); err != nil {
			t.Errorf("valid decision %q failed validation: %v", d, err)
		}
	}

	if err := Decision("maybe").Validate(); err == nil {
		t.Error("expected validation to fail for unknown decision, but it passed")
	}
}

// TestBudgetDocRemaining tests remaining-budget arithmetic
func TestBudgetDocRemaining(t *testing.T) {
	budget := BudgetDoc{Total: 100, Spent: 37.5}
	if got := budget.Remaining(); got != 62.5 {
		t.Errorf("Remaining() = %v, want 62.5", got)
	}
}

// TestKnownEventTypes tests that the enumeration matches the closed set
func TestKnownEventTypes(t *testing.T) {
	types := KnownEventTypes()
	if len(types) != 15 {
		t.Errorf("KnownEventTypes() returned %d types, want 15", len(types))
	}

	seen := make(map[EventType]bool)
	for _, et := range types {
		if err := et.Validate(); err != nil {
			t.Errorf("enumerated type %q failed validation: %v", et, err)
		}
		if seen[et] {
			t.Errorf("enumerated type %q appears twice", et)
		}
		seen[et] = true
	}
}
