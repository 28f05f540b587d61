package blackboard

import (
	"fmt"
	"time"
)

// Task lifecycle state machine
//
//	PENDING -> READY -> RUNNING -> {COMPLETED, FAILED}
//	RUNNING -> WAITING_APPROVAL -> {READY, CANCELLED}
//	FAILED  -> PENDING              (retry, while retry_count < max_retries)
//	any non-terminal -> CANCELLED
//
// Transitions happen at state-check boundaries only; cancellation is
// cooperative, never preemptive.

// legalTransitions is the closed transition table. A status maps to the set of
// statuses it may move to.
var legalTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:         {TaskStatusReady, TaskStatusCancelled},
	TaskStatusReady:           {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning:         {TaskStatusCompleted, TaskStatusFailed, TaskStatusWaitingApproval, TaskStatusCancelled},
	TaskStatusWaitingApproval: {TaskStatusReady, TaskStatusCancelled},
	TaskStatusFailed:          {TaskStatusPending},
	TaskStatusCompleted:       {},
	TaskStatusCancelled:       {},
}

// CanTransition reports whether the state machine permits from -> to.
// It is a pure predicate over statuses; per-task guards (the retry budget)
// are enforced by Transition.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves a task to a new status, stamping lifecycle timestamps:
// started_at on each entry to RUNNING (a retried task is timed against its
// current attempt, not its first), completed_at on entry to any terminal
// status. FAILED -> PENDING is additionally guarded by the retry budget. An
// illegal request returns ErrInvalidTransition and leaves the task unchanged.
func Transition(task *Task, to TaskStatus) error {
	if err := to.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	if !CanTransition(task.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, to)
	}

	if task.Status == TaskStatusFailed && to == TaskStatusPending {
		if task.RetryCount >= task.MaxRetries {
			return fmt.Errorf("%w: %s -> %s: retries exhausted (%d/%d)",
				ErrInvalidTransition, task.Status, to, task.RetryCount, task.MaxRetries)
		}
		// Re-opened for retry: the task is no longer terminal.
		task.CompletedAtMs = 0
	}

	now := time.Now().UnixMilli()

	if to == TaskStatusRunning {
		task.StartedAtMs = now
	}

	if to.Terminal() {
		task.CompletedAtMs = now
	}

	task.Status = to
	return nil
}
