package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mquinn/callboard/pkg/blackboard"
)

// Scheduler decides which queued tasks may run and hands them to workers.
// Dispatch gates (dependencies, resource locks) are re-checked every tick;
// a blocked task goes back in the queue rather than holding up the drain.
type Scheduler struct {
	client      *blackboard.Client
	taskTimeout time.Duration

	mu         sync.Mutex
	lockTokens map[string]string // taskID -> lock token held on its behalf
}

// NewScheduler creates a scheduler. taskTimeout bounds how long a dispatched
// task may stay RUNNING; it also serves as the TTL on task resource locks, so
// a dead worker's lock can never outlive its timed-out task by much.
func NewScheduler(client *blackboard.Client, taskTimeout time.Duration) *Scheduler {
	return &Scheduler{
		client:      client,
		taskTimeout: taskTimeout,
		lockTokens:  make(map[string]string),
	}
}

// CanDispatch reports whether a task's gates are open: every dependency
// COMPLETED and, when a lock is required, the lock key currently free.
// The lock check is advisory; DispatchTask acquires atomically and may still
// lose the race.
func (s *Scheduler) CanDispatch(ctx context.Context, task *blackboard.Task) (bool, error) {
	for _, depID := range task.Dependencies {
		dep, err := s.client.GetTask(ctx, depID)
		if blackboard.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if dep.Status != blackboard.TaskStatusCompleted {
			return false, nil
		}
	}

	if task.RequiresLock {
		free, err := s.client.LockAvailable(ctx, task.LockKey)
		if err != nil {
			return false, err
		}
		if !free {
			return false, nil
		}
	}

	return true, nil
}

// DispatchTask moves a task to RUNNING and publishes the hand-off on its
// worker's channel. If the task requires a lock, acquisition is non-blocking:
// a busy lock returns (false, nil) and the caller re-queues the task.
func (s *Scheduler) DispatchTask(ctx context.Context, task *blackboard.Task) (bool, error) {
	if task.RequiresLock {
		token, err := s.client.AcquireLock(ctx, task.LockKey, s.taskTimeout)
		if blackboard.IsLockBusy(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		s.mu.Lock()
		s.lockTokens[task.ID] = token
		s.mu.Unlock()
	}

	if task.Status == blackboard.TaskStatusPending {
		if err := blackboard.Transition(task, blackboard.TaskStatusReady); err != nil {
			s.releaseLockToken(ctx, task)
			return false, err
		}
	}
	if err := blackboard.Transition(task, blackboard.TaskStatusRunning); err != nil {
		s.releaseLockToken(ctx, task)
		return false, err
	}

	if err := s.client.SaveTask(ctx, task); err != nil {
		s.releaseLockToken(ctx, task)
		return false, err
	}

	// The index entry is what lets a restarted orchestrator find this task
	// when its worker goes silent.
	if err := s.client.TrackRunning(ctx, task.ID, time.Now()); err != nil {
		s.releaseLockToken(ctx, task)
		return false, err
	}

	input := task.Input
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	payload, err := json.Marshal(map[string]interface{}{
		"task_id":   task.ID,
		"task_type": task.Type,
		"input":     input,
	})
	if err != nil {
		return false, fmt.Errorf("failed to serialize dispatch payload for %s: %w", task.ID, err)
	}

	_, err = s.client.PublishToWorker(ctx, task.AssignedTo, &blackboard.Event{
		ProjectID:   task.ProjectID,
		Type:        blackboard.EventTaskDispatched,
		Actor:       "orchestrator",
		CausationID: task.CausationEventID,
		Payload:     payload,
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// TimedOut reports whether a RUNNING task has exceeded the timeout at the
// given instant.
func (s *Scheduler) TimedOut(task *blackboard.Task, now time.Time) bool {
	if task.Status != blackboard.TaskStatusRunning || task.StartedAtMs == 0 {
		return false
	}
	return now.UnixMilli()-task.StartedAtMs > s.taskTimeout.Milliseconds()
}

// FailTimedOut transitions a timed-out task to FAILED, releases its lock, and
// publishes task.failed. The task never stays RUNNING with a held lock.
func (s *Scheduler) FailTimedOut(ctx context.Context, task *blackboard.Task) error {
	task.ErrorMessage = fmt.Sprintf("timed out after %s", s.taskTimeout)
	if err := blackboard.Transition(task, blackboard.TaskStatusFailed); err != nil {
		return err
	}

	if err := s.client.SaveTask(ctx, task); err != nil {
		return err
	}

	if err := s.client.UntrackRunning(ctx, task.ID); err != nil {
		log.Printf("[Scheduler] Failed to untrack timed-out task %s: %v", task.ID, err)
	}

	s.ReleaseTaskLock(ctx, task)

	payload, err := json.Marshal(map[string]string{
		"task_id": task.ID,
		"error":   task.ErrorMessage,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize timeout payload for %s: %w", task.ID, err)
	}

	_, err = s.client.PublishEvent(ctx, &blackboard.Event{
		ProjectID:   task.ProjectID,
		Type:        blackboard.EventTaskFailed,
		Actor:       "orchestrator",
		CausationID: task.CausationEventID,
		Payload:     payload,
	})
	return err
}

// ReleaseTaskLock releases the lock held for a task, if any. Idempotent: a
// second release, an expired lock, or a task that never held one are no-ops.
func (s *Scheduler) ReleaseTaskLock(ctx context.Context, task *blackboard.Task) {
	s.releaseLockToken(ctx, task)
}

func (s *Scheduler) releaseLockToken(ctx context.Context, task *blackboard.Task) {
	if !task.RequiresLock {
		return
	}

	s.mu.Lock()
	token, ok := s.lockTokens[task.ID]
	delete(s.lockTokens, task.ID)
	s.mu.Unlock()

	if !ok {
		// No token on record (restart, or lock never acquired); the TTL is
		// the backstop.
		return
	}

	held, err := s.client.ReleaseLock(ctx, task.LockKey, token)
	if err != nil {
		log.Printf("[Scheduler] Failed to release lock %s for task %s: %v", task.LockKey, task.ID, err)
		return
	}
	if !held {
		log.Printf("[Scheduler] Lock %s for task %s had already expired", task.LockKey, task.ID)
	}
}
