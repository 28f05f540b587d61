package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mquinn/callboard/pkg/blackboard"
)

// ApprovalManager owns the human-in-the-loop gate: it decides when an event
// needs sign-off, pauses the project while the request is pending, and folds
// decisions and timeouts back into project state.
type ApprovalManager struct {
	client         *blackboard.Client
	timeoutMinutes int
	costThreshold  float64
}

// NewApprovalManager creates an approval manager.
// costThreshold of 0 disables cost-based approval.
func NewApprovalManager(client *blackboard.Client, timeoutMinutes int, costThreshold float64) *ApprovalManager {
	return &ApprovalManager{
		client:         client,
		timeoutMinutes: timeoutMinutes,
		costThreshold:  costThreshold,
	}
}

// approvalContext is the JSON context stored on an approval request and
// carried on approval.requested events.
type approvalContext struct {
	TriggeringEventID string  `json:"triggering_event_id"`
	EventType         string  `json:"event_type"`
	EstimatedCost     float64 `json:"estimated_cost,omitempty"`
}

// decisionPayload is the expected payload of approval.decision events.
type decisionPayload struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// Required reports whether the event needs human approval before the
// orchestrator acts on it, with a human-readable reason.
// Two triggers: a quality failure with no retries left on the failing task,
// and work estimated above the cost threshold.
func (a *ApprovalManager) Required(ctx context.Context, event *blackboard.Event, estimatedCost float64) (bool, string) {
	if event.Type == blackboard.EventQAFailed {
		var result struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(event.Payload, &result); err == nil && result.TaskID != "" {
			task, err := a.client.GetTask(ctx, result.TaskID)
			if err == nil && task.RetryCount >= task.MaxRetries {
				return true, fmt.Sprintf("quality check failed with retries exhausted (task %s)", result.TaskID)
			}
		}
	}

	if a.costThreshold > 0 && estimatedCost > a.costThreshold {
		return true, fmt.Sprintf("estimated cost %.2f exceeds approval threshold %.2f", estimatedCost, a.costThreshold)
	}

	return false, ""
}

// Request opens an approval gate for the project: persists the request,
// durably pauses the project, and publishes approval.requested. If the project
// already has a pending gate the existing one stands and no new request is
// created.
func (a *ApprovalManager) Request(ctx context.Context, event *blackboard.Event, reason string, estimatedCost float64) error {
	reqContext, err := json.Marshal(approvalContext{
		TriggeringEventID: event.ID,
		EventType:         string(event.Type),
		EstimatedCost:     estimatedCost,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize approval context: %w", err)
	}

	request := &blackboard.ApprovalRequest{
		ID:             uuid.New().String(),
		ProjectID:      event.ProjectID,
		Reason:         reason,
		Context:        reqContext,
		Status:         blackboard.ApprovalStatusPending,
		CreatedAtMs:    time.Now().UnixMilli(),
		TimeoutMinutes: a.timeoutMinutes,
	}

	err = a.client.CreateApproval(ctx, request)
	if blackboard.IsAlreadyExists(err) {
		log.Printf("[Approval] Project %s already gated; skipping new request", event.ProjectID)
		return nil
	}
	if err != nil {
		return err
	}

	// Pause before announcing: by the time anyone sees the request, event
	// handling for the project is already stopped.
	if err := a.client.SetPaused(ctx, event.ProjectID, "orchestrator", true); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"request_id": request.ID,
		"reason":     reason,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize approval payload: %w", err)
	}

	_, err = a.client.PublishEvent(ctx, &blackboard.Event{
		ProjectID:   event.ProjectID,
		Type:        blackboard.EventApprovalRequested,
		Actor:       "orchestrator",
		CausationID: event.ID,
		Payload:     payload,
	})
	return err
}

// HandleDecision resolves the pending request named by an approval.decision
// event. Approve and revise resume the project; reject cancels the project's
// queued tasks and leaves it paused for human intervention. A decision for an
// already-resolved request is a no-op.
func (a *ApprovalManager) HandleDecision(ctx context.Context, event *blackboard.Event) error {
	var payload decisionPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("malformed decision payload on event %s: %w", event.ID, err)
	}

	decision := blackboard.Decision(payload.Decision)
	if err := decision.Validate(); err != nil {
		return fmt.Errorf("event %s: %w", event.ID, err)
	}

	requestID := payload.RequestID
	if requestID == "" {
		// Fall back to the project's pending gate.
		pending, err := a.client.PendingApprovalForProject(ctx, event.ProjectID)
		if err != nil {
			return err
		}
		requestID = pending.ID
	}

	resolved, err := a.client.ResolveApproval(ctx, requestID, blackboard.ApprovalStatusDecided, decision)
	if err != nil {
		return err
	}
	if !resolved {
		log.Printf("[Approval] Request %s already resolved; ignoring decision", requestID)
		return nil
	}

	switch decision {
	case blackboard.DecisionApprove, blackboard.DecisionRevise:
		return a.client.SetPaused(ctx, event.ProjectID, "orchestrator", false)

	case blackboard.DecisionReject:
		return a.cancelQueuedTasks(ctx, event.ProjectID)
	}

	return nil
}

// SweepTimeouts moves overdue pending requests to TIMED_OUT and publishes an
// approval.timeout event for each, returning how many expired. Timed-out
// projects stay paused: expiry escalates to a human, it never auto-resumes
// work nobody signed off on.
func (a *ApprovalManager) SweepTimeouts(ctx context.Context, now time.Time) (int, error) {
	due, err := a.client.DueApprovals(ctx, now)
	if err != nil {
		return 0, err
	}

	timedOut := 0
	for _, request := range due {
		resolved, err := a.client.ResolveApproval(ctx, request.ID, blackboard.ApprovalStatusTimedOut, "")
		if err != nil {
			return timedOut, err
		}
		if !resolved {
			continue
		}

		payload, err := json.Marshal(map[string]string{
			"request_id": request.ID,
			"reason":     request.Reason,
		})
		if err != nil {
			return timedOut, fmt.Errorf("failed to serialize timeout payload: %w", err)
		}

		if _, err := a.client.PublishEvent(ctx, &blackboard.Event{
			ProjectID: request.ProjectID,
			Type:      blackboard.EventApprovalTimeout,
			Actor:     "orchestrator",
			Payload:   payload,
		}); err != nil {
			return timedOut, err
		}

		timedOut++
		log.Printf("[Approval] Request %s for project %s timed out after %d minutes",
			request.ID, request.ProjectID, request.TimeoutMinutes)
	}

	return timedOut, nil
}

// cancelQueuedTasks cancels and archives every queued task of a rejected
// project. RUNNING tasks are left to finish or time out; their results arrive
// against a paused project and are recorded without spawning new work.
func (a *ApprovalManager) cancelQueuedTasks(ctx context.Context, projectID string) error {
	tasks, err := a.client.QueuedTasksByProject(ctx, projectID)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if err := blackboard.Transition(task, blackboard.TaskStatusCancelled); err != nil {
			log.Printf("[Approval] Cannot cancel task %s: %v", task.ID, err)
			continue
		}
		if err := a.client.SaveTask(ctx, task); err != nil {
			return err
		}
		if err := a.client.ArchiveTask(ctx, task); err != nil {
			return err
		}
	}

	return nil
}
