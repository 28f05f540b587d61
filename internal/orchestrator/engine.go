package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mquinn/callboard/internal/config"
	"github.com/mquinn/callboard/pkg/blackboard"
)

// Engine is the orchestrator core: an event loop folding bus events into
// tasks, and a scheduler loop dispatching whatever the gates allow.
// One engine per instance; all durable state lives on the blackboard, so a
// restarted engine picks up from the queue and the event log.
type Engine struct {
	client       *blackboard.Client
	instanceName string
	cfg          *config.CallboardConfig
	mapper       *TaskMapper
	scheduler    *Scheduler
	budget       *BudgetChecker
	approvals    *ApprovalManager
	metrics      *Metrics
	healthServer *HealthServer
}

// NewEngine creates an orchestrator engine from a validated configuration.
func NewEngine(client *blackboard.Client, instanceName string, cfg *config.CallboardConfig) *Engine {
	metrics := NewMetrics()

	return &Engine{
		client:       client,
		instanceName: instanceName,
		cfg:          cfg,
		mapper:       NewTaskMapper(cfg),
		scheduler:    NewScheduler(client, cfg.TaskTimeout()),
		budget:       NewBudgetChecker(client),
		approvals:    NewApprovalManager(client, cfg.ApprovalTimeoutMinutes(), cfg.Budget.ApprovalCostThreshold),
		metrics:      metrics,
		healthServer: NewHealthServer(client, metrics, ":8080"),
	}
}

// subscribedTypes is the full set of event types the engine reacts to: every
// mapped trigger plus the control-plane types it always handles.
func (e *Engine) subscribedTypes() []blackboard.EventType {
	types := map[blackboard.EventType]bool{
		blackboard.EventProjectCreated:   true,
		blackboard.EventTaskCompleted:    true,
		blackboard.EventTaskFailed:       true,
		blackboard.EventApprovalDecision: true,
	}
	for _, et := range e.mapper.HandledTypes() {
		types[et] = true
	}

	result := make([]blackboard.EventType, 0, len(types))
	for et := range types {
		result = append(result, et)
	}
	return result
}

// Run starts the engine and blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer e.healthServer.Shutdown(context.Background())

	log.Printf("[Orchestrator] Starting for instance '%s'", e.instanceName)

	subscription, err := e.client.SubscribeEvents(ctx, e.subscribedTypes()...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	defer subscription.Close()

	ticker := time.NewTicker(e.cfg.SchedulerTick())
	defer ticker.Stop()

	log.Printf("[Orchestrator] Subscribed to %d event types, tick %s",
		len(e.subscribedTypes()), e.cfg.SchedulerTick())

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Orchestrator] Shutting down...")
			return nil

		case event, ok := <-subscription.Events():
			if !ok {
				log.Printf("[Orchestrator] Subscription closed")
				return nil
			}

			e.metrics.EventsConsumed.Inc()

			if err := e.handleEvent(ctx, event); err != nil {
				log.Printf("[Orchestrator] Error processing event %s: %v", event.ID, err)
				// Continue processing - don't crash on single event failure
			}

		case err, ok := <-subscription.Errors():
			if !ok {
				log.Printf("[Orchestrator] Error channel closed")
				return nil
			}
			log.Printf("[Orchestrator] Subscription error: %v", err)
			// Continue processing - errors are non-fatal

		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// handleEvent processes a single bus event through the full pipeline:
// bootstrap, pause gate, result folding, approval gate, mapping, budget gate,
// enqueue.
func (e *Engine) handleEvent(ctx context.Context, event *blackboard.Event) error {
	e.logEvent("event_received", map[string]interface{}{
		"event_id":   event.ID,
		"project_id": event.ProjectID,
		"type":       string(event.Type),
		"actor":      event.Actor,
	})

	if event.Type == blackboard.EventProjectCreated {
		if err := e.budget.EnsureBudget(ctx, event.ProjectID, "orchestrator",
			e.cfg.Budget.DefaultTotal, e.cfg.Budget.Currency); err != nil {
			log.Printf("[Orchestrator] Failed to seed budget for %s: %v", event.ProjectID, err)
		}
	}

	// Decisions must get through while the project is paused; they are what
	// un-pauses it.
	if event.Type == blackboard.EventApprovalDecision {
		return e.approvals.HandleDecision(ctx, event)
	}

	paused, err := e.client.IsPaused(ctx, event.ProjectID)
	if err != nil {
		return err
	}
	if paused {
		e.metrics.EventsDropped.Inc()
		e.logEvent("event_dropped_paused", map[string]interface{}{
			"event_id":   event.ID,
			"project_id": event.ProjectID,
		})
		return nil
	}

	if event.Type == blackboard.EventTaskCompleted || event.Type == blackboard.EventTaskFailed {
		if err := e.handleTaskResult(ctx, event); err != nil {
			return err
		}
		// Result types may also be mapped as triggers; fall through.
	}

	candidates := e.mapper.BuildTasks(event)

	var maxCost float64
	for _, task := range candidates {
		if task.EstimatedCost > maxCost {
			maxCost = task.EstimatedCost
		}
	}

	required, reason := e.approvals.Required(ctx, event, maxCost)
	if required {
		e.metrics.ApprovalsOpened.Inc()
		e.logEvent("approval_requested", map[string]interface{}{
			"event_id":   event.ID,
			"project_id": event.ProjectID,
			"reason":     reason,
		})
		return e.approvals.Request(ctx, event, reason, maxCost)
	}

	for _, task := range candidates {
		affordable, err := e.budget.CheckBudget(ctx, task.ProjectID, task.EstimatedCost)
		if err != nil {
			return err
		}
		if !affordable {
			e.metrics.BudgetRejections.Inc()
			e.logEvent("task_skipped_budget", map[string]interface{}{
				"project_id":     task.ProjectID,
				"task_type":      task.Type,
				"estimated_cost": task.EstimatedCost,
			})
			continue
		}

		if err := e.client.EnqueueTask(ctx, task); err != nil {
			return err
		}

		e.metrics.TasksEnqueued.Inc()
		e.logEvent("task_enqueued", map[string]interface{}{
			"task_id":    task.ID,
			"project_id": task.ProjectID,
			"task_type":  task.Type,
			"priority":   task.Priority,
		})
	}

	return nil
}

// taskResultPayload is the payload workers put on task.completed/task.failed.
type taskResultPayload struct {
	TaskID            string  `json:"task_id"`
	ActualCost        float64 `json:"actual_cost,omitempty"`
	BlackboardPointer string  `json:"blackboard_pointer,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// handleTaskResult folds a worker's result event back into the task record:
// completion archives, failure retries while the budget allows.
func (e *Engine) handleTaskResult(ctx context.Context, event *blackboard.Event) error {
	var payload taskResultPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("malformed result payload on event %s: %w", event.ID, err)
	}
	if payload.TaskID == "" {
		return fmt.Errorf("result event %s names no task", event.ID)
	}

	task, err := e.client.GetTask(ctx, payload.TaskID)
	if blackboard.IsNotFound(err) {
		log.Printf("[Orchestrator] Result for unknown task %s; ignoring", payload.TaskID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.client.UntrackRunning(ctx, task.ID); err != nil {
		log.Printf("[Orchestrator] Failed to untrack task %s: %v", task.ID, err)
	}

	switch event.Type {
	case blackboard.EventTaskCompleted:
		if task.Status.Terminal() {
			return nil
		}
		if err := blackboard.Transition(task, blackboard.TaskStatusCompleted); err != nil {
			log.Printf("[Orchestrator] Cannot complete task %s: %v", task.ID, err)
			return nil
		}

		task.Output = event.Payload
		task.ActualCost = payload.ActualCost
		if err := e.client.SaveTask(ctx, task); err != nil {
			return err
		}

		e.scheduler.ReleaseTaskLock(ctx, task)
		e.metrics.TasksCompleted.Inc()

		if err := e.budget.ApplyCost(ctx, task.ProjectID, "orchestrator", payload.ActualCost); err != nil {
			log.Printf("[Orchestrator] Failed to record spend for task %s: %v", task.ID, err)
		}

		return e.client.ArchiveTask(ctx, task)

	case blackboard.EventTaskFailed:
		// The timeout sweep fails tasks directly, so the task may already be
		// FAILED when its task.failed event comes around.
		if task.Status != blackboard.TaskStatusFailed {
			if err := blackboard.Transition(task, blackboard.TaskStatusFailed); err != nil {
				log.Printf("[Orchestrator] Cannot fail task %s: %v", task.ID, err)
				return nil
			}
			if payload.Error != "" {
				task.ErrorMessage = payload.Error
			}
			task.ActualCost = payload.ActualCost
			if err := e.client.SaveTask(ctx, task); err != nil {
				return err
			}
		}

		e.scheduler.ReleaseTaskLock(ctx, task)
		e.metrics.TasksFailed.Inc()

		if err := e.budget.ApplyCost(ctx, task.ProjectID, "orchestrator", payload.ActualCost); err != nil {
			log.Printf("[Orchestrator] Failed to record spend for task %s: %v", task.ID, err)
		}

		if task.RetryCount < task.MaxRetries {
			task.RetryCount++
			if err := blackboard.Transition(task, blackboard.TaskStatusPending); err != nil {
				return err
			}
			e.logEvent("task_retried", map[string]interface{}{
				"task_id":     task.ID,
				"retry_count": task.RetryCount,
				"max_retries": task.MaxRetries,
			})
			return e.client.EnqueueTask(ctx, task)
		}

		e.logEvent("task_exhausted", map[string]interface{}{
			"task_id": task.ID,
			"error":   task.ErrorMessage,
		})
		return e.client.ArchiveTask(ctx, task)
	}

	return nil
}

// tick runs one scheduler pass: drain dispatchable tasks, sweep timed-out
// running tasks, sweep expired approvals.
func (e *Engine) tick(ctx context.Context) {
	e.drainQueue(ctx)
	e.sweepTimeouts(ctx)

	timedOut, err := e.approvals.SweepTimeouts(ctx, time.Now())
	if err != nil {
		log.Printf("[Orchestrator] Approval sweep failed: %v", err)
	}
	e.metrics.ApprovalsTimedOut.Add(float64(timedOut))
}

// drainQueue pops every currently queued task once. Dispatchable tasks go to
// workers; blocked ones are re-enqueued for a later tick, so a blocked
// high-priority task never starves an unblocked lower-priority one.
func (e *Engine) drainQueue(ctx context.Context) {
	size, err := e.client.QueueSize(ctx)
	if err != nil {
		log.Printf("[Orchestrator] Cannot size queue: %v", err)
		return
	}

	var blocked []*blackboard.Task

	for i := int64(0); i < size; i++ {
		task, err := e.client.DequeueTask(ctx)
		if err != nil {
			log.Printf("[Orchestrator] Dequeue failed: %v", err)
			break
		}
		if task == nil {
			break
		}

		// Stale queue entries (cancelled while queued, etc.) just drop out.
		if task.Status != blackboard.TaskStatusPending && task.Status != blackboard.TaskStatusReady {
			continue
		}

		paused, err := e.client.IsPaused(ctx, task.ProjectID)
		if err != nil {
			log.Printf("[Orchestrator] Pause check failed for task %s: %v", task.ID, err)
			blocked = append(blocked, task)
			continue
		}
		if paused {
			blocked = append(blocked, task)
			continue
		}

		ok, err := e.scheduler.CanDispatch(ctx, task)
		if err != nil {
			log.Printf("[Orchestrator] Dispatch check failed for task %s: %v", task.ID, err)
			blocked = append(blocked, task)
			continue
		}
		if !ok {
			blocked = append(blocked, task)
			continue
		}

		dispatched, err := e.scheduler.DispatchTask(ctx, task)
		if err != nil {
			log.Printf("[Orchestrator] Dispatch failed for task %s: %v", task.ID, err)
			blocked = append(blocked, task)
			continue
		}
		if !dispatched {
			// Lost the lock race since the advisory check.
			blocked = append(blocked, task)
			continue
		}

		e.metrics.TasksDispatched.Inc()
		e.logEvent("task_dispatched", map[string]interface{}{
			"task_id":    task.ID,
			"project_id": task.ProjectID,
			"task_type":  task.Type,
			"worker":     task.AssignedTo,
		})
	}

	for _, task := range blocked {
		if err := e.client.EnqueueTask(ctx, task); err != nil {
			log.Printf("[Orchestrator] Re-enqueue failed for task %s: %v", task.ID, err)
		}
	}
}

// sweepTimeouts fails RUNNING tasks that have exceeded the task timeout. The
// candidate set comes from the durable running-task index, so a restarted
// orchestrator still fails tasks its predecessor dispatched to a worker that
// then died. started_at is restamped per attempt, so a retried task is judged
// on its current run, not its first.
func (e *Engine) sweepTimeouts(ctx context.Context) {
	now := time.Now()
	cutoff := now.Add(-e.cfg.TaskTimeout())

	overdue, err := e.client.OverdueRunning(ctx, cutoff)
	if err != nil {
		log.Printf("[Orchestrator] Timeout sweep failed: %v", err)
		return
	}

	for _, task := range overdue {
		if task.Status != blackboard.TaskStatusRunning {
			// Its result arrived through another path; drop the stale entry.
			if err := e.client.UntrackRunning(ctx, task.ID); err != nil {
				log.Printf("[Orchestrator] Failed to untrack task %s: %v", task.ID, err)
			}
			continue
		}

		if !e.scheduler.TimedOut(task, now) {
			continue
		}

		e.metrics.TasksTimedOut.Inc()

		if err := e.scheduler.FailTimedOut(ctx, task); err != nil {
			log.Printf("[Orchestrator] Failed to time out task %s: %v", task.ID, err)
		}
	}
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "orchestrator"
	data["event_type"] = eventType
	data["instance"] = e.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Orchestrator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
