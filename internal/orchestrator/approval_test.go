package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mquinn/callboard/pkg/blackboard"
)

func TestApprovalRequired(t *testing.T) {
	engine, client, _ := setupEngine(t)
	manager := engine.approvals
	ctx := context.Background()

	t.Run("cheap work needs no approval", func(t *testing.T) {
		required, _ := manager.Required(ctx, newTriggerEvent(blackboard.EventStoryboardReady, ""), 10)
		assert.False(t, required)
	})

	t.Run("cost above threshold needs approval", func(t *testing.T) {
		required, reason := manager.Required(ctx, newTriggerEvent(blackboard.EventStoryboardReady, ""), 75)
		assert.True(t, required)
		assert.Contains(t, reason, "exceeds approval threshold")
	})

	t.Run("zero threshold disables cost approval", func(t *testing.T) {
		disabled := NewApprovalManager(client, 60, 0)
		required, _ := disabled.Required(ctx, newTriggerEvent(blackboard.EventStoryboardReady, ""), 1e9)
		assert.False(t, required)
	})

	t.Run("quality failure with retries exhausted needs approval", func(t *testing.T) {
		task := &blackboard.Task{
			ID:         uuid.New().String(),
			ProjectID:  "p1",
			Type:       "video.render",
			AssignedTo: "video-agent",
			Status:     blackboard.TaskStatusFailed,
			RetryCount: 3,
			MaxRetries: 3,
		}
		require.NoError(t, client.SaveTask(ctx, task))

		event := newTriggerEvent(blackboard.EventQAFailed, `{"task_id":"`+task.ID+`"}`)
		required, reason := manager.Required(ctx, event, 0)
		assert.True(t, required)
		assert.Contains(t, reason, "retries exhausted")
	})

	t.Run("quality failure with retries left does not", func(t *testing.T) {
		task := &blackboard.Task{
			ID:         uuid.New().String(),
			ProjectID:  "p1",
			Type:       "video.render",
			AssignedTo: "video-agent",
			Status:     blackboard.TaskStatusFailed,
			RetryCount: 1,
			MaxRetries: 3,
		}
		require.NoError(t, client.SaveTask(ctx, task))

		event := newTriggerEvent(blackboard.EventQAFailed, `{"task_id":"`+task.ID+`"}`)
		required, _ := manager.Required(ctx, event, 0)
		assert.False(t, required)
	})
}

func TestApprovalRequest(t *testing.T) {
	engine, client, _ := setupEngine(t)
	manager := engine.approvals
	ctx := context.Background()

	trigger := newTriggerEvent(blackboard.EventStoryboardReady, "")
	_, err := client.PublishEvent(ctx, trigger)
	require.NoError(t, err)

	require.NoError(t, manager.Request(ctx, trigger, "too expensive", 75))

	t.Run("opens a pending gate", func(t *testing.T) {
		pending, err := client.PendingApprovalForProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "too expensive", pending.Reason)
		assert.Equal(t, blackboard.ApprovalStatusPending, pending.Status)
	})

	t.Run("pauses the project", func(t *testing.T) {
		paused, err := client.IsPaused(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, paused)
	})

	t.Run("publishes approval.requested caused by the trigger", func(t *testing.T) {
		history, err := client.ReplayEvents(ctx, "p1")
		require.NoError(t, err)

		var requested *blackboard.Event
		for _, event := range history {
			if event.Type == blackboard.EventApprovalRequested {
				requested = event
			}
		}
		require.NotNil(t, requested)
		assert.Equal(t, trigger.ID, requested.CausationID)
	})

	t.Run("an existing gate absorbs further requests", func(t *testing.T) {
		require.NoError(t, manager.Request(ctx, trigger, "still too expensive", 80))

		pending, err := client.PendingApprovalForProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "too expensive", pending.Reason)
	})
}

func TestHandleDecision_Reject(t *testing.T) {
	engine, client, _ := setupEngine(t)
	manager := engine.approvals
	ctx := context.Background()

	// A queued task that the rejection must cancel.
	task := &blackboard.Task{
		ID:         uuid.New().String(),
		ProjectID:  "p1",
		Type:       "video.render",
		AssignedTo: "video-agent",
		Status:     blackboard.TaskStatusPending,
		MaxRetries: 3,
	}
	require.NoError(t, client.EnqueueTask(ctx, task))

	trigger := newTriggerEvent(blackboard.EventStoryboardReady, "")
	_, err := client.PublishEvent(ctx, trigger)
	require.NoError(t, err)
	require.NoError(t, manager.Request(ctx, trigger, "too expensive", 75))

	pending, err := client.PendingApprovalForProject(ctx, "p1")
	require.NoError(t, err)

	decision := newTriggerEvent(blackboard.EventApprovalDecision,
		`{"request_id":"`+pending.ID+`","decision":"reject"}`)
	require.NoError(t, manager.HandleDecision(ctx, decision))

	t.Run("queued tasks are cancelled and archived", func(t *testing.T) {
		stored, err := client.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, blackboard.TaskStatusCancelled, stored.Status)

		empty, err := client.QueueEmpty(ctx)
		require.NoError(t, err)
		assert.True(t, empty)
	})

	t.Run("project stays paused", func(t *testing.T) {
		paused, err := client.IsPaused(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, paused)
	})
}

func TestHandleDecision_FallsBackToProjectGate(t *testing.T) {
	engine, client, _ := setupEngine(t)
	manager := engine.approvals
	ctx := context.Background()

	trigger := newTriggerEvent(blackboard.EventStoryboardReady, "")
	_, err := client.PublishEvent(ctx, trigger)
	require.NoError(t, err)
	require.NoError(t, manager.Request(ctx, trigger, "too expensive", 75))

	// No request_id in the payload; the project's pending gate is resolved.
	decision := newTriggerEvent(blackboard.EventApprovalDecision, `{"decision":"approve"}`)
	require.NoError(t, manager.HandleDecision(ctx, decision))

	paused, err := client.IsPaused(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestHandleDecision_MalformedPayload(t *testing.T) {
	engine, _, _ := setupEngine(t)
	manager := engine.approvals
	ctx := context.Background()

	decision := newTriggerEvent(blackboard.EventApprovalDecision, `{"decision":"perhaps"}`)
	assert.Error(t, manager.HandleDecision(ctx, decision))
}

func TestSweepTimeouts(t *testing.T) {
	engine, client, _ := setupEngine(t)
	manager := engine.approvals
	ctx := context.Background()

	trigger := newTriggerEvent(blackboard.EventStoryboardReady, "")
	_, err := client.PublishEvent(ctx, trigger)
	require.NoError(t, err)
	require.NoError(t, manager.Request(ctx, trigger, "too expensive", 75))

	pending, err := client.PendingApprovalForProject(ctx, "p1")
	require.NoError(t, err)

	t.Run("fresh requests are untouched", func(t *testing.T) {
		timedOut, err := manager.SweepTimeouts(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, timedOut)
	})

	t.Run("overdue requests expire", func(t *testing.T) {
		deadline := time.Now().Add(time.Duration(pending.TimeoutMinutes+1) * time.Minute)

		timedOut, err := manager.SweepTimeouts(ctx, deadline)
		require.NoError(t, err)
		assert.Equal(t, 1, timedOut)

		expired, err := client.GetApproval(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, blackboard.ApprovalStatusTimedOut, expired.Status)

		// Expiry escalates; it never resumes the project.
		paused, err := client.IsPaused(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, paused)

		history, err := client.ReplayEvents(ctx, "p1")
		require.NoError(t, err)
		var sawTimeout bool
		for _, event := range history {
			if event.Type == blackboard.EventApprovalTimeout {
				sawTimeout = true
			}
		}
		assert.True(t, sawTimeout, "no approval.timeout event published")
	})

	t.Run("a second sweep finds nothing", func(t *testing.T) {
		deadline := time.Now().Add(time.Duration(pending.TimeoutMinutes+1) * time.Minute)

		timedOut, err := manager.SweepTimeouts(ctx, deadline)
		require.NoError(t, err)
		assert.Zero(t, timedOut)
	})
}
