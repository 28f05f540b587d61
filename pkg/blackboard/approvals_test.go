package blackboard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApprovalRequest(projectID string, timeoutMinutes int) *ApprovalRequest {
	return &ApprovalRequest{
		ID:             uuid.New().String(),
		ProjectID:      projectID,
		Reason:         "estimated cost exceeds threshold",
		Context:        json.RawMessage(`{"estimated_cost":42.5}`),
		Status:         ApprovalStatusPending,
		CreatedAtMs:    time.Now().UnixMilli(),
		TimeoutMinutes: timeoutMinutes,
	}
}

func TestCreateApproval(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("persists and indexes the request", func(t *testing.T) {
		request := newApprovalRequest("p1", 30)
		require.NoError(t, client.CreateApproval(ctx, request))

		stored, err := client.GetApproval(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, request.ID, stored.ID)
		assert.Equal(t, ApprovalStatusPending, stored.Status)
		assert.JSONEq(t, `{"estimated_cost":42.5}`, string(stored.Context))

		pending, err := client.PendingApprovalForProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, request.ID, pending.ID)
	})

	t.Run("one pending gate per project", func(t *testing.T) {
		err := client.CreateApproval(ctx, newApprovalRequest("p1", 30))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		request := newApprovalRequest("p2", 30)
		request.Reason = ""
		assert.Error(t, client.CreateApproval(ctx, request))
	})
}

func TestGetApprovalNotFound(t *testing.T) {
	client, _ := setupTestClient(t)

	_, err := client.GetApproval(context.Background(), uuid.New().String())
	assert.True(t, IsNotFound(err))
}

func TestPendingApprovalForProject(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("no gate is ErrNotFound", func(t *testing.T) {
		_, err := client.PendingApprovalForProject(ctx, "p3")
		assert.True(t, IsNotFound(err))
	})

	t.Run("gate clears after resolution", func(t *testing.T) {
		request := newApprovalRequest("p3", 30)
		require.NoError(t, client.CreateApproval(ctx, request))

		resolved, err := client.ResolveApproval(ctx, request.ID, ApprovalStatusDecided, DecisionApprove)
		require.NoError(t, err)
		assert.True(t, resolved)

		_, err = client.PendingApprovalForProject(ctx, "p3")
		assert.True(t, IsNotFound(err))

		// With the gate cleared a new request may open.
		require.NoError(t, client.CreateApproval(ctx, newApprovalRequest("p3", 30)))
	})
}

func TestResolveApproval(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("records the decision", func(t *testing.T) {
		request := newApprovalRequest("p4", 30)
		require.NoError(t, client.CreateApproval(ctx, request))

		resolved, err := client.ResolveApproval(ctx, request.ID, ApprovalStatusDecided, DecisionReject)
		require.NoError(t, err)
		assert.True(t, resolved)

		stored, err := client.GetApproval(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, ApprovalStatusDecided, stored.Status)
		assert.Equal(t, DecisionReject, stored.Decision)
		assert.NotZero(t, stored.DecidedAtMs)
	})

	t.Run("resolves at most once", func(t *testing.T) {
		request := newApprovalRequest("p5", 30)
		require.NoError(t, client.CreateApproval(ctx, request))

		resolved, err := client.ResolveApproval(ctx, request.ID, ApprovalStatusDecided, DecisionApprove)
		require.NoError(t, err)
		require.True(t, resolved)

		// A racing timeout sweep must not overwrite the decision.
		resolved, err = client.ResolveApproval(ctx, request.ID, ApprovalStatusTimedOut, "")
		require.NoError(t, err)
		assert.False(t, resolved)

		stored, err := client.GetApproval(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, ApprovalStatusDecided, stored.Status)
		assert.Equal(t, DecisionApprove, stored.Decision)
	})

	t.Run("rejects non-terminal target status", func(t *testing.T) {
		_, err := client.ResolveApproval(ctx, uuid.New().String(), ApprovalStatusPending, DecisionApprove)
		assert.Error(t, err)
	})

	t.Run("unknown request is ErrNotFound", func(t *testing.T) {
		_, err := client.ResolveApproval(ctx, uuid.New().String(), ApprovalStatusTimedOut, "")
		assert.True(t, IsNotFound(err))
	})
}

func TestDueApprovals(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	overdue := newApprovalRequest("p6", 30)
	overdue.CreatedAtMs = time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, client.CreateApproval(ctx, overdue))

	fresh := newApprovalRequest("p7", 30)
	require.NoError(t, client.CreateApproval(ctx, fresh))

	due, err := client.DueApprovals(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, overdue.ID, due[0].ID)

	// Resolving the overdue request drops it from the sweep.
	resolved, err := client.ResolveApproval(ctx, overdue.ID, ApprovalStatusTimedOut, "")
	require.NoError(t, err)
	require.True(t, resolved)

	due, err = client.DueApprovals(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}
