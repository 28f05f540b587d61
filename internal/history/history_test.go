package history

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mquinn/callboard/pkg/blackboard"
)

func setupHistoryTest(t *testing.T) *blackboard.Client {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func publishHistoryEvent(t *testing.T, client *blackboard.Client, projectID string, et blackboard.EventType, actor, causationID string) *blackboard.Event {
	t.Helper()

	event := &blackboard.Event{
		ProjectID:   projectID,
		Type:        et,
		Actor:       actor,
		CausationID: causationID,
		Payload:     json.RawMessage(`{"note":"fixture"}`),
	}
	_, err := client.PublishEvent(context.Background(), event)
	require.NoError(t, err)
	return event
}

func TestListEvents_Table(t *testing.T) {
	client := setupHistoryTest(t)
	ctx := context.Background()

	publishHistoryEvent(t, client, "p1", blackboard.EventProjectCreated, "user", "")
	publishHistoryEvent(t, client, "p1", blackboard.EventScriptDrafted, "script-agent", "")
	publishHistoryEvent(t, client, "other", blackboard.EventProjectCreated, "user", "")

	var out bytes.Buffer
	require.NoError(t, ListEvents(ctx, client, "p1", FilterCriteria{}, OutputFormatDefault, &out))

	text := out.String()
	assert.Contains(t, text, "Events for project 'p1'")
	assert.Contains(t, text, "project.created")
	assert.Contains(t, text, "script.drafted")
	assert.Contains(t, text, "2 events found")
}

func TestListEvents_JSONL(t *testing.T) {
	client := setupHistoryTest(t)
	ctx := context.Background()

	first := publishHistoryEvent(t, client, "p1", blackboard.EventProjectCreated, "user", "")

	var out bytes.Buffer
	require.NoError(t, ListEvents(ctx, client, "p1", FilterCriteria{}, OutputFormatJSONL, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)

	var decoded blackboard.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, first.ID, decoded.ID)
}

func TestListEvents_Filters(t *testing.T) {
	client := setupHistoryTest(t)
	ctx := context.Background()

	publishHistoryEvent(t, client, "p1", blackboard.EventProjectCreated, "user", "")
	publishHistoryEvent(t, client, "p1", blackboard.EventQAPassed, "qa-agent", "")
	publishHistoryEvent(t, client, "p1", blackboard.EventQAFailed, "qa-agent", "")

	t.Run("type glob", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, ListEvents(ctx, client, "p1", FilterCriteria{TypeGlob: "qa.*"}, OutputFormatDefault, &out))
		assert.Contains(t, out.String(), "2 events found")
	})

	t.Run("actor", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, ListEvents(ctx, client, "p1", FilterCriteria{Actor: "user"}, OutputFormatDefault, &out))
		assert.Contains(t, out.String(), "1 event found")
	})

	t.Run("since excludes older events", func(t *testing.T) {
		var out bytes.Buffer
		future := time.Now().Add(time.Hour).UnixMilli()
		require.NoError(t, ListEvents(ctx, client, "p1", FilterCriteria{SinceTimestampMs: future}, OutputFormatDefault, &out))
		assert.Contains(t, out.String(), "No events found")
	})
}

func TestGetEvent(t *testing.T) {
	client := setupHistoryTest(t)
	ctx := context.Background()

	event := publishHistoryEvent(t, client, "p1", blackboard.EventProjectCreated, "user", "")

	t.Run("writes pretty JSON", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, GetEvent(ctx, client, event.ID, &out))

		var decoded blackboard.Event
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		assert.Equal(t, event.ID, decoded.ID)
		assert.Contains(t, out.String(), "\n  ") // indented
	})

	t.Run("invalid ID is rejected before Redis", func(t *testing.T) {
		var out bytes.Buffer
		err := GetEvent(ctx, client, "not-a-uuid", &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid event ID format")
	})

	t.Run("unknown ID yields a typed not-found error", func(t *testing.T) {
		var out bytes.Buffer
		err := GetEvent(ctx, client, uuid.New().String(), &out)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})
}

func TestChain(t *testing.T) {
	client := setupHistoryTest(t)
	ctx := context.Background()

	root := publishHistoryEvent(t, client, "p1", blackboard.EventProjectCreated, "user", "")
	middle := publishHistoryEvent(t, client, "p1", blackboard.EventScriptDrafted, "script-agent", root.ID)
	leaf := publishHistoryEvent(t, client, "p1", blackboard.EventShotListReady, "script-agent", middle.ID)

	var out bytes.Buffer
	require.NoError(t, Chain(ctx, client, leaf.ID, &out))

	text := out.String()
	assert.Contains(t, text, "3 events in chain")

	// Root first: project.created must appear before shotlist.ready.
	assert.Less(t, strings.Index(text, "project.created"), strings.Index(text, "shotlist.ready"))
}

func TestListTasks(t *testing.T) {
	client := setupHistoryTest(t)
	ctx := context.Background()

	queued := &blackboard.Task{
		ID:         uuid.New().String(),
		ProjectID:  "p1",
		Type:       "video.render",
		AssignedTo: "video-agent",
		Status:     blackboard.TaskStatusPending,
		Priority:   5,
		MaxRetries: 3,
	}
	require.NoError(t, client.EnqueueTask(ctx, queued))

	done := &blackboard.Task{
		ID:            uuid.New().String(),
		ProjectID:     "p1",
		Type:          "script.draft",
		AssignedTo:    "script-agent",
		Status:        blackboard.TaskStatusCompleted,
		MaxRetries:    3,
		CompletedAtMs: time.Now().UnixMilli(),
	}
	require.NoError(t, client.SaveTask(ctx, done))
	require.NoError(t, client.ArchiveTask(ctx, done))

	var out bytes.Buffer
	require.NoError(t, ListTasks(ctx, client, "p1", &out))

	text := out.String()
	assert.Contains(t, text, "video.render")
	assert.Contains(t, text, "script.draft")
	assert.Contains(t, text, "2 tasks found")
}
