package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mquinn/callboard/pkg/blackboard"
)

func setupWatchTest(t *testing.T) *blackboard.Client {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestPollForEvent(t *testing.T) {
	client := setupWatchTest(t)
	ctx := context.Background()

	t.Run("finds an event published mid-poll", func(t *testing.T) {
		go func() {
			time.Sleep(300 * time.Millisecond)
			client.PublishEvent(ctx, &blackboard.Event{
				ProjectID: "p1",
				Type:      blackboard.EventScriptDrafted,
				Actor:     "script-agent",
			})
		}()

		event, err := PollForEvent(ctx, client, "p1", blackboard.EventScriptDrafted, 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, blackboard.EventScriptDrafted, event.Type)
	})

	t.Run("times out when the event never arrives", func(t *testing.T) {
		_, err := PollForEvent(ctx, client, "p1", blackboard.EventQAPassed, 500*time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout waiting")
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		_, err := PollForEvent(cancelCtx, client, "p1", blackboard.EventQAPassed, 10*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPollForTaskStatus(t *testing.T) {
	client := setupWatchTest(t)
	ctx := context.Background()

	task := &blackboard.Task{
		ID:         uuid.New().String(),
		ProjectID:  "p1",
		Type:       "video.render",
		AssignedTo: "video-agent",
		Status:     blackboard.TaskStatusPending,
		MaxRetries: 3,
	}
	require.NoError(t, client.SaveTask(ctx, task))

	go func() {
		time.Sleep(300 * time.Millisecond)
		blackboard.Transition(task, blackboard.TaskStatusReady)
		blackboard.Transition(task, blackboard.TaskStatusRunning)
		blackboard.Transition(task, blackboard.TaskStatusCompleted)
		client.SaveTask(ctx, task)
	}()

	found, err := PollForTaskStatus(ctx, client, task.ID, blackboard.TaskStatusCompleted, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, blackboard.TaskStatusCompleted, found.Status)
}

func TestFormatLine(t *testing.T) {
	event := &blackboard.Event{
		ID:          uuid.New().String(),
		ProjectID:   "p1",
		Type:        blackboard.EventVideoRendered,
		Actor:       "video-agent",
		TimestampMs: time.Now().UnixMilli(),
		Payload:     json.RawMessage(`{"shot":"s3"}`),
	}

	line := FormatLine(event)
	assert.Contains(t, line, "video.rendered")
	assert.Contains(t, line, "project=p1")
	assert.Contains(t, line, "actor=video-agent")
	assert.Contains(t, line, `{"shot":"s3"}`)
}

func TestStream_FiltersByProject(t *testing.T) {
	client := setupWatchTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, client, out, "p1", blackboard.EventVideoRendered)
	}()

	time.Sleep(100 * time.Millisecond)

	_, err := client.PublishEvent(ctx, &blackboard.Event{
		ProjectID: "other",
		Type:      blackboard.EventVideoRendered,
		Actor:     "video-agent",
	})
	require.NoError(t, err)

	_, err = client.PublishEvent(ctx, &blackboard.Event{
		ProjectID: "p1",
		Type:      blackboard.EventVideoRendered,
		Actor:     "video-agent",
	})
	require.NoError(t, err)

	<-ctx.Done()
	require.NoError(t, <-done)

	text := out.String()
	assert.Contains(t, text, "project=p1")
	assert.NotContains(t, text, "project=other")
}

// syncBuffer is a goroutine-safe bytes.Buffer for capturing stream output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
