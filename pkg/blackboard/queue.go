package blackboard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persistent priority task queue on a Redis ZSET
//
// Members are task IDs scored by priority and enqueue time; the task bodies
// live in their own hashes. The queue is an index over durable task state:
// after a crash it could be rebuilt from task hashes plus event replay.
//
// Score formula: -priority*priorityScoreBase + enqueueUnixMillis, popped
// lowest-first. priorityScoreBase exceeds any epoch-milliseconds value until
// the year 2286, so priority always dominates and enqueue time only breaks
// ties (earlier enqueue pops first). With priorities below ~900 both terms
// stay below 2^53, so the float64 ZSET score is exact.
const priorityScoreBase = 1e13

// queueScore computes the ZSET score for a task enqueued at the given time.
func queueScore(priority int, enqueuedAt time.Time) float64 {
	return -float64(priority)*priorityScoreBase + float64(enqueuedAt.UnixMilli())
}

// SaveTask validates and persists a task hash.
// Full replacement; used on creation and on every status/output mutation.
func (c *Client) SaveTask(ctx context.Context, task *Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	hash, err := TaskToHash(task)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	key := TaskKey(c.instanceName, task.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("%w: failed to write task %s: %v", ErrDatabase, task.ID, err)
	}

	return nil
}

// GetTask retrieves a task by ID.
// Returns ErrNotFound if the task doesn't exist.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	key := TaskKey(c.instanceName, taskID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read task %s: %v", ErrDatabase, taskID, err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}

	task, err := HashToTask(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize task %s: %w", taskID, err)
	}

	return task, nil
}

// EnqueueTask persists a task and adds it to the priority queue.
// Idempotent: re-enqueueing an already queued task keeps its original score,
// so its place in line never resets.
func (c *Client) EnqueueTask(ctx context.Context, task *Task) error {
	if err := c.SaveTask(ctx, task); err != nil {
		return err
	}

	member := redis.Z{
		Score:  queueScore(task.Priority, time.Now()),
		Member: task.ID,
	}

	key := TaskQueueKey(c.instanceName)
	if err := c.rdb.ZAddNX(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("%w: failed to enqueue task %s: %v", ErrDatabase, task.ID, err)
	}

	return nil
}

// DequeueTask atomically pops the highest-priority task from the queue.
// Returns (nil, nil) when the queue is empty.
func (c *Client) DequeueTask(ctx context.Context) (*Task, error) {
	key := TaskQueueKey(c.instanceName)

	popped, err := c.rdb.ZPopMin(ctx, key, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to pop task queue: %v", ErrDatabase, err)
	}

	if len(popped) == 0 {
		return nil, nil
	}

	taskID, ok := popped[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected queue member type %T", popped[0].Member)
	}

	return c.GetTask(ctx, taskID)
}

// PeekTask returns the highest-priority task without removing it.
// Returns (nil, nil) when the queue is empty.
func (c *Client) PeekTask(ctx context.Context) (*Task, error) {
	key := TaskQueueKey(c.instanceName)

	members, err := c.rdb.ZRange(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to peek task queue: %v", ErrDatabase, err)
	}

	if len(members) == 0 {
		return nil, nil
	}

	return c.GetTask(ctx, members[0])
}

// RemoveTask removes a task from the queue without touching its hash.
// Returns true if the task was queued.
func (c *Client) RemoveTask(ctx context.Context, taskID string) (bool, error) {
	key := TaskQueueKey(c.instanceName)

	removed, err := c.rdb.ZRem(ctx, key, taskID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to remove task %s from queue: %v", ErrDatabase, taskID, err)
	}

	return removed > 0, nil
}

// QueuedTasksByProject returns the queued tasks belonging to one project, in
// queue order, without removing anything.
func (c *Client) QueuedTasksByProject(ctx context.Context, projectID string) ([]*Task, error) {
	key := TaskQueueKey(c.instanceName)

	taskIDs, err := c.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read task queue: %v", ErrDatabase, err)
	}

	var tasks []*Task
	for _, taskID := range taskIDs {
		task, err := c.GetTask(ctx, taskID)
		if IsNotFound(err) {
			// Queue entry outlived its task hash; skip rather than fail the scan.
			continue
		}
		if err != nil {
			return nil, err
		}

		if task.ProjectID == projectID {
			tasks = append(tasks, task)
		}
	}

	return tasks, nil
}

// QueueSize returns the number of queued tasks.
func (c *Client) QueueSize(ctx context.Context) (int64, error) {
	size, err := c.rdb.ZCard(ctx, TaskQueueKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to size task queue: %v", ErrDatabase, err)
	}
	return size, nil
}

// QueueEmpty reports whether the queue has no tasks.
func (c *Client) QueueEmpty(ctx context.Context) (bool, error) {
	size, err := c.QueueSize(ctx)
	if err != nil {
		return false, err
	}
	return size == 0, nil
}

// ClearQueue drops every queued entry. Task hashes are untouched.
func (c *Client) ClearQueue(ctx context.Context) error {
	if err := c.rdb.Del(ctx, TaskQueueKey(c.instanceName)).Err(); err != nil {
		return fmt.Errorf("%w: failed to clear task queue: %v", ErrDatabase, err)
	}
	return nil
}

// TrackRunning records a task in the running-task index, scored by its
// dispatch time. Re-tracking a retried task overwrites the score, so each
// attempt is judged by its own dispatch.
func (c *Client) TrackRunning(ctx context.Context, taskID string, dispatchedAt time.Time) error {
	member := redis.Z{
		Score:  float64(dispatchedAt.UnixMilli()),
		Member: taskID,
	}

	if err := c.rdb.ZAdd(ctx, RunningTasksKey(c.instanceName), member).Err(); err != nil {
		return fmt.Errorf("%w: failed to track running task %s: %v", ErrDatabase, taskID, err)
	}

	return nil
}

// UntrackRunning removes a task from the running-task index. A task that was
// never tracked is a no-op.
func (c *Client) UntrackRunning(ctx context.Context, taskID string) error {
	if err := c.rdb.ZRem(ctx, RunningTasksKey(c.instanceName), taskID).Err(); err != nil {
		return fmt.Errorf("%w: failed to untrack running task %s: %v", ErrDatabase, taskID, err)
	}
	return nil
}

// RunningTaskIDs returns every task ID in the running-task index, oldest
// dispatch first.
func (c *Client) RunningTaskIDs(ctx context.Context) ([]string, error) {
	taskIDs, err := c.rdb.ZRange(ctx, RunningTasksKey(c.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read running task index: %v", ErrDatabase, err)
	}
	return taskIDs, nil
}

// OverdueRunning returns the tracked tasks whose dispatch happened at or
// before the cutoff. Index entries whose task hash has vanished are dropped.
// The caller owns resolving the tasks (timing them out, or untracking entries
// that already left RUNNING).
func (c *Client) OverdueRunning(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	key := RunningTasksKey(c.instanceName)

	rangeBy := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}

	taskIDs, err := c.rdb.ZRangeByScore(ctx, key, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan running task index: %v", ErrDatabase, err)
	}

	tasks := make([]*Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		task, err := c.GetTask(ctx, taskID)
		if IsNotFound(err) {
			if err := c.UntrackRunning(ctx, taskID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// ArchiveTask records a terminal task in the archive index and drops any
// remaining queue entry. The task hash itself is retained for audit.
func (c *Client) ArchiveTask(ctx context.Context, task *Task) error {
	if !task.Status.Terminal() {
		return fmt.Errorf("cannot archive non-terminal task %s (status %s)", task.ID, task.Status)
	}

	member := redis.Z{
		Score:  float64(task.CompletedAtMs),
		Member: task.ID,
	}

	if err := c.rdb.ZAdd(ctx, TaskArchiveKey(c.instanceName), member).Err(); err != nil {
		return fmt.Errorf("%w: failed to archive task %s: %v", ErrDatabase, task.ID, err)
	}

	if _, err := c.RemoveTask(ctx, task.ID); err != nil {
		return err
	}

	return nil
}

// ArchivedTasks returns the most recently completed tasks, newest first.
// limit <= 0 returns the full archive.
func (c *Client) ArchivedTasks(ctx context.Context, limit int64) ([]*Task, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}

	taskIDs, err := c.rdb.ZRevRange(ctx, TaskArchiveKey(c.instanceName), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read task archive: %v", ErrDatabase, err)
	}

	tasks := make([]*Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		task, err := c.GetTask(ctx, taskID)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}
