package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to enable
// multiple Callboard instances to safely coexist on a single Redis server.
//
// Key pattern: callboard:{instance_name}:{entity}:{id}
// Channel pattern: callboard:{instance_name}:{topic}

// EventKey returns the Redis key for an event hash.
// Pattern: callboard:{instance_name}:event:{event_id}
func EventKey(instanceName, eventID string) string {
	return fmt.Sprintf("callboard:%s:event:%s", instanceName, eventID)
}

// EventLogKey returns the Redis key for a project's ordered event log ZSET.
// Members are event IDs scored by the project's publish sequence number.
// Pattern: callboard:{instance_name}:events:{project_id}
func EventLogKey(instanceName, projectID string) string {
	return fmt.Sprintf("callboard:%s:events:%s", instanceName, projectID)
}

// EventSeqKey returns the Redis key for a project's event sequence counter.
// Pattern: callboard:{instance_name}:events:{project_id}:seq
func EventSeqKey(instanceName, projectID string) string {
	return fmt.Sprintf("callboard:%s:events:%s:seq", instanceName, projectID)
}

// EventTypeChannel returns the Pub/Sub channel for one event type.
// Subscribing per type gives strict type filtering for free.
// Pattern: callboard:{instance_name}:events:type:{type}
func EventTypeChannel(instanceName string, et EventType) string {
	return fmt.Sprintf("callboard:%s:events:type:%s", instanceName, et)
}

// RecordKey returns the Redis key for a blackboard record hash.
// Pattern: callboard:{instance_name}:record:{scope_id}
func RecordKey(instanceName, scopeID string) string {
	return fmt.Sprintf("callboard:%s:record:%s", instanceName, scopeID)
}

// ChangeLogKey returns the Redis key for a record's audit log LIST.
// Pattern: callboard:{instance_name}:record:{scope_id}:changelog
func ChangeLogKey(instanceName, scopeID string) string {
	return fmt.Sprintf("callboard:%s:record:%s:changelog", instanceName, scopeID)
}

// DistLockKey returns the Redis key for a named distributed lock.
// Pattern: callboard:{instance_name}:lock:{lock_key}
func DistLockKey(instanceName, lockKey string) string {
	return fmt.Sprintf("callboard:%s:lock:%s", instanceName, lockKey)
}

// TaskKey returns the Redis key for a task hash.
// Pattern: callboard:{instance_name}:task:{task_id}
func TaskKey(instanceName, taskID string) string {
	return fmt.Sprintf("callboard:%s:task:%s", instanceName, taskID)
}

// TaskQueueKey returns the Redis key for the priority queue ZSET.
// Members are task IDs scored by priority and enqueue time.
// Pattern: callboard:{instance_name}:taskqueue
func TaskQueueKey(instanceName string) string {
	return fmt.Sprintf("callboard:%s:taskqueue", instanceName)
}

// RunningTasksKey returns the Redis key for the running-task index ZSET,
// scored by dispatch time (unix ms). The orchestrator sweeps it each tick to
// fail tasks whose worker went silent; because the index is durable, a
// restarted orchestrator still sweeps tasks dispatched by its predecessor.
// Pattern: callboard:{instance_name}:tasks:running
func RunningTasksKey(instanceName string) string {
	return fmt.Sprintf("callboard:%s:tasks:running", instanceName)
}

// TaskArchiveKey returns the Redis key for the terminal-task archive ZSET,
// scored by completion time.
// Pattern: callboard:{instance_name}:task_archive
func TaskArchiveKey(instanceName string) string {
	return fmt.Sprintf("callboard:%s:task_archive", instanceName)
}

// ApprovalKey returns the Redis key for an approval request hash.
// Pattern: callboard:{instance_name}:approval:{request_id}
func ApprovalKey(instanceName, requestID string) string {
	return fmt.Sprintf("callboard:%s:approval:%s", instanceName, requestID)
}

// PendingApprovalsKey returns the Redis key for the pending-approvals ZSET,
// scored by decision deadline (unix ms). The orchestrator sweeps it each tick.
// Pattern: callboard:{instance_name}:approvals:pending
func PendingApprovalsKey(instanceName string) string {
	return fmt.Sprintf("callboard:%s:approvals:pending", instanceName)
}

// ApprovalByProjectKey returns the Redis key for the project -> pending request
// index. This enables decision events to find the request they resolve.
// Pattern: callboard:{instance_name}:approval_by_project:{project_id}
func ApprovalByProjectKey(instanceName, projectID string) string {
	return fmt.Sprintf("callboard:%s:approval_by_project:%s", instanceName, projectID)
}

// WorkerEventsChannel returns the worker-specific event channel name.
// Used by the scheduler to publish dispatch notifications to individual workers.
// Pattern: callboard:{instance_name}:worker:{worker_name}:events
func WorkerEventsChannel(instanceName, workerName string) string {
	return fmt.Sprintf("callboard:%s:worker:%s:events", instanceName, workerName)
}

// ProjectsKey returns the Redis key for the SET of known project IDs.
// Pattern: callboard:{instance_name}:projects
func ProjectsKey(instanceName string) string {
	return fmt.Sprintf("callboard:%s:projects", instanceName)
}

// ProjectScope returns the scope ID of a project's root record.
func ProjectScope(projectID string) string {
	return fmt.Sprintf("project:%s", projectID)
}

// ShotScope returns the scope ID of a single shot's record.
func ShotScope(projectID, episodeID, shotID string) string {
	return fmt.Sprintf("project:%s:episode:%s:shot:%s", projectID, episodeID, shotID)
}

// ResourceLock returns the canonical lock key for a named project resource.
// Pattern: project:{project_id}:resource:{resource}
func ResourceLock(projectID, resource string) string {
	return fmt.Sprintf("project:%s:resource:%s", projectID, resource)
}
