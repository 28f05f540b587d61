package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// arrays and opaque payloads are JSON-encoded into single hash fields. Record
// sub-documents get one hash field each ("doc:{name}") so a single sub-document
// can be patched atomically without rewriting its siblings.

// EventToHash converts an Event struct to a Redis hash format.
// The payload is stored verbatim; metadata is JSON-encoded.
func EventToHash(e *Event) (map[string]interface{}, error) {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	hash := map[string]interface{}{
		"event_id":           e.ID,
		"project_id":         e.ProjectID,
		"type":               string(e.Type),
		"actor":              e.Actor,
		"causation_id":       e.CausationID,
		"timestamp_ms":       e.TimestampMs,
		"payload":            string(e.Payload),
		"blackboard_pointer": e.BlackboardPointer,
		"metadata":           string(metadataJSON),
	}

	return hash, nil
}

// HashToEvent converts a Redis hash to an Event struct.
func HashToEvent(hash map[string]string) (*Event, error) {
	timestampMs, err := strconv.ParseInt(hash["timestamp_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp_ms field: %w", err)
	}

	var metadata map[string]string
	if metadataJSON := hash["metadata"]; metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	event := &Event{
		ID:                hash["event_id"],
		ProjectID:         hash["project_id"],
		Type:              EventType(hash["type"]),
		Actor:             hash["actor"],
		CausationID:       hash["causation_id"],
		TimestampMs:       timestampMs,
		Payload:           rawMessage(hash["payload"]),
		BlackboardPointer: hash["blackboard_pointer"],
		Metadata:          metadata,
	}

	return event, nil
}

// TaskToHash converts a Task struct to a Redis hash format.
// Array fields (dependencies) are JSON-encoded; payloads are stored verbatim.
func TaskToHash(t *Task) (map[string]interface{}, error) {
	depsJSON, err := json.Marshal(t.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dependencies: %w", err)
	}

	hash := map[string]interface{}{
		"task_id":            t.ID,
		"project_id":         t.ProjectID,
		"type":               t.Type,
		"assigned_to":        t.AssignedTo,
		"status":             string(t.Status),
		"priority":           t.Priority,
		"input":              string(t.Input),
		"output":             string(t.Output),
		"dependencies":       string(depsJSON),
		"requires_lock":      strconv.FormatBool(t.RequiresLock),
		"lock_key":           t.LockKey,
		"estimated_cost":     formatCost(t.EstimatedCost),
		"actual_cost":        formatCost(t.ActualCost),
		"created_at_ms":      t.CreatedAtMs,
		"started_at_ms":      t.StartedAtMs,
		"completed_at_ms":    t.CompletedAtMs,
		"causation_event_id": t.CausationEventID,
		"retry_count":        t.RetryCount,
		"max_retries":        t.MaxRetries,
		"error_message":      t.ErrorMessage,
	}

	return hash, nil
}

// HashToTask converts a Redis hash to a Task struct.
// JSON fields are decoded back to Go types.
func HashToTask(hash map[string]string) (*Task, error) {
	priority, err := strconv.Atoi(hash["priority"])
	if err != nil {
		return nil, fmt.Errorf("invalid priority field: %w", err)
	}

	var dependencies []string
	if depsJSON := hash["dependencies"]; depsJSON != "" {
		if err := json.Unmarshal([]byte(depsJSON), &dependencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
		}
	}

	// Ensure we have an empty slice instead of nil for consistency
	if dependencies == nil {
		dependencies = []string{}
	}

	requiresLock, _ := strconv.ParseBool(hash["requires_lock"])
	estimatedCost, _ := strconv.ParseFloat(hash["estimated_cost"], 64)
	actualCost, _ := strconv.ParseFloat(hash["actual_cost"], 64)
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	startedAtMs, _ := strconv.ParseInt(hash["started_at_ms"], 10, 64)
	completedAtMs, _ := strconv.ParseInt(hash["completed_at_ms"], 10, 64)
	retryCount, _ := strconv.Atoi(hash["retry_count"])
	maxRetries, _ := strconv.Atoi(hash["max_retries"])

	task := &Task{
		ID:               hash["task_id"],
		ProjectID:        hash["project_id"],
		Type:             hash["type"],
		AssignedTo:       hash["assigned_to"],
		Status:           TaskStatus(hash["status"]),
		Priority:         priority,
		Input:            rawMessage(hash["input"]),
		Output:           rawMessage(hash["output"]),
		Dependencies:     dependencies,
		RequiresLock:     requiresLock,
		LockKey:          hash["lock_key"],
		EstimatedCost:    estimatedCost,
		ActualCost:       actualCost,
		CreatedAtMs:      createdAtMs,
		StartedAtMs:      startedAtMs,
		CompletedAtMs:    completedAtMs,
		CausationEventID: hash["causation_event_id"],
		RetryCount:       retryCount,
		MaxRetries:       maxRetries,
		ErrorMessage:     hash["error_message"],
	}

	return task, nil
}

// docFieldPrefix namespaces record sub-documents inside the record hash so a
// single sub-document can be patched with one HSET.
const docFieldPrefix = "doc:"

// RecordToHash converts a Record struct to a Redis hash format.
// Each sub-document becomes its own "doc:{name}" hash field.
func RecordToHash(r *Record) map[string]interface{} {
	hash := map[string]interface{}{
		"scope_id": r.ScopeID,
		"version":  r.Version,
		"paused":   strconv.FormatBool(r.Paused),
	}

	for name, doc := range r.Docs {
		hash[docFieldPrefix+name] = string(doc)
	}

	return hash
}

// HashToRecord converts a Redis hash to a Record struct.
func HashToRecord(hash map[string]string) (*Record, error) {
	version, err := strconv.ParseInt(hash["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version field: %w", err)
	}

	paused, _ := strconv.ParseBool(hash["paused"])

	docs := make(map[string]json.RawMessage)
	for field, value := range hash {
		if name, ok := strings.CutPrefix(field, docFieldPrefix); ok {
			docs[name] = rawMessage(value)
		}
	}

	record := &Record{
		ScopeID: hash["scope_id"],
		Version: version,
		Paused:  paused,
		Docs:    docs,
	}

	return record, nil
}

// ApprovalToHash converts an ApprovalRequest struct to a Redis hash format.
func ApprovalToHash(r *ApprovalRequest) map[string]interface{} {
	return map[string]interface{}{
		"request_id":      r.ID,
		"project_id":      r.ProjectID,
		"reason":          r.Reason,
		"context":         string(r.Context),
		"status":          string(r.Status),
		"created_at_ms":   r.CreatedAtMs,
		"timeout_minutes": r.TimeoutMinutes,
		"decision":        string(r.Decision),
		"decided_at_ms":   r.DecidedAtMs,
	}
}

// HashToApproval converts a Redis hash to an ApprovalRequest struct.
func HashToApproval(hash map[string]string) (*ApprovalRequest, error) {
	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	timeoutMinutes, _ := strconv.Atoi(hash["timeout_minutes"])
	decidedAtMs, _ := strconv.ParseInt(hash["decided_at_ms"], 10, 64)

	request := &ApprovalRequest{
		ID:             hash["request_id"],
		ProjectID:      hash["project_id"],
		Reason:         hash["reason"],
		Context:        rawMessage(hash["context"]),
		Status:         ApprovalStatus(hash["status"]),
		CreatedAtMs:    createdAtMs,
		TimeoutMinutes: timeoutMinutes,
		Decision:       Decision(hash["decision"]),
		DecidedAtMs:    decidedAtMs,
	}

	return request, nil
}

// rawMessage converts a stored payload string back to json.RawMessage,
// mapping "" to nil so round-trips preserve unset payloads.
func rawMessage(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

// formatCost renders a cost as a stable decimal string for hash storage.
func formatCost(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
