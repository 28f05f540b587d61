package blackboard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Approval request persistence
//
// An approval request is a hash plus two indexes: a project -> pending-request
// pointer (so decision events can find what they resolve) and a ZSET of
// pending requests scored by decision deadline (so the orchestrator can sweep
// expirations on its tick). Status is one-way terminal: PENDING may move to
// DECIDED or TIMED_OUT exactly once, enforced atomically.

// resolveApprovalScript moves a request out of PENDING exactly once.
// Returns 1 on success, 0 if the request was already resolved, -1 if missing.
var resolveApprovalScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -1
end
if status ~= 'pending' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'decision', ARGV[2], 'decided_at_ms', ARGV[3])
return 1
`)

// CreateApproval persists a new approval request and indexes it as the
// project's pending gate. Returns ErrAlreadyExists if the project already has
// a pending request - one gate at a time per project.
func (c *Client) CreateApproval(ctx context.Context, request *ApprovalRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("invalid approval request: %w", err)
	}

	indexKey := ApprovalByProjectKey(c.instanceName, request.ProjectID)

	// SETNX on the project index is the one-gate-per-project guard.
	created, err := c.rdb.SetNX(ctx, indexKey, request.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: failed to index approval for %s: %v", ErrDatabase, request.ProjectID, err)
	}
	if !created {
		return fmt.Errorf("%w: project %s already has a pending approval", ErrAlreadyExists, request.ProjectID)
	}

	key := ApprovalKey(c.instanceName, request.ID)
	if err := c.rdb.HSet(ctx, key, ApprovalToHash(request)).Err(); err != nil {
		return fmt.Errorf("%w: failed to write approval %s: %v", ErrDatabase, request.ID, err)
	}

	deadline := request.CreatedAtMs + int64(request.TimeoutMinutes)*time.Minute.Milliseconds()
	member := redis.Z{Score: float64(deadline), Member: request.ID}
	if err := c.rdb.ZAdd(ctx, PendingApprovalsKey(c.instanceName), member).Err(); err != nil {
		return fmt.Errorf("%w: failed to track pending approval %s: %v", ErrDatabase, request.ID, err)
	}

	return nil
}

// GetApproval retrieves an approval request by ID.
// Returns ErrNotFound if the request doesn't exist.
func (c *Client) GetApproval(ctx context.Context, requestID string) (*ApprovalRequest, error) {
	key := ApprovalKey(c.instanceName, requestID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read approval %s: %v", ErrDatabase, requestID, err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("%w: approval %s", ErrNotFound, requestID)
	}

	request, err := HashToApproval(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize approval %s: %w", requestID, err)
	}

	return request, nil
}

// PendingApprovalForProject returns the project's pending approval request.
// Returns ErrNotFound if the project has no pending gate.
func (c *Client) PendingApprovalForProject(ctx context.Context, projectID string) (*ApprovalRequest, error) {
	indexKey := ApprovalByProjectKey(c.instanceName, projectID)

	requestID, err := c.rdb.Get(ctx, indexKey).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: no pending approval for project %s", ErrNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to look up approval for %s: %v", ErrDatabase, projectID, err)
	}

	return c.GetApproval(ctx, requestID)
}

// ResolveApproval moves a pending request to a terminal status.
// to must be DECIDED (with a decision) or TIMED_OUT. The transition happens
// at most once: a second resolution is a no-op returning resolved=false.
func (c *Client) ResolveApproval(ctx context.Context, requestID string, to ApprovalStatus, decision Decision) (resolved bool, err error) {
	if to != ApprovalStatusDecided && to != ApprovalStatusTimedOut {
		return false, fmt.Errorf("approval status %q is not terminal", to)
	}
	if to == ApprovalStatusDecided {
		if err := decision.Validate(); err != nil {
			return false, err
		}
	}

	key := ApprovalKey(c.instanceName, requestID)
	decidedAt := strconv.FormatInt(time.Now().UnixMilli(), 10)

	result, err := resolveApprovalScript.Run(ctx, c.rdb,
		[]string{key}, string(to), string(decision), decidedAt).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: failed to resolve approval %s: %v", ErrDatabase, requestID, err)
	}

	switch result {
	case -1:
		return false, fmt.Errorf("%w: approval %s", ErrNotFound, requestID)
	case 0:
		return false, nil
	}

	// Drop the pending indexes; the request hash remains for audit.
	request, err := c.GetApproval(ctx, requestID)
	if err != nil {
		return true, err
	}

	if err := c.rdb.ZRem(ctx, PendingApprovalsKey(c.instanceName), requestID).Err(); err != nil {
		return true, fmt.Errorf("%w: failed to untrack approval %s: %v", ErrDatabase, requestID, err)
	}

	indexKey := ApprovalByProjectKey(c.instanceName, request.ProjectID)
	if err := c.rdb.Del(ctx, indexKey).Err(); err != nil {
		return true, fmt.Errorf("%w: failed to unindex approval %s: %v", ErrDatabase, requestID, err)
	}

	return true, nil
}

// DueApprovals returns the pending requests whose decision deadline has
// passed. The caller owns resolving them (TIMED_OUT) and publishing the
// timeout event.
func (c *Client) DueApprovals(ctx context.Context, now time.Time) ([]*ApprovalRequest, error) {
	key := PendingApprovalsKey(c.instanceName)

	rangeBy := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}

	requestIDs, err := c.rdb.ZRangeByScore(ctx, key, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan due approvals: %v", ErrDatabase, err)
	}

	requests := make([]*ApprovalRequest, 0, len(requestIDs))
	for _, requestID := range requestIDs {
		request, err := c.GetApproval(ctx, requestID)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}

	return requests, nil
}
