package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the blackboard.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
//
// Records are cached in-process. A cached record is only served after its
// version is revalidated against Redis, so a stale entry is detected and
// refreshed rather than trusted; the cache saves full-record reads, never
// round trips on correctness.
type Client struct {
	rdb          *redis.Client
	instanceName string

	mu    sync.RWMutex
	cache map[string]*Record // scopeID -> last known record
}

// updateFieldScript atomically verifies the record version, patches one hash
// field and bumps the version. Returns the new version, -1 if the record does
// not exist, -2 on version mismatch.
var updateFieldScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
	return -1
end
if v ~= ARGV[1] then
	return -2
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
return redis.call('HINCRBY', KEYS[1], 'version', 1)
`)

// NewClient creates a new blackboard client for the specified instance.
// The client automatically namespaces all keys and channels with the instance name.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Callboard instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		cache:        make(map[string]*Record),
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
// Returns an error if Redis is not reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// RedisClient exposes the underlying Redis client for advanced operations.
// Used by tests and the CLI; production code should prefer the typed methods.
func (c *Client) RedisClient() *redis.Client {
	return c.rdb
}

// InstanceName returns the instance this client is namespaced to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// CreateRecord creates a new versioned record at the given scope.
// Returns ErrAlreadyExists if a record already exists there.
// The record starts at version 1 with the provided sub-documents, and the
// creation is recorded in the scope's change log.
func (c *Client) CreateRecord(ctx context.Context, scopeID, actor string, docs map[string]json.RawMessage) (*Record, error) {
	key := RecordKey(c.instanceName, scopeID)

	// HSETNX on the scope_id field is the atomic existence guard: exactly one
	// creator wins, everyone else sees AlreadyExists.
	created, err := c.rdb.HSetNX(ctx, key, "scope_id", scopeID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create record %s: %v", ErrDatabase, scopeID, err)
	}
	if !created {
		return nil, fmt.Errorf("%w: record %s", ErrAlreadyExists, scopeID)
	}

	record := &Record{
		ScopeID: scopeID,
		Version: 1,
		Docs:    docs,
	}

	if err := c.rdb.HSet(ctx, key, RecordToHash(record)).Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to write record %s: %v", ErrDatabase, scopeID, err)
	}

	if projectID, ok := strings.CutPrefix(scopeID, "project:"); ok && !strings.Contains(projectID, ":") {
		if err := c.rdb.SAdd(ctx, ProjectsKey(c.instanceName), projectID).Err(); err != nil {
			return nil, fmt.Errorf("%w: failed to index project %s: %v", ErrDatabase, projectID, err)
		}
	}

	c.appendChangeLog(ctx, scopeID, ChangeEntry{
		Actor:       actor,
		Change:      "create",
		Version:     1,
		TimestampMs: time.Now().UnixMilli(),
	})

	c.cachePut(record)
	return record, nil
}

// GetRecord retrieves the record at the given scope.
// A cached copy is revalidated by comparing its version against Redis; on a
// match the cached record is returned, otherwise the record is re-read and
// the cache repopulated. Returns ErrNotFound if the record never existed.
func (c *Client) GetRecord(ctx context.Context, scopeID string) (*Record, error) {
	key := RecordKey(c.instanceName, scopeID)

	if cached := c.cacheGet(scopeID); cached != nil {
		current, err := c.rdb.HGet(ctx, key, "version").Result()
		if err == redis.Nil {
			// Deleted underneath us; drop the stale entry.
			c.cacheInvalidate(scopeID)
			return nil, fmt.Errorf("%w: record %s", ErrNotFound, scopeID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to revalidate record %s: %v", ErrDatabase, scopeID, err)
		}
		if version, parseErr := strconv.ParseInt(current, 10, 64); parseErr == nil && version == cached.Version {
			return cached, nil
		}
		c.cacheInvalidate(scopeID)
	}

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read record %s: %v", ErrDatabase, scopeID, err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, scopeID)
	}

	record, err := HashToRecord(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize record %s: %w", scopeID, err)
	}

	c.cachePut(record)
	return record, nil
}

// RecordExists checks if a record exists without fetching it.
func (c *Client) RecordExists(ctx context.Context, scopeID string) (bool, error) {
	key := RecordKey(c.instanceName, scopeID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to check record existence: %v", ErrDatabase, err)
	}
	return exists > 0, nil
}

// UpdateOptions controls how UpdateRecordField performs a mutation.
type UpdateOptions struct {
	Actor        string        // Recorded in the change log
	RequiresLock bool          // Serialize the update behind a (scope, path) lock
	LockTTL      time.Duration // Lock TTL when RequiresLock is set (default 10s)
}

// UpdateRecordField patches one sub-document of a record.
//
// The patch is an atomic compare-and-set: the record's version is verified and
// bumped in the same Redis script, so a concurrent writer surfaces as
// ErrVersionConflict and the caller re-reads and retries. With
// opts.RequiresLock the whole read-modify-write is additionally serialized
// behind a lock scoped to (scopeID, path). Every successful update appends an
// audit entry to the record's change log and invalidates the local cache entry.
func (c *Client) UpdateRecordField(ctx context.Context, scopeID, path string, value json.RawMessage, opts UpdateOptions) (*Record, error) {
	if opts.RequiresLock {
		ttl := opts.LockTTL
		if ttl == 0 {
			ttl = 10 * time.Second
		}

		token, err := c.AcquireLock(ctx, scopeID+":"+path, ttl)
		if err != nil {
			return nil, err
		}
		defer func() {
			if _, err := c.ReleaseLock(context.WithoutCancel(ctx), scopeID+":"+path, token); err != nil {
				log.Printf("[Blackboard] Failed to release update lock for %s/%s: %v", scopeID, path, err)
			}
		}()
	}

	record, err := c.GetRecord(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	newVersion, err := c.runFieldPatch(ctx, scopeID, record.Version, docFieldPrefix+path, string(value))
	if err != nil {
		return nil, err
	}

	c.appendChangeLog(ctx, scopeID, ChangeEntry{
		Actor:       opts.Actor,
		Change:      "update_field",
		Path:        path,
		Payload:     value,
		Version:     newVersion,
		TimestampMs: time.Now().UnixMilli(),
	})

	c.cacheInvalidate(scopeID)

	updated := &Record{
		ScopeID: record.ScopeID,
		Version: newVersion,
		Paused:  record.Paused,
		Docs:    make(map[string]json.RawMessage, len(record.Docs)+1),
	}
	for name, doc := range record.Docs {
		updated.Docs[name] = doc
	}
	updated.Docs[path] = value

	c.cachePut(updated)
	return updated, nil
}

// SetPaused durably flips the approval-gate pause flag on a project's record,
// creating the record if the project has none yet. The change is audited like
// any other record mutation.
func (c *Client) SetPaused(ctx context.Context, projectID, actor string, paused bool) error {
	scopeID := ProjectScope(projectID)

	for attempt := 0; attempt < 3; attempt++ {
		record, err := c.GetRecord(ctx, scopeID)
		if IsNotFound(err) {
			record, err = c.CreateRecord(ctx, scopeID, actor, nil)
			if errors.Is(err, ErrAlreadyExists) {
				// Lost the create race; re-read on the next attempt.
				continue
			}
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		change := "pause"
		if !paused {
			change = "resume"
		}

		newVersion, err := c.runFieldPatch(ctx, scopeID, record.Version, "paused", strconv.FormatBool(paused))
		if IsVersionConflict(err) {
			continue
		}
		if err != nil {
			return err
		}

		c.appendChangeLog(ctx, scopeID, ChangeEntry{
			Actor:       actor,
			Change:      change,
			Version:     newVersion,
			TimestampMs: time.Now().UnixMilli(),
		})

		c.cacheInvalidate(scopeID)
		return nil
	}

	return fmt.Errorf("%w: record %s", ErrVersionConflict, scopeID)
}

// IsPaused reports whether a project is paused on an approval gate.
// A project with no record yet is not paused.
func (c *Client) IsPaused(ctx context.Context, projectID string) (bool, error) {
	record, err := c.GetRecord(ctx, ProjectScope(projectID))
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.Paused, nil
}

// GetChangeLog returns the most recent change log entries for a scope, newest
// first. limit <= 0 returns the full log.
func (c *Client) GetChangeLog(ctx context.Context, scopeID string, limit int64) ([]ChangeEntry, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}

	raw, err := c.rdb.LRange(ctx, ChangeLogKey(c.instanceName, scopeID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read change log for %s: %v", ErrDatabase, scopeID, err)
	}

	entries := make([]ChangeEntry, 0, len(raw))
	for _, item := range raw {
		var entry ChangeEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal change log entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ListProjects returns the IDs of every project known to this instance.
func (c *Client) ListProjects(ctx context.Context) ([]string, error) {
	projects, err := c.rdb.SMembers(ctx, ProjectsKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list projects: %v", ErrDatabase, err)
	}
	return projects, nil
}

// runFieldPatch executes the compare-and-set field patch script.
func (c *Client) runFieldPatch(ctx context.Context, scopeID string, expectedVersion int64, field, value string) (int64, error) {
	key := RecordKey(c.instanceName, scopeID)

	result, err := updateFieldScript.Run(ctx, c.rdb,
		[]string{key},
		strconv.FormatInt(expectedVersion, 10), field, value).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to patch record %s: %v", ErrDatabase, scopeID, err)
	}

	switch result {
	case -1:
		return 0, fmt.Errorf("%w: record %s", ErrNotFound, scopeID)
	case -2:
		return 0, fmt.Errorf("%w: record %s at version %d", ErrVersionConflict, scopeID, expectedVersion)
	default:
		return result, nil
	}
}

// appendChangeLog appends an audit entry to the scope's change log.
// The log is an audit trail, not a correctness dependency: failures are
// logged and swallowed so they never fail the mutation they describe.
func (c *Client) appendChangeLog(ctx context.Context, scopeID string, entry ChangeEntry) {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[Blackboard] Failed to marshal change log entry for %s: %v", scopeID, err)
		return
	}

	if err := c.rdb.LPush(ctx, ChangeLogKey(c.instanceName, scopeID), entryJSON).Err(); err != nil {
		log.Printf("[Blackboard] Failed to append change log for %s: %v", scopeID, err)
	}
}

// cacheGet returns the cached record for a scope, or nil.
func (c *Client) cacheGet(scopeID string) *Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache[scopeID]
}

// cachePut stores a record in the cache.
func (c *Client) cachePut(record *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[record.ScopeID] = record
}

// cacheInvalidate drops all cached state for a scope.
func (c *Client) cacheInvalidate(scopeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, scopeID)
}
