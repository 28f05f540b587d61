package blackboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Distributed lock on Redis
//
// A lock is a single key holding an opaque token with a TTL. Acquire is
// SET NX PX; release and extend verify token ownership and act in one Lua
// script, never as a separate check-then-act pair — after expiry the key may
// belong to someone else, and a stale holder must not release or extend a lock
// it no longer owns. Expiry is the crash-release path: a dead holder's lock
// frees itself when the TTL runs out.

// releaseLockScript deletes the lock only if the caller's token still owns it.
// Returns 1 on release, 0 when the token no longer matches.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// extendLockScript refreshes the TTL only if the caller's token still owns the
// lock. Returns 1 on extend, 0 when the token no longer matches.
var extendLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// AcquireLock attempts to take the named lock for ttl.
// Returns an opaque holder token on success, ErrLockBusy while the lock is
// held and unexpired by someone else. Acquisition is non-blocking: callers
// retry on their own cadence rather than waiting here.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("lock TTL must be positive, got %v", ttl)
	}

	token := uuid.New().String()
	key := DistLockKey(c.instanceName, lockKey)

	acquired, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: failed to acquire lock %s: %v", ErrDatabase, lockKey, err)
	}
	if !acquired {
		return "", fmt.Errorf("%w: %s", ErrLockBusy, lockKey)
	}

	return token, nil
}

// ReleaseLock releases the named lock if token still owns it.
// Returns held=false (and no error) when the token no longer matches — the
// lock expired or was taken over, and silent success must not be read as
// continued ownership.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) (held bool, err error) {
	key := DistLockKey(c.instanceName, lockKey)

	released, err := releaseLockScript.Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: failed to release lock %s: %v", ErrDatabase, lockKey, err)
	}

	return released == 1, nil
}

// ExtendLock refreshes the TTL of a held lock.
// Returns ErrLockLost when the token no longer owns the lock.
func (c *Client) ExtendLock(ctx context.Context, lockKey, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("lock TTL must be positive, got %v", ttl)
	}

	key := DistLockKey(c.instanceName, lockKey)

	extended, err := extendLockScript.Run(ctx, c.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: failed to extend lock %s: %v", ErrDatabase, lockKey, err)
	}
	if extended != 1 {
		return fmt.Errorf("%w: %s", ErrLockLost, lockKey)
	}

	return nil
}

// LockAvailable reports whether the named lock could be acquired right now.
// Purely advisory: the answer can be stale by the time the caller acts on it,
// so dispatch still has to handle ErrLockBusy from AcquireLock.
func (c *Client) LockAvailable(ctx context.Context, lockKey string) (bool, error) {
	key := DistLockKey(c.instanceName, lockKey)

	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to check lock %s: %v", ErrDatabase, lockKey, err)
	}

	return exists == 0, nil
}
