package blackboard

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// Error taxonomy for the coordination substrate.
//
// Callers branch on these sentinels with errors.Is; the concrete message is
// wrapped around them with fmt.Errorf("...: %w", ...) at the failure site.
var (
	// ErrNotFound indicates the requested record, event, task or approval
	// request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create collided with an existing entity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrLockBusy indicates the lock is held, unexpired, by someone else.
	ErrLockBusy = errors.New("lock busy")

	// ErrLockLost indicates the caller's token no longer owns the lock
	// (it expired or was taken over).
	ErrLockLost = errors.New("lock lost")

	// ErrInvalidTransition indicates a task status change the state machine
	// forbids. The task is left untouched.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrVersionConflict indicates a record mutation raced a concurrent writer;
	// the caller should re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDatabase wraps durable-store I/O failures. These propagate to the
	// orchestrator, which logs and retries on a later tick.
	ErrDatabase = errors.New("database error")
)

// IsNotFound returns true if the error is a not-found error from this package
// or a raw Redis miss (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil)
}

// IsAlreadyExists returns true if the error indicates a create collided with
// an existing entity.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsLockBusy returns true if the error indicates a held, unexpired lock.
func IsLockBusy(err error) bool {
	return errors.Is(err, ErrLockBusy)
}

// IsVersionConflict returns true if the error indicates a lost optimistic
// version check.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
